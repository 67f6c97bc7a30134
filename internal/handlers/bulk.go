package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/models"
	service "bank-reconciliation-backend/internal/services/reconciliation"
)

type bulkPayload struct {
	IDs          []uuid.UUID `json:"ids"`
	DepartmentID *uuid.UUID  `json:"department_id"`
}

func (h *ReconciliationHandler) BulkCategorize(c *gin.Context) {
	var payload struct {
		bulkPayload
		CategoryID uuid.UUID `json:"category_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	if payload.CategoryID == uuid.Nil {
		badRequest(c, "category_id is required")
		return
	}

	res, err := h.service.BulkCategorize(c.Request.Context(), service.BulkCategorizeRequest{
		IDs:          payload.IDs,
		CategoryID:   payload.CategoryID,
		DepartmentID: payload.DepartmentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ReconciliationHandler) BulkUpdateStatus(c *gin.Context) {
	var payload struct {
		bulkPayload
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	res, err := h.service.BulkUpdateStatus(c.Request.Context(), service.BulkStatusRequest{
		IDs:          payload.IDs,
		Status:       models.TransactionStatus(strings.ToUpper(payload.Status)),
		DepartmentID: payload.DepartmentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ReconciliationHandler) BulkDelete(c *gin.Context) {
	var payload bulkPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	res, err := h.service.BulkDelete(c.Request.Context(), service.BulkDeleteRequest{
		IDs:          payload.IDs,
		DepartmentID: payload.DepartmentID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
