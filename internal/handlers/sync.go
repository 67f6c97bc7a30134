package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/ledger"
	"bank-reconciliation-backend/internal/services/ledgersync"
)

func (h *ReconciliationHandler) StartSync(c *gin.Context) {
	var payload struct {
		BaseURL        string     `json:"base_url"`
		APIKey         string     `json:"api_key"`
		AccountNumber  string     `json:"account_number"`
		DepartmentID   uuid.UUID  `json:"department_id"`
		OrganizationID *uuid.UUID `json:"organization_id"`
		DateFrom       string     `json:"date_from"`
		DateTo         string     `json:"date_to"`
		TimeoutSeconds int        `json:"timeout_seconds"`
		AutoCategorize bool       `json:"auto_categorize"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	req := ledgersync.StartRequest{
		Connection: ledger.Connection{
			BaseURL:       payload.BaseURL,
			APIKey:        payload.APIKey,
			AccountNumber: payload.AccountNumber,
		},
		DepartmentID:   payload.DepartmentID,
		OrganizationID: payload.OrganizationID,
		Timeout:        time.Duration(payload.TimeoutSeconds) * time.Second,
		AutoCategorize: payload.AutoCategorize,
	}
	var err error
	if req.DateFrom, err = parseDate("date_from", payload.DateFrom); err != nil {
		badRequest(c, err.Error())
		return
	}
	if req.DateTo, err = parseDate("date_to", payload.DateTo); err != nil {
		badRequest(c, err.Error())
		return
	}

	task, err := h.sync.Start(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

func (h *ReconciliationHandler) SyncStatus(c *gin.Context) {
	id, ok := pathID(c, "taskId")
	if !ok {
		return
	}
	task, err := h.sync.Status(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}
