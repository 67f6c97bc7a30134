package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/models"
)

func (h *ReconciliationHandler) CreateExpense(c *gin.Context) {
	var payload struct {
		DepartmentID      uuid.UUID       `json:"department_id"`
		OrganizationID    *uuid.UUID      `json:"organization_id"`
		CategoryID        *uuid.UUID      `json:"category_id"`
		Amount            decimal.Decimal `json:"amount"`
		ExpenseDate       string          `json:"expense_date"`
		CounterpartyName  string          `json:"counterparty_name"`
		CounterpartyTaxID string          `json:"counterparty_tax_id"`
		Description       string          `json:"description"`
		DocumentNumber    string          `json:"document_number"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	date, err := parseDate("expense_date", payload.ExpenseDate)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	expense := &models.Expense{
		DepartmentID:      payload.DepartmentID,
		OrganizationID:    payload.OrganizationID,
		CategoryID:        payload.CategoryID,
		Amount:            payload.Amount,
		CounterpartyName:  strings.TrimSpace(payload.CounterpartyName),
		CounterpartyTaxID: strings.TrimSpace(payload.CounterpartyTaxID),
		Description:       payload.Description,
		DocumentNumber:    strings.TrimSpace(payload.DocumentNumber),
	}
	if date != nil {
		expense.ExpenseDate = *date
	}
	if err := h.service.CreateExpense(c.Request.Context(), expense); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "expense created", "expense": expense})
}

func (h *ReconciliationHandler) ListExpenses(c *gin.Context) {
	dept, err := queryUUID(c, "department_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	expenses, err := h.service.ListExpenses(c.Request.Context(), dept, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": expenses})
}

func (h *ReconciliationHandler) UploadExpenses(c *gin.Context) {
	name, data, err := readUpload(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	dept, err := formUUID(c, "department_id")
	if err != nil || dept == nil {
		badRequest(c, "department_id is required")
		return
	}
	org, err := formUUID(c, "organization_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	res, err := h.service.UploadExpenses(c.Request.Context(), name, data, *dept, org)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *ReconciliationHandler) CreateCategory(c *gin.Context) {
	var payload struct {
		DepartmentID *uuid.UUID `json:"department_id"`
		Code         string     `json:"code"`
		Name         string     `json:"name"`
		Keywords     []string   `json:"keywords"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	category := &models.BudgetCategory{
		DepartmentID: payload.DepartmentID,
		Code:         payload.Code,
		Name:         payload.Name,
		Keywords:     payload.Keywords,
	}
	if err := h.service.CreateCategory(c.Request.Context(), category); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "category created", "category": category})
}

func (h *ReconciliationHandler) ListCategories(c *gin.Context) {
	dept, err := queryUUID(c, "department_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	categories, err := h.service.ListCategories(c.Request.Context(), dept)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": categories})
}
