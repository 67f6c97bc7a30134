package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/patterns"
	service "bank-reconciliation-backend/internal/services/reconciliation"
)

// versioned is embedded by every mutation body; version is the optional
// compare-and-set token the client last read.
type versioned struct {
	Version *int64 `json:"version"`
}

type reasonPayload struct {
	versioned
	Reason string `json:"reason"`
}

// bindOptional binds a JSON body when one was sent. Actions such as approve
// may be posted without a body.
func bindOptional(c *gin.Context, v interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid payload")
		return false
	}
	return true
}

func (h *ReconciliationHandler) ListTransactions(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	page, err := h.service.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *ReconciliationHandler) Stats(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	stats, err := h.service.Stats(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ReconciliationHandler) Analytics(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	analytics, err := h.service.Analytics(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, analytics)
}

func (h *ReconciliationHandler) Patterns(c *gin.Context) {
	var f patterns.Filter
	var err error
	if f.DepartmentID, err = queryUUID(c, "department_id"); err != nil {
		badRequest(c, err.Error())
		return
	}
	if f.DateFrom, err = parseDate("date_from", c.Query("date_from")); err != nil {
		badRequest(c, err.Error())
		return
	}
	if f.DateTo, err = parseDate("date_to", c.Query("date_to")); err != nil {
		badRequest(c, err.Error())
		return
	}
	if raw := c.Query("type"); raw != "" {
		f.Type = models.TransactionType(strings.ToUpper(raw))
		if !f.Type.Valid() {
			badRequest(c, "invalid type")
			return
		}
	}
	if f.MinOccurrences, err = queryInt(c, "min_occurrences", 0); err != nil {
		badRequest(c, err.Error())
		return
	}

	found, err := h.detector.Detect(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": found, "total": len(found)})
}

func (h *ReconciliationHandler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	tx, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (h *ReconciliationHandler) UpdateTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload struct {
		versioned
		Notes         *string    `json:"notes"`
		CategoryID    *uuid.UUID `json:"category_id"`
		ClearCategory bool       `json:"clear_category"`
		Status        *string    `json:"status"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, "invalid payload")
		return
	}

	req := service.UpdateRequest{
		Notes:           payload.Notes,
		CategoryID:      payload.CategoryID,
		ClearCategory:   payload.ClearCategory,
		ExpectedVersion: payload.Version,
	}
	if payload.Status != nil {
		st := models.TransactionStatus(strings.ToUpper(*payload.Status))
		if !st.Valid() {
			badRequest(c, "invalid status")
			return
		}
		req.Status = &st
	}

	tx, err := h.service.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction updated", "transaction": tx})
}

func (h *ReconciliationHandler) DeleteTransaction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	scope, err := queryUUID(c, "department_id")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.service.Delete(c.Request.Context(), id, scope); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction deleted"})
}

func (h *ReconciliationHandler) Categorize(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload struct {
		versioned
		CategoryID uuid.UUID `json:"category_id"`
		Notes      *string   `json:"notes"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.CategoryID == uuid.Nil {
		badRequest(c, "category_id is required")
		return
	}

	tx, err := h.service.Categorize(c.Request.Context(), id, service.CategorizeRequest{
		CategoryID:      payload.CategoryID,
		Notes:           payload.Notes,
		ExpectedVersion: payload.Version,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction categorized", "transaction": tx})
}

func (h *ReconciliationHandler) ApplySuggestion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload struct {
		versioned
		CategoryID *uuid.UUID `json:"category_id"`
	}
	if !bindOptional(c, &payload) {
		return
	}

	tx, err := h.service.ApplySuggestion(c.Request.Context(), id, service.ApplySuggestionRequest{
		CategoryID:      payload.CategoryID,
		ExpectedVersion: payload.Version,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "suggestion applied", "transaction": tx})
}

func (h *ReconciliationHandler) Link(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload struct {
		versioned
		ExpenseID uuid.UUID `json:"expense_id"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil || payload.ExpenseID == uuid.Nil {
		badRequest(c, "expense_id is required")
		return
	}

	res, err := h.service.Link(c.Request.Context(), id, service.LinkRequest{
		ExpenseID:       payload.ExpenseID,
		ExpectedVersion: payload.Version,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "transaction linked",
		"transaction":      res.Transaction,
		"category_missing": res.CategoryMissing,
	})
}

func (h *ReconciliationHandler) Unlink(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload versioned
	if !bindOptional(c, &payload) {
		return
	}
	tx, err := h.service.Unlink(c.Request.Context(), id, payload.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction unlinked", "transaction": tx})
}

func (h *ReconciliationHandler) Approve(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload versioned
	if !bindOptional(c, &payload) {
		return
	}
	tx, err := h.service.Approve(c.Request.Context(), id, payload.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction approved", "transaction": tx})
}

func (h *ReconciliationHandler) Review(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload reasonPayload
	if !bindOptional(c, &payload) {
		return
	}
	tx, err := h.service.Review(c.Request.Context(), id, payload.Reason, payload.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction flagged for review", "transaction": tx})
}

func (h *ReconciliationHandler) Ignore(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var payload reasonPayload
	if !bindOptional(c, &payload) {
		return
	}
	tx, err := h.service.Ignore(c.Request.Context(), id, payload.Reason, payload.Version)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "transaction ignored", "transaction": tx})
}

func (h *ReconciliationHandler) Matches(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := queryInt(c, "limit", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	candidates, err := h.matcher.Match(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "matches": candidates})
}

func (h *ReconciliationHandler) CategorySuggestions(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	topN, err := queryInt(c, "top_n", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	suggestions, err := h.classifier.Suggest(c.Request.Context(), id, topN)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "suggestions": suggestions})
}

func (h *ReconciliationHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entries, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction_id": id, "history": entries})
}
