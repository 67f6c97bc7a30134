package repository

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

// TransactionFilter is shared by list, stats and analytics queries.
type TransactionFilter struct {
	DepartmentID    *uuid.UUID
	OrganizationID  *uuid.UUID
	Statuses        []models.TransactionStatus
	Type            models.TransactionType
	PaymentSource   models.PaymentSource
	CategoryID      *uuid.UUID
	DateFrom        *time.Time
	DateTo          *time.Time
	Search          string
	OnlyUnprocessed bool
	AccountNumber   string
	AccountIsNull   bool
	Limit           int
	Offset          int
}

var unprocessedStatuses = []models.TransactionStatus{models.StatusNew, models.StatusNeedsReview}

func (f TransactionFilter) apply(q *gorm.DB) *gorm.DB {
	if f.DepartmentID != nil {
		q = q.Where("department_id = ?", *f.DepartmentID)
	}
	if f.OrganizationID != nil {
		q = q.Where("organization_id = ?", *f.OrganizationID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.OnlyUnprocessed {
		q = q.Where("status IN ?", unprocessedStatuses)
	}
	if f.Type != "" {
		q = q.Where("transaction_type = ?", f.Type)
	}
	if f.PaymentSource != "" {
		q = q.Where("payment_source = ?", f.PaymentSource)
	}
	if f.CategoryID != nil {
		q = q.Where("category_id = ?", *f.CategoryID)
	}
	if f.DateFrom != nil {
		q = q.Where("transaction_date >= ?", *f.DateFrom)
	}
	if f.DateTo != nil {
		q = q.Where("transaction_date <= ?", *f.DateTo)
	}
	if f.AccountIsNull {
		q = q.Where("(account_number IS NULL OR account_number = '')")
	} else if f.AccountNumber != "" {
		q = q.Where("account_number = ?", f.AccountNumber)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + strings.ToLower(s) + "%"
		q = q.Where(
			"(LOWER(payment_purpose) LIKE ? OR LOWER(counterparty_name) LIKE ? OR LOWER(document_number) LIKE ? OR counterparty_tax_id LIKE ?)",
			like, like, like, like,
		)
	}
	return q
}
