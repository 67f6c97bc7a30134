package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Expense is an accounting-ledger entry a bank transaction can be linked to.
type Expense struct {
	ID                uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	DepartmentID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_expense_department_date,priority:1" json:"department_id"`
	OrganizationID    *uuid.UUID      `gorm:"type:uuid;index" json:"organization_id"`
	CategoryID        *uuid.UUID      `gorm:"type:uuid" json:"category_id"`
	Amount            decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	ExpenseDate       time.Time       `gorm:"not null;index:idx_expense_department_date,priority:2" json:"expense_date"`
	CounterpartyName  string          `gorm:"index" json:"counterparty_name"`
	CounterpartyTaxID string          `gorm:"size:32" json:"counterparty_tax_id"`
	Description       string          `json:"description"`
	DocumentNumber    string          `gorm:"size:64" json:"document_number"`
	CreatedAt         time.Time       `json:"created_at"`
}
