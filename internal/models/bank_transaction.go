package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionStatus string

const (
	StatusNew         TransactionStatus = "NEW"
	StatusCategorized TransactionStatus = "CATEGORIZED"
	StatusMatched     TransactionStatus = "MATCHED"
	StatusApproved    TransactionStatus = "APPROVED"
	StatusNeedsReview TransactionStatus = "NEEDS_REVIEW"
	StatusIgnored     TransactionStatus = "IGNORED"
)

var AllStatuses = []TransactionStatus{
	StatusNew, StatusCategorized, StatusMatched, StatusApproved, StatusNeedsReview, StatusIgnored,
}

func (s TransactionStatus) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

type TransactionType string

const (
	TypeCredit TransactionType = "CREDIT"
	TypeDebit  TransactionType = "DEBIT"
)

func (t TransactionType) Valid() bool {
	return t == TypeCredit || t == TypeDebit
}

type PaymentSource string

const (
	SourceBank PaymentSource = "BANK"
	SourceCash PaymentSource = "CASH"
)

func (p PaymentSource) Valid() bool {
	return p == SourceBank || p == SourceCash
}

// BankTransaction is the canonical record for one statement row. Suggested*
// fields are hints only; CategoryID and ExpenseID are the authoritative
// assignments and are only written through the lifecycle controller.
type BankTransaction struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	DepartmentID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_bank_tx_department_dedup,priority:1;index:idx_bank_tx_department_status,priority:1" json:"department_id"`
	OrganizationID *uuid.UUID `gorm:"type:uuid;index" json:"organization_id"`
	DedupKey       string     `gorm:"size:64;not null;uniqueIndex:idx_bank_tx_department_dedup,priority:2" json:"dedup_key"`
	AccountNumber  *string    `gorm:"size:64;index" json:"account_number"`

	Amount          decimal.Decimal `gorm:"type:numeric(18,2);not null" json:"amount"`
	TransactionType TransactionType `gorm:"size:8;not null;index" json:"transaction_type"`
	PaymentSource   PaymentSource   `gorm:"size:8;not null;default:BANK" json:"payment_source"`
	TransactionDate time.Time       `gorm:"column:transaction_date;not null;index" json:"transaction_date"`
	DocumentNumber  string          `gorm:"size:64" json:"document_number"`
	DocumentDate    *time.Time      `json:"document_date"`
	PaymentPurpose  string          `json:"payment_purpose"`

	CounterpartyName       string `gorm:"index" json:"counterparty_name"`
	CounterpartyTaxID      string `gorm:"size:32;index" json:"counterparty_tax_id"`
	CounterpartyBankName   string `json:"counterparty_bank_name"`
	CounterpartyBankBranch string `json:"counterparty_bank_branch"`

	CategoryID                  *uuid.UUID `gorm:"type:uuid;index" json:"category_id"`
	CategoryConfidence          *float64   `json:"category_confidence"`
	SuggestedCategoryID         *uuid.UUID `gorm:"type:uuid" json:"suggested_category_id"`
	SuggestedCategoryName       string     `json:"suggested_category_name"`
	SuggestedCategoryConfidence *float64   `json:"suggested_category_confidence"`

	ExpenseID             *uuid.UUID     `gorm:"type:uuid;uniqueIndex" json:"expense_id"`
	SuggestedExpenseID    *uuid.UUID     `gorm:"type:uuid" json:"suggested_expense_id"`
	SuggestedExpenseScore *float64       `json:"suggested_expense_score"`
	MatchDetails          datatypes.JSON `json:"match_details,omitempty"`

	Status  TransactionStatus `gorm:"size:16;not null;index:idx_bank_tx_department_status,priority:2" json:"status"`
	Notes   string            `json:"notes"`
	Version int64             `gorm:"not null;default:1" json:"version"`

	ImportSource   string    `gorm:"size:32" json:"import_source"`
	ImportFileName string    `json:"import_file_name"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ExcludedFromAutomation reports whether classifier and matcher must skip the record.
func (t *BankTransaction) ExcludedFromAutomation() bool {
	return t.Status == StatusIgnored
}

// ClearSuggestions drops every advisory field.
func (t *BankTransaction) ClearSuggestions() {
	t.SuggestedCategoryID = nil
	t.SuggestedCategoryName = ""
	t.SuggestedCategoryConfidence = nil
	t.SuggestedExpenseID = nil
	t.SuggestedExpenseScore = nil
	t.MatchDetails = nil
}
