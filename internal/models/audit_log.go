package models

import (
	"time"

	"github.com/google/uuid"
)

type TransactionAuditLog struct {
	ID               uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	TransactionID    uuid.UUID         `gorm:"type:uuid;index" json:"transaction_id"`
	Action           string            `gorm:"size:32" json:"action"`
	PreviousStatus   TransactionStatus `gorm:"size:16" json:"previous_status"`
	NewStatus        TransactionStatus `gorm:"size:16" json:"new_status"`
	PreviousCategory *uuid.UUID        `gorm:"type:uuid" json:"previous_category,omitempty"`
	NewCategory      *uuid.UUID        `gorm:"type:uuid" json:"new_category,omitempty"`
	PreviousExpense  *uuid.UUID        `gorm:"type:uuid" json:"previous_expense,omitempty"`
	NewExpense       *uuid.UUID        `gorm:"type:uuid" json:"new_expense,omitempty"`
	PerformedBy      string            `json:"performed_by"`
	Reason           string            `json:"reason"`
	CreatedAt        time.Time         `json:"created_at"`
}
