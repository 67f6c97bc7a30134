package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BudgetCategory is reference data; a nil DepartmentID means the category is shared.
type BudgetCategory struct {
	ID           uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	DepartmentID *uuid.UUID                  `gorm:"type:uuid;index" json:"department_id"`
	Code         string                      `gorm:"size:64;uniqueIndex" json:"code"`
	Name         string                      `gorm:"not null" json:"name"`
	Keywords     datatypes.JSONSlice[string] `json:"keywords"`
	CreatedAt    time.Time                   `json:"created_at"`
}
