package models

import (
	"time"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncStarted   SyncStatus = "STARTED"
	SyncCompleted SyncStatus = "COMPLETED"
	SyncFailed    SyncStatus = "FAILED"
)

type SyncTask struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"task_id"`
	DepartmentID    uuid.UUID  `gorm:"type:uuid;index" json:"department_id"`
	OrganizationID  *uuid.UUID `gorm:"type:uuid" json:"organization_id,omitempty"`
	Source          string     `json:"source"`
	Status          SyncStatus `gorm:"size:16;index" json:"status"`
	Fetched         int        `json:"fetched"`
	Created         int        `json:"created"`
	Updated         int        `json:"updated"`
	Skipped         int        `json:"skipped"`
	Invalid         int        `json:"invalid"`
	AutoCategorized int        `json:"auto_categorized"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
