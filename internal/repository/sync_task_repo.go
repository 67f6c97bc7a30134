package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

type SyncTaskRepository struct {
	db *gorm.DB
}

func NewSyncTaskRepository(db *gorm.DB) *SyncTaskRepository {
	return &SyncTaskRepository{db: db}
}

func (r *SyncTaskRepository) Create(ctx context.Context, task *models.SyncTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *SyncTaskRepository) Save(ctx context.Context, task *models.SyncTask) error {
	return r.db.WithContext(ctx).Save(task).Error
}

func (r *SyncTaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncTask, error) {
	var task models.SyncTask
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}
