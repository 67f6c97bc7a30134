package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func (r *CategoryRepository) Create(ctx context.Context, c *models.BudgetCategory) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *CategoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BudgetCategory, error) {
	var c models.BudgetCategory
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListForDepartment returns the department's own categories plus shared ones.
// A nil department returns everything.
func (r *CategoryRepository) ListForDepartment(ctx context.Context, departmentID *uuid.UUID) ([]models.BudgetCategory, error) {
	q := r.db.WithContext(ctx).Model(&models.BudgetCategory{})
	if departmentID != nil {
		q = q.Where("(department_id = ? OR department_id IS NULL)", *departmentID)
	}
	var cats []models.BudgetCategory
	err := q.Order("name ASC").Find(&cats).Error
	return cats, err
}
