package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/models"
)

type ExpenseRepository struct {
	db *gorm.DB
}

func NewExpenseRepository(db *gorm.DB) *ExpenseRepository {
	return &ExpenseRepository{db: db}
}

func (r *ExpenseRepository) Create(ctx context.Context, e *models.Expense) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Expense, error) {
	var e models.Expense
	err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindCandidates returns expenses of a department dated within [from, to].
// When organizationID is set, only that organization's expenses qualify.
func (r *ExpenseRepository) FindCandidates(ctx context.Context, departmentID uuid.UUID, organizationID *uuid.UUID, from, to time.Time) ([]models.Expense, error) {
	q := r.db.WithContext(ctx).
		Where("department_id = ?", departmentID).
		Where("expense_date >= ? AND expense_date <= ?", from, to)
	if organizationID != nil {
		q = q.Where("organization_id = ?", *organizationID)
	}
	var expenses []models.Expense
	err := q.Order("expense_date ASC").Find(&expenses).Error
	return expenses, err
}

// List is used for admin browsing with optional filters.
func (r *ExpenseRepository) List(ctx context.Context, departmentID *uuid.UUID, limit, offset int) ([]models.Expense, error) {
	q := r.db.WithContext(ctx).Model(&models.Expense{})
	if departmentID != nil {
		q = q.Where("department_id = ?", *departmentID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var expenses []models.Expense
	err := q.Order("expense_date DESC").Find(&expenses).Error
	return expenses, err
}
