package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/importer"
)

func (s *ReconciliationService) CreateExpense(ctx context.Context, e *models.Expense) error {
	if e.DepartmentID == uuid.Nil {
		return fmt.Errorf("department_id is required: %w", ErrValidation)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", ErrValidation)
	}
	if e.ExpenseDate.IsZero() {
		return fmt.Errorf("expense_date is required: %w", ErrValidation)
	}
	if e.CategoryID != nil {
		if _, err := s.categoryRepo.GetByID(ctx, *e.CategoryID); err != nil {
			return fmt.Errorf("category %s: %w", *e.CategoryID, err)
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return s.expenseRepo.Create(ctx, e)
}

func (s *ReconciliationService) ListExpenses(ctx context.Context, departmentID *uuid.UUID, limit, offset int) ([]models.Expense, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	expenses, err := s.expenseRepo.List(ctx, departmentID, limit, offset)
	if err != nil {
		return nil, err
	}
	if expenses == nil {
		expenses = []models.Expense{}
	}
	return expenses, nil
}

type ExpenseUploadResult struct {
	TotalRows  int                 `json:"total_rows"`
	Created    int                 `json:"created"`
	CreatedIDs []uuid.UUID         `json:"created_ids"`
	Errors     []importer.RowError `json:"errors"`
}

// UploadExpenses parses an expense export and stores every valid row.
// Invalid rows are reported, never fatal.
func (s *ReconciliationService) UploadExpenses(ctx context.Context, fileName string, data []byte, departmentID uuid.UUID, organizationID *uuid.UUID) (*ExpenseUploadResult, error) {
	if departmentID == uuid.Nil {
		return nil, fmt.Errorf("department_id is required: %w", ErrValidation)
	}
	parsed, err := importer.ParseExpenses(fileName, data, departmentID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrValidation)
	}

	res := &ExpenseUploadResult{TotalRows: parsed.TotalRows, CreatedIDs: []uuid.UUID{}, Errors: parsed.Errors}
	for i := range parsed.Expenses {
		e := &parsed.Expenses[i]
		if err := s.expenseRepo.Create(ctx, e); err != nil {
			return nil, fmt.Errorf("storing expense: %w", err)
		}
		res.Created++
		res.CreatedIDs = append(res.CreatedIDs, e.ID)
	}
	log := logger.FromContext(ctx)
	log.Info().
		Str("department_id", departmentID.String()).
		Str("file", fileName).
		Int("created", res.Created).
		Int("errors", len(res.Errors)).
		Msg("expenses uploaded")
	return res, nil
}

func (s *ReconciliationService) CreateCategory(ctx context.Context, c *models.BudgetCategory) error {
	c.Code = strings.TrimSpace(c.Code)
	c.Name = strings.TrimSpace(c.Name)
	if c.Code == "" || c.Name == "" {
		return fmt.Errorf("code and name are required: %w", ErrValidation)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := s.categoryRepo.Create(ctx, c)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("category code %q already exists: %w", c.Code, ErrConflict)
	}
	return err
}

// ListCategories returns the shared categories plus those of departmentID.
func (s *ReconciliationService) ListCategories(ctx context.Context, departmentID *uuid.UUID) ([]models.BudgetCategory, error) {
	cats, err := s.categoryRepo.ListForDepartment(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	if cats == nil {
		cats = []models.BudgetCategory{}
	}
	return cats, nil
}
