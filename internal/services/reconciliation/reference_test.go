package reconciliation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/models"
)

func TestCreateExpense_Validates(t *testing.T) {
	f := newFixture(t)

	err := f.svc.CreateExpense(f.ctx, &models.Expense{DepartmentID: f.dept, Amount: decimal.Zero, ExpenseDate: time.Now()})
	assert.ErrorIs(t, err, ErrValidation)

	missingCat := uuid.New()
	err = f.svc.CreateExpense(f.ctx, &models.Expense{
		DepartmentID: f.dept, Amount: decimal.NewFromInt(5), ExpenseDate: time.Now(), CategoryID: &missingCat,
	})
	assert.ErrorIs(t, err, ErrNotFound)

	e := &models.Expense{DepartmentID: f.dept, Amount: decimal.NewFromInt(5), ExpenseDate: time.Now()}
	require.NoError(t, f.svc.CreateExpense(f.ctx, e))
	assert.NotEqual(t, uuid.Nil, e.ID)

	list, err := f.svc.ListExpenses(f.ctx, &f.dept, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUploadExpenses(t *testing.T) {
	f := newFixture(t)
	csv := "Expense date;Amount;Counterparty;Description\n" +
		"01.03.2024;1 200,50;Acme LLC;office chairs\n" +
		"02.03.2024;abc;Acme LLC;broken\n"

	res, err := f.svc.UploadExpenses(f.ctx, "expenses.csv", []byte(csv), f.dept, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRows)
	assert.Equal(t, 1, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].Row)

	stored, err := f.expenses.GetByID(f.ctx, res.CreatedIDs[0])
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("1200.50").Equal(stored.Amount))
	assert.Equal(t, "Acme LLC", stored.CounterpartyName)
	assert.Equal(t, "office chairs", stored.Description)

	_, err = f.svc.UploadExpenses(f.ctx, "expenses.pdf", []byte("x"), f.dept, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCategories(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.CreateCategory(f.ctx, &models.BudgetCategory{Code: "RENT", Name: "Rent", DepartmentID: &f.dept}))
	err := f.svc.CreateCategory(f.ctx, &models.BudgetCategory{Code: "RENT", Name: "Rent again"})
	assert.ErrorIs(t, err, ErrConflict)
	err = f.svc.CreateCategory(f.ctx, &models.BudgetCategory{Code: " "})
	assert.ErrorIs(t, err, ErrValidation)
	require.NoError(t, f.svc.CreateCategory(f.ctx, &models.BudgetCategory{Code: "TAX", Name: "Taxes"}))

	cats, err := f.svc.ListCategories(f.ctx, &f.dept)
	require.NoError(t, err)
	assert.Len(t, cats, 2)

	other := uuid.New()
	cats, err = f.svc.ListCategories(f.ctx, &other)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}
