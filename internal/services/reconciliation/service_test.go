package reconciliation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/classification"
	"bank-reconciliation-backend/internal/testutil"
)

type fixture struct {
	ctx        context.Context
	dept       uuid.UUID
	txs        *repository.BankTransactionRepository
	expenses   *repository.ExpenseRepository
	categories *repository.CategoryRepository
	audit      *repository.AuditLogRepository
	svc        *ReconciliationService
	seq        int
}

func newFixture(t *testing.T) *fixture {
	db := testutil.NewDB(t)
	engine := config.DefaultEngine()
	f := &fixture{
		ctx:        WithActor(context.Background(), "alice"),
		dept:       uuid.New(),
		txs:        repository.NewBankTransactionRepository(db),
		expenses:   repository.NewExpenseRepository(db),
		categories: repository.NewCategoryRepository(db),
		audit:      repository.NewAuditLogRepository(db),
	}
	classifier := classification.NewClassifier(f.txs, f.expenses, f.categories, engine.Classification)
	f.svc = NewReconciliationService(f.txs, f.expenses, f.categories, f.audit, classifier, engine.Bulk)
	return f
}

func (f *fixture) category(t *testing.T, code string, keywords ...string) models.BudgetCategory {
	c := models.BudgetCategory{ID: uuid.New(), DepartmentID: &f.dept, Code: code, Name: code, Keywords: keywords}
	require.NoError(t, f.categories.Create(f.ctx, &c))
	return c
}

func (f *fixture) expense(t *testing.T, amount int64) models.Expense {
	e := models.Expense{
		ID:           uuid.New(),
		DepartmentID: f.dept,
		Amount:       decimal.NewFromInt(amount),
		ExpenseDate:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.expenses.Create(f.ctx, &e))
	return e
}

func (f *fixture) tx(t *testing.T, mutate func(*models.BankTransaction)) *models.BankTransaction {
	f.seq++
	tx := &models.BankTransaction{
		ID:              uuid.New(),
		DepartmentID:    f.dept,
		DedupKey:        uuid.NewString(),
		Amount:          decimal.NewFromInt(100),
		TransactionType: models.TypeDebit,
		PaymentSource:   models.SourceBank,
		TransactionDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, f.seq),
		Status:          models.StatusNew,
		Version:         1,
	}
	if mutate != nil {
		mutate(tx)
	}
	_, err := f.txs.InsertIfAbsent(f.ctx, tx)
	require.NoError(t, err)
	return tx
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.BankTransaction {
	t.Helper()
	tx, err := f.txs.GetByID(f.ctx, id)
	require.NoError(t, err)
	assertInvariants(t, tx)
	return tx
}

func assertInvariants(t *testing.T, tx *models.BankTransaction) {
	t.Helper()
	if tx.Status == models.StatusNew {
		assert.Nil(t, tx.CategoryID, "NEW record must not carry a category")
	}
	if tx.ExpenseID != nil {
		assert.Contains(t, []models.TransactionStatus{models.StatusMatched, models.StatusApproved}, tx.Status)
	}
	assert.NoError(t, checkInvariants(tx))
}
