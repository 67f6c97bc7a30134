package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/testutil"
)

func newTx(dept uuid.UUID, key string, amount string, date time.Time) *models.BankTransaction {
	return &models.BankTransaction{
		ID:              uuid.New(),
		DepartmentID:    dept,
		DedupKey:        key,
		Amount:          decimal.RequireFromString(amount),
		TransactionType: models.TypeDebit,
		PaymentSource:   models.SourceBank,
		TransactionDate: date,
		Status:          models.StatusNew,
		Version:         1,
	}
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestInsertIfAbsent_IsIdempotentPerDepartment(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	dept := uuid.New()

	created, err := repo.InsertIfAbsent(ctx, newTx(dept, "k1", "10.00", day(2024, 1, 5)))
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.InsertIfAbsent(ctx, newTx(dept, "k1", "10.00", day(2024, 1, 5)))
	require.NoError(t, err)
	assert.False(t, created)

	// Same key in another department is a different record.
	created, err = repo.InsertIfAbsent(ctx, newTx(uuid.New(), "k1", "10.00", day(2024, 1, 5)))
	require.NoError(t, err)
	assert.True(t, created)

	existing, err := repo.FindByDedupKey(ctx, dept, "k1")
	require.NoError(t, err)
	assert.True(t, existing.Amount.Equal(decimal.RequireFromString("10")))
}

func TestGetByID_NotFound(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompareAndSwap_RejectsStaleVersion(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	tx := newTx(uuid.New(), "k", "5", day(2024, 2, 1))
	_, err := repo.InsertIfAbsent(ctx, tx)
	require.NoError(t, err)

	first := *tx
	cat := uuid.New()
	first.CategoryID = &cat
	first.Status = models.StatusCategorized
	ok, err := repo.CompareAndSwap(ctx, &first, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), first.Version)

	second := *tx
	second.Status = models.StatusIgnored
	ok, err = repo.CompareAndSwap(ctx, &second, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCategorized, stored.Status)
	assert.Equal(t, cat, *stored.CategoryID)
	assert.Equal(t, int64(2), stored.Version)
}

func TestSaveSuggestions_KeepsVersion(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	tx := newTx(uuid.New(), "k", "5", day(2024, 2, 1))
	_, err := repo.InsertIfAbsent(ctx, tx)
	require.NoError(t, err)

	cat := uuid.New()
	conf := 0.7
	tx.SuggestedCategoryID = &cat
	tx.SuggestedCategoryName = "Rent"
	tx.SuggestedCategoryConfidence = &conf
	ok, err := repo.SaveSuggestions(ctx, tx)
	require.NoError(t, err)
	assert.True(t, ok)

	stored, err := repo.GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stored.Version)
	assert.Equal(t, "Rent", stored.SuggestedCategoryName)
	assert.Nil(t, stored.CategoryID)
}

func TestDelete_RespectsDepartmentScope(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	dept := uuid.New()
	tx := newTx(dept, "k", "5", day(2024, 2, 1))
	_, err := repo.InsertIfAbsent(ctx, tx)
	require.NoError(t, err)

	other := uuid.New()
	deleted, err := repo.Delete(ctx, tx.ID, &other)
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = repo.Delete(ctx, tx.ID, &dept)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = repo.GetByID(ctx, tx.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_Filters(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	dept := uuid.New()

	a := newTx(dept, "a", "100", day(2024, 3, 1))
	a.PaymentPurpose = "Office rent for March"
	acct := "40702810900000000001"
	a.AccountNumber = &acct
	b := newTx(dept, "b", "200", day(2024, 3, 10))
	b.TransactionType = models.TypeCredit
	b.Status = models.StatusIgnored
	c := newTx(dept, "c", "300", day(2024, 4, 1))
	c.Status = models.StatusNeedsReview
	c.CounterpartyName = "Acme Supplies"
	d := newTx(uuid.New(), "d", "400", day(2024, 3, 5))
	for _, tx := range []*models.BankTransaction{a, b, c, d} {
		_, err := repo.InsertIfAbsent(ctx, tx)
		require.NoError(t, err)
	}

	all, total, err := repo.List(ctx, TransactionFilter{DepartmentID: &dept})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID, "newest first")

	page, total, err := repo.List(ctx, TransactionFilter{DepartmentID: &dept, Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 1)
	assert.Equal(t, b.ID, page[0].ID)

	got, _, err := repo.List(ctx, TransactionFilter{DepartmentID: &dept, Search: "RENT"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, _, err = repo.List(ctx, TransactionFilter{DepartmentID: &dept, OnlyUnprocessed: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, _, err = repo.List(ctx, TransactionFilter{DepartmentID: &dept, Type: models.TypeCredit})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)

	got, _, err = repo.List(ctx, TransactionFilter{DepartmentID: &dept, AccountIsNull: true})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, _, err = repo.List(ctx, TransactionFilter{DepartmentID: &dept, AccountNumber: acct})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	from, to := day(2024, 3, 1), day(2024, 3, 31)
	got, _, err = repo.List(ctx, TransactionFilter{DepartmentID: &dept, DateFrom: &from, DateTo: &to})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, _, err = repo.List(ctx, TransactionFilter{Statuses: []models.TransactionStatus{models.StatusNeedsReview}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)
}

func TestStatusTypeTotals(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	dept := uuid.New()

	a := newTx(dept, "a", "100.50", day(2024, 3, 1))
	b := newTx(dept, "b", "49.50", day(2024, 3, 2))
	c := newTx(dept, "c", "10", day(2024, 3, 3))
	c.TransactionType = models.TypeCredit
	for _, tx := range []*models.BankTransaction{a, b, c} {
		_, err := repo.InsertIfAbsent(ctx, tx)
		require.NoError(t, err)
	}

	rows, err := repo.StatusTypeTotals(ctx, TransactionFilter{DepartmentID: &dept})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, models.StatusNew, row.Status)
		switch row.TransactionType {
		case models.TypeDebit:
			assert.Equal(t, int64(2), row.Count)
			assert.True(t, row.Sum.Equal(decimal.NewFromInt(150)), row.Sum.String())
		case models.TypeCredit:
			assert.Equal(t, int64(1), row.Count)
		}
	}
}

func TestLinkedExpenseOwners(t *testing.T) {
	repo := NewBankTransactionRepository(testutil.NewDB(t))
	ctx := context.Background()
	dept := uuid.New()
	expense := uuid.New()

	owner := newTx(dept, "a", "100", day(2024, 3, 1))
	owner.ExpenseID = &expense
	owner.Status = models.StatusMatched
	target := newTx(dept, "b", "100", day(2024, 3, 1))
	for _, tx := range []*models.BankTransaction{owner, target} {
		_, err := repo.InsertIfAbsent(ctx, tx)
		require.NoError(t, err)
	}

	owners, err := repo.LinkedExpenseOwners(ctx, []uuid.UUID{expense, uuid.New()}, target.ID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]uuid.UUID{expense: owner.ID}, owners)

	owners, err = repo.LinkedExpenseOwners(ctx, []uuid.UUID{expense}, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, owners)
}
