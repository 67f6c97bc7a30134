package reconciliation

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/models"
)

func TestCategorize_NewBecomesCategorized(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	tx := f.tx(t, func(tx *models.BankTransaction) {
		tx.SuggestedCategoryID = &cat.ID
		tx.SuggestedCategoryName = "RENT"
	})
	notes := "march rent"

	got, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID, Notes: &notes})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCategorized, got.Status)
	assert.Equal(t, int64(2), got.Version)

	stored := f.reload(t, tx.ID)
	assert.Equal(t, cat.ID, *stored.CategoryID)
	assert.Nil(t, stored.SuggestedCategoryID)
	assert.Empty(t, stored.SuggestedCategoryName)
	assert.Equal(t, "march rent", stored.Notes)

	history, err := f.svc.History(f.ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ActionCategorize, history[0].Action)
	assert.Equal(t, models.StatusNew, history[0].PreviousStatus)
	assert.Equal(t, models.StatusCategorized, history[0].NewStatus)
	assert.Equal(t, "alice", history[0].PerformedBy)
}

func TestCategorize_UnknownOrForeignCategory(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, nil)

	_, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)

	other := uuid.New()
	foreign := models.BudgetCategory{ID: uuid.New(), DepartmentID: &other, Code: "X", Name: "X"}
	require.NoError(t, f.categories.Create(f.ctx, &foreign))
	_, err = f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: foreign.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, models.StatusNew, f.reload(t, tx.ID).Status)
}

func TestCategorize_KeepsMatchedWhenLinked(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	exp := f.expense(t, 100)
	tx := f.tx(t, nil)

	res, err := f.svc.Link(f.ctx, tx.ID, LinkRequest{ExpenseID: exp.ID})
	require.NoError(t, err)
	assert.True(t, res.CategoryMissing)

	got, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID})
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, got.Status)
	f.reload(t, tx.ID)
}

func TestApprove_NewIsRejectedAndUnchanged(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, nil)

	_, err := f.svc.Approve(f.ctx, tx.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored := f.reload(t, tx.ID)
	assert.Equal(t, models.StatusNew, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	history, err := f.svc.History(f.ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApprove_FromCategorized(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	tx := f.tx(t, nil)
	_, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID})
	require.NoError(t, err)

	got, err := f.svc.Approve(f.ctx, tx.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)

	_, err = f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.SetStatus(f.ctx, tx.ID, models.StatusNew, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	f.reload(t, tx.ID)
}

func TestSetStatus_SameStatusIsNoop(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, nil)

	got, err := f.svc.SetStatus(f.ctx, tx.ID, models.StatusNew, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	history, err := f.svc.History(f.ctx, tx.ID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSetStatus_Preconditions(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, nil)

	_, err := f.svc.SetStatus(f.ctx, tx.ID, models.StatusCategorized, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.SetStatus(f.ctx, tx.ID, models.StatusMatched, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.svc.SetStatus(f.ctx, tx.ID, "DONE", nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.SetStatus(f.ctx, uuid.New(), models.StatusIgnored, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	f.reload(t, tx.ID)
}

func TestReview_MovesAssignmentsIntoSuggestions(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	exp := f.expense(t, 100)
	tx := f.tx(t, nil)
	_, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID})
	require.NoError(t, err)
	_, err = f.svc.Link(f.ctx, tx.ID, LinkRequest{ExpenseID: exp.ID})
	require.NoError(t, err)

	got, err := f.svc.Review(f.ctx, tx.ID, "amount looks off", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNeedsReview, got.Status)

	stored := f.reload(t, tx.ID)
	assert.Nil(t, stored.CategoryID)
	assert.Nil(t, stored.ExpenseID)
	require.NotNil(t, stored.SuggestedCategoryID)
	assert.Equal(t, cat.ID, *stored.SuggestedCategoryID)
	assert.Equal(t, "RENT", stored.SuggestedCategoryName)
	require.NotNil(t, stored.SuggestedExpenseID)
	assert.Equal(t, exp.ID, *stored.SuggestedExpenseID)

	history, err := f.svc.History(f.ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "amount looks off", history[2].Reason)
}

func TestIgnore_ClearsEverything(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	tx := f.tx(t, func(tx *models.BankTransaction) {
		tx.SuggestedCategoryID = &cat.ID
	})

	got, err := f.svc.Ignore(f.ctx, tx.ID, "internal transfer", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusIgnored, got.Status)
	stored := f.reload(t, tx.ID)
	assert.Nil(t, stored.SuggestedCategoryID)

	_, err = f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	got, err = f.svc.SetStatus(f.ctx, tx.ID, models.StatusNew, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)
	f.reload(t, tx.ID)
}

func TestLink_ConflictsAndUnlink(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	exp := f.expense(t, 100)
	first := f.tx(t, nil)
	second := f.tx(t, nil)

	_, err := f.svc.Categorize(f.ctx, first.ID, CategorizeRequest{CategoryID: cat.ID})
	require.NoError(t, err)
	res, err := f.svc.Link(f.ctx, first.ID, LinkRequest{ExpenseID: exp.ID})
	require.NoError(t, err)
	assert.False(t, res.CategoryMissing)
	assert.Equal(t, models.StatusMatched, res.Transaction.Status)

	_, err = f.svc.Link(f.ctx, second.ID, LinkRequest{ExpenseID: exp.ID})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, models.StatusNew, f.reload(t, second.ID).Status)

	again, err := f.svc.Link(f.ctx, first.ID, LinkRequest{ExpenseID: exp.ID})
	require.NoError(t, err)
	assert.Equal(t, res.Transaction.Version, again.Transaction.Version)

	got, err := f.svc.Unlink(f.ctx, first.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCategorized, got.Status)
	assert.Nil(t, f.reload(t, first.ID).ExpenseID)

	_, err = f.svc.Unlink(f.ctx, first.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.Link(f.ctx, second.ID, LinkRequest{ExpenseID: exp.ID})
	require.NoError(t, err)
	f.reload(t, second.ID)
}

func TestLink_UnknownExpense(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, nil)

	_, err := f.svc.Link(f.ctx, tx.ID, LinkRequest{ExpenseID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLink_ConcurrentCallersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	expA := f.expense(t, 100)
	expB := f.expense(t, 100)
	tx := f.tx(t, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, exp := range []models.Expense{expA, expB} {
		wg.Add(1)
		go func(i int, expenseID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = f.svc.Link(f.ctx, tx.ID, LinkRequest{ExpenseID: expenseID})
		}(i, exp.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrConflict)
	}
	assert.Equal(t, 1, succeeded)

	stored := f.reload(t, tx.ID)
	assert.Equal(t, models.StatusMatched, stored.Status)
	require.NotNil(t, stored.ExpenseID)
	assert.Contains(t, []uuid.UUID{expA.ID, expB.ID}, *stored.ExpenseID)
	assert.Equal(t, int64(2), stored.Version)
}

func TestExpectedVersion_StaleIsConflict(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	tx := f.tx(t, nil)

	stale := int64(7)
	_, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID, ExpectedVersion: &stale})
	assert.ErrorIs(t, err, ErrConflict)

	current := int64(1)
	_, err = f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID, ExpectedVersion: &current})
	require.NoError(t, err)
	f.reload(t, tx.ID)
}

func TestApplySuggestion(t *testing.T) {
	f := newFixture(t)
	fuel := f.category(t, "FUEL", "petrol")
	tx := f.tx(t, func(tx *models.BankTransaction) {
		tx.PaymentPurpose = "petrol for delivery van"
	})

	got, err := f.svc.ApplySuggestion(f.ctx, tx.ID, ApplySuggestionRequest{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCategorized, got.Status)
	require.NotNil(t, got.CategoryConfidence)
	assert.InDelta(t, 0.5, *got.CategoryConfidence, 0.0001)
	assert.Equal(t, fuel.ID, *got.CategoryID)

	history, err := f.svc.History(f.ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ActionApplySuggestion, history[0].Action)
	f.reload(t, tx.ID)
}

func TestApplySuggestion_NothingToApply(t *testing.T) {
	f := newFixture(t)
	f.category(t, "FUEL", "petrol")
	tx := f.tx(t, func(tx *models.BankTransaction) {
		tx.PaymentPurpose = "office chairs"
	})

	_, err := f.svc.ApplySuggestion(f.ctx, tx.ID, ApplySuggestionRequest{})
	assert.ErrorIs(t, err, ErrValidation)

	other := uuid.New()
	_, err = f.svc.ApplySuggestion(f.ctx, tx.ID, ApplySuggestionRequest{CategoryID: &other})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestUpdate_CategoryAndStatusInOneWrite(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	tx := f.tx(t, nil)
	notes := "checked"
	approved := models.StatusApproved

	got, err := f.svc.Update(f.ctx, tx.ID, UpdateRequest{Notes: &notes, CategoryID: &cat.ID, Status: &approved})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "checked", f.reload(t, tx.ID).Notes)

	_, err = f.svc.Update(f.ctx, tx.ID, UpdateRequest{ClearCategory: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdate_ClearCategoryReturnsToNew(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	tx := f.tx(t, nil)
	_, err := f.svc.Categorize(f.ctx, tx.ID, CategorizeRequest{CategoryID: cat.ID})
	require.NoError(t, err)

	got, err := f.svc.Update(f.ctx, tx.ID, UpdateRequest{ClearCategory: true})
	require.NoError(t, err)
	assert.Equal(t, models.StatusNew, got.Status)
	assert.Nil(t, f.reload(t, tx.ID).CategoryID)

	_, err = f.svc.Update(f.ctx, tx.ID, UpdateRequest{ClearCategory: true, CategoryID: &cat.ID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	tx := f.tx(t, nil)
	other := uuid.New()

	err := f.svc.Delete(f.ctx, tx.ID, &other)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, f.svc.Delete(f.ctx, tx.ID, &f.dept))
	_, err = f.svc.Get(f.ctx, tx.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	history, err := f.svc.History(f.ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ActionDelete, history[0].Action)
}
