package reconciliation

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bank-reconciliation-backend/internal/models"
)

func TestBulkCategorize_MixedWithIgnored(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		ids = append(ids, f.tx(t, nil).ID)
	}
	ignored := []uuid.UUID{
		f.tx(t, func(tx *models.BankTransaction) { tx.Status = models.StatusIgnored }).ID,
		f.tx(t, func(tx *models.BankTransaction) { tx.Status = models.StatusIgnored }).ID,
	}
	ids = append(ids, ignored...)

	res, err := f.svc.BulkCategorize(f.ctx, BulkCategorizeRequest{IDs: ids, CategoryID: cat.ID})
	require.NoError(t, err)
	assert.Equal(t, BulkCategorizeOp, res.Operation)
	assert.Equal(t, 7, res.TotalCount)
	assert.Equal(t, 5, res.UpdatedCount)
	assert.Equal(t, 2, res.FailedCount)
	assert.Equal(t, res.TotalCount, res.UpdatedCount+res.FailedCount)

	require.Len(t, res.Failures, 2)
	for _, fail := range res.Failures {
		assert.Contains(t, ignored, fail.ID)
		assert.Equal(t, CodeInvalidTransition, fail.Code)
	}
	for _, id := range ids[:5] {
		stored := f.reload(t, id)
		assert.Equal(t, models.StatusCategorized, stored.Status)
	}
	for _, id := range ignored {
		assert.Equal(t, models.StatusIgnored, f.reload(t, id).Status)
	}
}

func TestBulkCategorize_DedupesAndReportsMissing(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	a := f.tx(t, nil).ID
	missing := uuid.New()

	res, err := f.svc.BulkCategorize(f.ctx, BulkCategorizeRequest{IDs: []uuid.UUID{a, missing, a}, CategoryID: cat.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalCount)
	assert.Equal(t, 1, res.UpdatedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, missing, res.Failures[0].ID)
	assert.Equal(t, CodeNotFound, res.Failures[0].Code)
}

func TestBulkCategorize_RequestErrors(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")

	_, err := f.svc.BulkCategorize(f.ctx, BulkCategorizeRequest{CategoryID: cat.ID})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.BulkCategorize(f.ctx, BulkCategorizeRequest{IDs: []uuid.UUID{f.tx(t, nil).ID}, CategoryID: uuid.New()})
	assert.ErrorIs(t, err, ErrNotFound)

	f.svc.bulk.MaxIDs = 2
	_, err = f.svc.BulkCategorize(f.ctx, BulkCategorizeRequest{IDs: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}, CategoryID: cat.ID})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBulkUpdateStatus_DepartmentScope(t *testing.T) {
	f := newFixture(t)
	mine := f.tx(t, nil).ID
	foreign := f.tx(t, func(tx *models.BankTransaction) { tx.DepartmentID = uuid.New() }).ID

	res, err := f.svc.BulkUpdateStatus(f.ctx, BulkStatusRequest{
		IDs:          []uuid.UUID{mine, foreign},
		Status:       models.StatusIgnored,
		DepartmentID: &f.dept,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, foreign, res.Failures[0].ID)
	assert.Equal(t, CodeNotFound, res.Failures[0].Code)
	assert.Equal(t, models.StatusIgnored, f.reload(t, mine).Status)
	assert.Equal(t, models.StatusNew, f.reload(t, foreign).Status)

	_, err = f.svc.BulkUpdateStatus(f.ctx, BulkStatusRequest{IDs: []uuid.UUID{mine}, Status: "DONE"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBulkUpdateStatus_ApproveNeedsPrecondition(t *testing.T) {
	f := newFixture(t)
	cat := f.category(t, "RENT")
	ready := f.tx(t, nil).ID
	_, err := f.svc.Categorize(f.ctx, ready, CategorizeRequest{CategoryID: cat.ID})
	require.NoError(t, err)
	fresh := f.tx(t, nil).ID

	res, err := f.svc.BulkUpdateStatus(f.ctx, BulkStatusRequest{IDs: []uuid.UUID{ready, fresh}, Status: models.StatusApproved})
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, fresh, res.Failures[0].ID)
	assert.Equal(t, CodeInvalidTransition, res.Failures[0].Code)
	assert.Equal(t, models.StatusApproved, f.reload(t, ready).Status)
	assert.Equal(t, models.StatusNew, f.reload(t, fresh).Status)
}

func TestBulkDelete(t *testing.T) {
	f := newFixture(t)
	a := f.tx(t, nil).ID
	b := f.tx(t, nil).ID
	missing := uuid.New()

	res, err := f.svc.BulkDelete(f.ctx, BulkDeleteRequest{IDs: []uuid.UUID{a, b, missing}})
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalCount)
	assert.Equal(t, 2, res.DeletedCount)
	assert.Equal(t, 0, res.UpdatedCount)
	assert.Equal(t, 1, res.FailedCount)

	_, err = f.svc.Get(f.ctx, a)
	assert.ErrorIs(t, err, ErrNotFound)
}
