package reconciliation

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/metrics"
	"bank-reconciliation-backend/internal/models"
)

const (
	BulkCategorizeOp = "categorize"
	BulkStatusOp     = "status"
	BulkDeleteOp     = "delete"
)

type BulkFailure struct {
	ID      uuid.UUID `json:"id"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// BulkResult is always returned for a structurally valid request, however
// many items failed. UpdatedCount + DeletedCount + FailedCount == TotalCount.
type BulkResult struct {
	Operation    string        `json:"operation"`
	TotalCount   int           `json:"total_count"`
	UpdatedCount int           `json:"updated_count"`
	DeletedCount int           `json:"deleted_count"`
	FailedCount  int           `json:"failed_count"`
	Failures     []BulkFailure `json:"failures"`
}

type BulkCategorizeRequest struct {
	IDs          []uuid.UUID
	CategoryID   uuid.UUID
	DepartmentID *uuid.UUID
}

type BulkStatusRequest struct {
	IDs          []uuid.UUID
	Status       models.TransactionStatus
	DepartmentID *uuid.UUID
}

type BulkDeleteRequest struct {
	IDs          []uuid.UUID
	DepartmentID *uuid.UUID
}

func (s *ReconciliationService) BulkCategorize(ctx context.Context, req BulkCategorizeRequest) (*BulkResult, error) {
	ids, err := s.bulkIDs(req.IDs)
	if err != nil {
		return nil, err
	}
	if _, err := s.categoryRepo.GetByID(ctx, req.CategoryID); err != nil {
		return nil, fmt.Errorf("category %s: %w", req.CategoryID, err)
	}
	return s.runBulk(ctx, BulkCategorizeOp, ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.categorize(ctx, id, CategorizeRequest{CategoryID: req.CategoryID}, nil, ActionCategorize, req.DepartmentID)
		return err
	}), nil
}

func (s *ReconciliationService) BulkUpdateStatus(ctx context.Context, req BulkStatusRequest) (*BulkResult, error) {
	if !req.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", req.Status, ErrValidation)
	}
	ids, err := s.bulkIDs(req.IDs)
	if err != nil {
		return nil, err
	}
	return s.runBulk(ctx, BulkStatusOp, ids, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.setStatus(ctx, id, req.Status, ActionSetStatus, "bulk status update", nil, req.DepartmentID)
		return err
	}), nil
}

func (s *ReconciliationService) BulkDelete(ctx context.Context, req BulkDeleteRequest) (*BulkResult, error) {
	ids, err := s.bulkIDs(req.IDs)
	if err != nil {
		return nil, err
	}
	return s.runBulk(ctx, BulkDeleteOp, ids, func(ctx context.Context, id uuid.UUID) error {
		return s.Delete(ctx, id, req.DepartmentID)
	}), nil
}

// bulkIDs removes repeated ids, keeping the first position of each.
func (s *ReconciliationService) bulkIDs(ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("ids must not be empty: %w", ErrValidation)
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if s.bulk.MaxIDs > 0 && len(out) > s.bulk.MaxIDs {
		return nil, fmt.Errorf("at most %d ids per request, got %d: %w", s.bulk.MaxIDs, len(out), ErrValidation)
	}
	return out, nil
}

// runBulk fans the ids out to a fixed set of workers. Every item goes
// through the single-record path, so each one is its own compare-and-set
// and a failure never touches the others.
func (s *ReconciliationService) runBulk(ctx context.Context, op string, ids []uuid.UUID, fn func(context.Context, uuid.UUID) error) *BulkResult {
	workers := s.bulk.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(ids) {
		workers = len(ids)
	}

	errs := make([]error, len(ids))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					continue
				}
				errs[i] = fn(ctx, ids[i])
			}
		}()
	}
	for i := range ids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	result := &BulkResult{Operation: op, TotalCount: len(ids), Failures: []BulkFailure{}}
	for i, err := range errs {
		if err != nil {
			result.FailedCount++
			result.Failures = append(result.Failures, BulkFailure{ID: ids[i], Code: ErrorCode(err), Message: err.Error()})
			metrics.BulkItems.WithLabelValues(op, "failed").Inc()
			continue
		}
		if op == BulkDeleteOp {
			result.DeletedCount++
		} else {
			result.UpdatedCount++
		}
		metrics.BulkItems.WithLabelValues(op, "ok").Inc()
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("operation", op).
		Int("total", result.TotalCount).
		Int("updated", result.UpdatedCount).
		Int("deleted", result.DeletedCount).
		Int("failed", result.FailedCount).
		Msg("bulk operation finished")
	return result
}
