package reconciliation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/metrics"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/services/classification"
)

const (
	ActionCategorize      = "categorize"
	ActionApplySuggestion = "apply_suggestion"
	ActionLink            = "link"
	ActionUnlink          = "unlink"
	ActionApprove         = "approve"
	ActionReview          = "review"
	ActionIgnore          = "ignore"
	ActionSetStatus       = "set_status"
	ActionUpdate          = "update"
	ActionDelete          = "delete"
	ActionAutoCategorize  = "auto_categorize"
	ActionAutoReview      = "auto_review"
)

// mutation describes one single-record write. apply edits a copy of the
// current row; the copy is then stored with a compare-and-set on the
// version that was read.
type mutation struct {
	action          string
	reason          string
	scope           *uuid.UUID
	expectedVersion *int64
	apply           func(ctx context.Context, tx *models.BankTransaction) error
}

func (s *ReconciliationService) mutate(ctx context.Context, id uuid.UUID, m mutation) (*models.BankTransaction, error) {
	next, err := s.doMutate(ctx, id, m)
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	} else if next.noop {
		outcome = "noop"
	}
	metrics.LifecycleMutations.WithLabelValues(m.action, outcome).Inc()

	log := logger.FromContext(ctx)
	if err != nil {
		log.Info().Err(err).
			Str("transaction_id", id.String()).
			Str("action", m.action).
			Msg("transaction mutation rejected")
		return nil, err
	}
	log.Info().
		Str("transaction_id", id.String()).
		Str("action", m.action).
		Str("status", string(next.tx.Status)).
		Int64("version", next.tx.Version).
		Bool("noop", next.noop).
		Msg("transaction mutated")
	return next.tx, nil
}

type mutated struct {
	tx   *models.BankTransaction
	noop bool
}

func (s *ReconciliationService) doMutate(ctx context.Context, id uuid.UUID, m mutation) (mutated, error) {
	cur, err := s.transactionRepo.GetByID(ctx, id)
	if err != nil {
		return mutated{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	if m.scope != nil && cur.DepartmentID != *m.scope {
		return mutated{}, fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	if m.expectedVersion != nil && *m.expectedVersion != cur.Version {
		return mutated{}, fmt.Errorf("transaction %s is at version %d, not %d: %w", id, cur.Version, *m.expectedVersion, ErrConflict)
	}

	next := *cur
	if err := m.apply(ctx, &next); err != nil {
		return mutated{}, err
	}
	if sameState(cur, &next) {
		return mutated{tx: cur, noop: true}, nil
	}
	if err := checkInvariants(&next); err != nil {
		return mutated{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		ok, err := s.transactionRepo.WithTx(dbtx).CompareAndSwap(ctx, &next, cur.Version)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("expense is already linked to another transaction: %w", ErrConflict)
		}
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("transaction %s changed since version %d: %w", id, cur.Version, ErrConflict)
		}
		return s.auditRepo.WithTx(dbtx).Create(ctx, auditEntry(ctx, m, cur, &next))
	})
	if err != nil {
		return mutated{}, err
	}
	return mutated{tx: &next}, nil
}

func auditEntry(ctx context.Context, m mutation, prev, next *models.BankTransaction) *models.TransactionAuditLog {
	entry := &models.TransactionAuditLog{
		ID:               uuid.New(),
		TransactionID:    prev.ID,
		Action:           m.action,
		PreviousStatus:   prev.Status,
		PreviousCategory: prev.CategoryID,
		PreviousExpense:  prev.ExpenseID,
		PerformedBy:      ActorFrom(ctx),
		Reason:           m.reason,
	}
	if next != nil {
		entry.NewStatus = next.Status
		entry.NewCategory = next.CategoryID
		entry.NewExpense = next.ExpenseID
	}
	return entry
}

func sameState(a, b *models.BankTransaction) bool {
	return a.Status == b.Status &&
		a.Notes == b.Notes &&
		equalID(a.CategoryID, b.CategoryID) &&
		equalID(a.ExpenseID, b.ExpenseID) &&
		equalFloat(a.CategoryConfidence, b.CategoryConfidence) &&
		equalID(a.SuggestedCategoryID, b.SuggestedCategoryID) &&
		equalID(a.SuggestedExpenseID, b.SuggestedExpenseID)
}

func equalID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// checkInvariants guards the relationship between status and the
// authoritative assignments after every edit.
func checkInvariants(tx *models.BankTransaction) error {
	switch {
	case !tx.Status.Valid():
		return fmt.Errorf("unknown status %q: %w", tx.Status, ErrValidation)
	case tx.CategoryID != nil && tx.Status != models.StatusCategorized && tx.Status != models.StatusMatched && tx.Status != models.StatusApproved:
		return fmt.Errorf("a %s record cannot carry a category: %w", tx.Status, ErrInvalidTransition)
	case tx.ExpenseID != nil && tx.Status != models.StatusMatched && tx.Status != models.StatusApproved:
		return fmt.Errorf("a %s record cannot be linked to an expense: %w", tx.Status, ErrInvalidTransition)
	case tx.Status == models.StatusCategorized && tx.CategoryID == nil:
		return fmt.Errorf("CATEGORIZED requires a category: %w", ErrInvalidTransition)
	case tx.Status == models.StatusMatched && tx.ExpenseID == nil:
		return fmt.Errorf("MATCHED requires an expense link: %w", ErrInvalidTransition)
	case tx.Status == models.StatusApproved && tx.CategoryID == nil && tx.ExpenseID == nil:
		return fmt.Errorf("APPROVED requires a category or an expense link: %w", ErrInvalidTransition)
	}
	return nil
}

// transition moves tx to target and applies the side effects the target
// implies. Moving to the current status changes nothing.
func (s *ReconciliationService) transition(ctx context.Context, tx *models.BankTransaction, target models.TransactionStatus) error {
	if !target.Valid() {
		return fmt.Errorf("unknown status %q: %w", target, ErrValidation)
	}
	if tx.Status == target {
		return nil
	}

	switch target {
	case models.StatusCategorized:
		if tx.CategoryID == nil {
			return fmt.Errorf("%s -> CATEGORIZED requires a category: %w", tx.Status, ErrInvalidTransition)
		}
		if tx.ExpenseID != nil {
			return fmt.Errorf("record is linked to an expense, unlink it first: %w", ErrInvalidTransition)
		}
	case models.StatusMatched:
		if tx.ExpenseID == nil {
			return fmt.Errorf("%s -> MATCHED requires an expense link: %w", tx.Status, ErrInvalidTransition)
		}
	case models.StatusApproved:
		if tx.Status != models.StatusCategorized && tx.Status != models.StatusMatched {
			return fmt.Errorf("only CATEGORIZED or MATCHED records can be approved, not %s: %w", tx.Status, ErrInvalidTransition)
		}
	case models.StatusNeedsReview:
		s.moveToSuggestions(ctx, tx)
	case models.StatusIgnored:
		tx.CategoryID = nil
		tx.CategoryConfidence = nil
		tx.ExpenseID = nil
		tx.ClearSuggestions()
	case models.StatusNew:
		if tx.Status == models.StatusApproved {
			return fmt.Errorf("APPROVED records go back through review, not to NEW: %w", ErrInvalidTransition)
		}
		tx.CategoryID = nil
		tx.CategoryConfidence = nil
		tx.ExpenseID = nil
	}
	tx.Status = target
	return nil
}

// moveToSuggestions demotes the authoritative assignments into the advisory
// fields so a reviewer still sees what was there.
func (s *ReconciliationService) moveToSuggestions(ctx context.Context, tx *models.BankTransaction) {
	if tx.CategoryID != nil {
		tx.SuggestedCategoryID = tx.CategoryID
		tx.SuggestedCategoryConfidence = tx.CategoryConfidence
		tx.SuggestedCategoryName = ""
		if cat, err := s.categoryRepo.GetByID(ctx, *tx.CategoryID); err == nil {
			tx.SuggestedCategoryName = cat.Name
		}
	}
	if tx.ExpenseID != nil {
		tx.SuggestedExpenseID = tx.ExpenseID
		tx.SuggestedExpenseScore = nil
	}
	tx.CategoryID = nil
	tx.CategoryConfidence = nil
	tx.ExpenseID = nil
}

func (s *ReconciliationService) lookupCategory(ctx context.Context, tx *models.BankTransaction, id uuid.UUID) (*models.BudgetCategory, error) {
	cat, err := s.categoryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("category %s: %w", id, err)
	}
	if cat.DepartmentID != nil && *cat.DepartmentID != tx.DepartmentID {
		return nil, fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return cat, nil
}

func applyCategory(tx *models.BankTransaction, cat *models.BudgetCategory, confidence *float64) error {
	switch tx.Status {
	case models.StatusNew, models.StatusCategorized, models.StatusMatched, models.StatusNeedsReview:
	default:
		return fmt.Errorf("cannot categorize a %s record: %w", tx.Status, ErrInvalidTransition)
	}
	id := cat.ID
	tx.CategoryID = &id
	tx.CategoryConfidence = confidence
	tx.SuggestedCategoryID = nil
	tx.SuggestedCategoryName = ""
	tx.SuggestedCategoryConfidence = nil
	if tx.ExpenseID != nil {
		tx.Status = models.StatusMatched
	} else {
		tx.Status = models.StatusCategorized
	}
	return nil
}

func (s *ReconciliationService) Get(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	tx, err := s.transactionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", id, err)
	}
	return tx, nil
}

type CategorizeRequest struct {
	CategoryID      uuid.UUID
	Notes           *string
	ExpectedVersion *int64
}

// Categorize assigns a category chosen by a person.
func (s *ReconciliationService) Categorize(ctx context.Context, id uuid.UUID, req CategorizeRequest) (*models.BankTransaction, error) {
	return s.categorize(ctx, id, req, nil, ActionCategorize, nil)
}

func (s *ReconciliationService) categorize(ctx context.Context, id uuid.UUID, req CategorizeRequest, confidence *float64, action string, scope *uuid.UUID) (*models.BankTransaction, error) {
	return s.mutate(ctx, id, mutation{
		action:          action,
		scope:           scope,
		expectedVersion: req.ExpectedVersion,
		apply: func(ctx context.Context, tx *models.BankTransaction) error {
			cat, err := s.lookupCategory(ctx, tx, req.CategoryID)
			if err != nil {
				return err
			}
			if req.Notes != nil {
				tx.Notes = *req.Notes
			}
			return applyCategory(tx, cat, confidence)
		},
	})
}

type ApplySuggestionRequest struct {
	// CategoryID picks one of the current suggestions; nil takes the best.
	CategoryID      *uuid.UUID
	ExpectedVersion *int64
}

// ApplySuggestion accepts a classifier suggestion, recording its confidence.
func (s *ReconciliationService) ApplySuggestion(ctx context.Context, id uuid.UUID, req ApplySuggestionRequest) (*models.BankTransaction, error) {
	tx, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.classifier.SuggestFor(ctx, tx, 10)
	if err != nil {
		return nil, err
	}
	chosen, err := pickSuggestion(tx, suggestions, req.CategoryID)
	if err != nil {
		return nil, err
	}
	confidence := chosen.Confidence
	return s.categorize(ctx, id, CategorizeRequest{
		CategoryID:      chosen.CategoryID,
		ExpectedVersion: req.ExpectedVersion,
	}, &confidence, ActionApplySuggestion, nil)
}

func pickSuggestion(tx *models.BankTransaction, suggestions []classification.Suggestion, want *uuid.UUID) (classification.Suggestion, error) {
	persisted := func() (classification.Suggestion, bool) {
		if tx.SuggestedCategoryID == nil {
			return classification.Suggestion{}, false
		}
		conf := 0.0
		if tx.SuggestedCategoryConfidence != nil {
			conf = *tx.SuggestedCategoryConfidence
		}
		return classification.Suggestion{
			CategoryID:   *tx.SuggestedCategoryID,
			CategoryName: tx.SuggestedCategoryName,
			Confidence:   conf,
		}, true
	}

	if want == nil {
		if len(suggestions) > 0 {
			return suggestions[0], nil
		}
		if p, ok := persisted(); ok {
			return p, nil
		}
		return classification.Suggestion{}, fmt.Errorf("no category suggestion is available: %w", ErrValidation)
	}
	for _, sg := range suggestions {
		if sg.CategoryID == *want {
			return sg, nil
		}
	}
	if p, ok := persisted(); ok && p.CategoryID == *want {
		return p, nil
	}
	return classification.Suggestion{}, fmt.Errorf("category %s is not among the current suggestions: %w", *want, ErrValidation)
}

// AutoCategorize applies a suggestion on behalf of automation. It only
// succeeds if the record is still at expectedVersion.
func (s *ReconciliationService) AutoCategorize(ctx context.Context, id uuid.UUID, sg classification.Suggestion, expectedVersion int64) (*models.BankTransaction, error) {
	confidence := sg.Confidence
	return s.categorize(ctx, id, CategorizeRequest{
		CategoryID:      sg.CategoryID,
		ExpectedVersion: &expectedVersion,
	}, &confidence, ActionAutoCategorize, nil)
}

// FlagWithSuggestion moves a record to NEEDS_REVIEW and stores sg as the
// suggested category for the reviewer.
func (s *ReconciliationService) FlagWithSuggestion(ctx context.Context, id uuid.UUID, sg classification.Suggestion, expectedVersion int64) (*models.BankTransaction, error) {
	return s.mutate(ctx, id, mutation{
		action:          ActionAutoReview,
		reason:          fmt.Sprintf("suggestion confidence %.2f is below the auto-apply threshold", sg.Confidence),
		expectedVersion: &expectedVersion,
		apply: func(ctx context.Context, tx *models.BankTransaction) error {
			if err := s.transition(ctx, tx, models.StatusNeedsReview); err != nil {
				return err
			}
			id := sg.CategoryID
			confidence := sg.Confidence
			tx.SuggestedCategoryID = &id
			tx.SuggestedCategoryName = sg.CategoryName
			tx.SuggestedCategoryConfidence = &confidence
			return nil
		},
	})
}

type LinkRequest struct {
	ExpenseID       uuid.UUID
	ExpectedVersion *int64
}

type LinkResult struct {
	Transaction *models.BankTransaction `json:"transaction"`
	// CategoryMissing flags a record matched before it was categorized.
	CategoryMissing bool `json:"category_missing"`
}

// Link settles the record against an expense. Linking a record that is
// already linked to a different expense is a conflict; unlink it first.
func (s *ReconciliationService) Link(ctx context.Context, id uuid.UUID, req LinkRequest) (*LinkResult, error) {
	tx, err := s.mutate(ctx, id, mutation{
		action:          ActionLink,
		expectedVersion: req.ExpectedVersion,
		apply: func(ctx context.Context, tx *models.BankTransaction) error {
			switch tx.Status {
			case models.StatusNew, models.StatusCategorized, models.StatusMatched, models.StatusNeedsReview:
			default:
				return fmt.Errorf("cannot link a %s record: %w", tx.Status, ErrInvalidTransition)
			}
			if tx.ExpenseID != nil && *tx.ExpenseID != req.ExpenseID {
				return fmt.Errorf("transaction is already linked to expense %s: %w", *tx.ExpenseID, ErrConflict)
			}

			exp, err := s.expenseRepo.GetByID(ctx, req.ExpenseID)
			if err != nil {
				return fmt.Errorf("expense %s: %w", req.ExpenseID, err)
			}
			if exp.DepartmentID != tx.DepartmentID {
				return fmt.Errorf("expense %s: %w", req.ExpenseID, ErrNotFound)
			}
			if tx.OrganizationID != nil && exp.OrganizationID != nil && *tx.OrganizationID != *exp.OrganizationID {
				return fmt.Errorf("expense belongs to another organization: %w", ErrValidation)
			}
			owners, err := s.transactionRepo.LinkedExpenseOwners(ctx, []uuid.UUID{exp.ID}, tx.ID)
			if err != nil {
				return err
			}
			if owner, taken := owners[exp.ID]; taken {
				return fmt.Errorf("expense is already linked to transaction %s: %w", owner, ErrConflict)
			}

			id := exp.ID
			tx.ExpenseID = &id
			tx.SuggestedExpenseID = nil
			tx.SuggestedExpenseScore = nil
			tx.MatchDetails = nil
			tx.Status = models.StatusMatched
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return &LinkResult{Transaction: tx, CategoryMissing: tx.CategoryID == nil}, nil
}

// Unlink removes the expense link from a MATCHED record.
func (s *ReconciliationService) Unlink(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*models.BankTransaction, error) {
	return s.mutate(ctx, id, mutation{
		action:          ActionUnlink,
		expectedVersion: expectedVersion,
		apply: func(_ context.Context, tx *models.BankTransaction) error {
			if tx.Status != models.StatusMatched {
				return fmt.Errorf("only MATCHED records can be unlinked, not %s: %w", tx.Status, ErrInvalidTransition)
			}
			tx.ExpenseID = nil
			if tx.CategoryID != nil {
				tx.Status = models.StatusCategorized
			} else {
				tx.Status = models.StatusNew
			}
			return nil
		},
	})
}

func (s *ReconciliationService) Approve(ctx context.Context, id uuid.UUID, expectedVersion *int64) (*models.BankTransaction, error) {
	return s.setStatus(ctx, id, models.StatusApproved, ActionApprove, "", expectedVersion, nil)
}

// Review flags a record for a person to look at.
func (s *ReconciliationService) Review(ctx context.Context, id uuid.UUID, reason string, expectedVersion *int64) (*models.BankTransaction, error) {
	return s.setStatus(ctx, id, models.StatusNeedsReview, ActionReview, reason, expectedVersion, nil)
}

func (s *ReconciliationService) Ignore(ctx context.Context, id uuid.UUID, reason string, expectedVersion *int64) (*models.BankTransaction, error) {
	return s.setStatus(ctx, id, models.StatusIgnored, ActionIgnore, reason, expectedVersion, nil)
}

func (s *ReconciliationService) SetStatus(ctx context.Context, id uuid.UUID, status models.TransactionStatus, expectedVersion *int64) (*models.BankTransaction, error) {
	return s.setStatus(ctx, id, status, ActionSetStatus, "", expectedVersion, nil)
}

func (s *ReconciliationService) setStatus(ctx context.Context, id uuid.UUID, status models.TransactionStatus, action, reason string, expectedVersion *int64, scope *uuid.UUID) (*models.BankTransaction, error) {
	return s.mutate(ctx, id, mutation{
		action:          action,
		reason:          reason,
		scope:           scope,
		expectedVersion: expectedVersion,
		apply: func(ctx context.Context, tx *models.BankTransaction) error {
			return s.transition(ctx, tx, status)
		},
	})
}

type UpdateRequest struct {
	Notes           *string
	CategoryID      *uuid.UUID
	ClearCategory   bool
	Status          *models.TransactionStatus
	ExpectedVersion *int64
}

// Update applies notes, category and status changes as one write. The
// category is applied before the status so that "categorize and approve"
// works in a single call.
func (s *ReconciliationService) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*models.BankTransaction, error) {
	if req.ClearCategory && req.CategoryID != nil {
		return nil, fmt.Errorf("category_id and clear_category are mutually exclusive: %w", ErrValidation)
	}
	return s.mutate(ctx, id, mutation{
		action:          ActionUpdate,
		expectedVersion: req.ExpectedVersion,
		apply: func(ctx context.Context, tx *models.BankTransaction) error {
			if req.Notes != nil {
				tx.Notes = *req.Notes
			}
			switch {
			case req.ClearCategory && tx.CategoryID != nil:
				if tx.Status == models.StatusApproved {
					return fmt.Errorf("cannot clear the category of an APPROVED record: %w", ErrInvalidTransition)
				}
				tx.CategoryID = nil
				tx.CategoryConfidence = nil
				if tx.Status == models.StatusCategorized {
					tx.Status = models.StatusNew
				}
			case req.CategoryID != nil && !equalID(tx.CategoryID, req.CategoryID):
				cat, err := s.lookupCategory(ctx, tx, *req.CategoryID)
				if err != nil {
					return err
				}
				if err := applyCategory(tx, cat, nil); err != nil {
					return err
				}
			}
			if req.Status != nil {
				return s.transition(ctx, tx, *req.Status)
			}
			return nil
		},
	})
}

// Delete hard-deletes a record. The audit trail keeps a row for it.
func (s *ReconciliationService) Delete(ctx context.Context, id uuid.UUID, scope *uuid.UUID) error {
	err := s.deleteOne(ctx, id, scope)
	outcome := "ok"
	if err != nil {
		outcome = ErrorCode(err)
	}
	metrics.LifecycleMutations.WithLabelValues(ActionDelete, outcome).Inc()
	return err
}

func (s *ReconciliationService) deleteOne(ctx context.Context, id uuid.UUID, scope *uuid.UUID) error {
	cur, err := s.transactionRepo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("transaction %s: %w", id, err)
	}
	if scope != nil && cur.DepartmentID != *scope {
		return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
	}
	return s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		deleted, err := s.transactionRepo.WithTx(dbtx).Delete(ctx, id, scope)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("transaction %s: %w", id, ErrNotFound)
		}
		return s.auditRepo.WithTx(dbtx).Create(ctx, auditEntry(ctx, mutation{action: ActionDelete}, cur, nil))
	})
}

// History returns the audit trail of a record, oldest first.
func (s *ReconciliationService) History(ctx context.Context, id uuid.UUID) ([]models.TransactionAuditLog, error) {
	return s.auditRepo.ListByTransaction(ctx, id)
}
