package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bank-reconciliation-backend/internal/models"
)

type BankTransactionRepository struct {
	db *gorm.DB
}

func NewBankTransactionRepository(db *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: db}
}

func (r *BankTransactionRepository) DB() *gorm.DB {
	return r.db
}

func (r *BankTransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	err := r.db.WithContext(ctx).First(&tx, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// InsertIfAbsent inserts tx unless its (department_id, dedup_key) already
// exists. It reports whether a row was written.
func (r *BankTransactionRepository) InsertIfAbsent(ctx context.Context, tx *models.BankTransaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "department_id"}, {Name: "dedup_key"}},
			DoNothing: true,
		}).
		Create(tx)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *BankTransactionRepository) FindByDedupKey(ctx context.Context, departmentID uuid.UUID, key string) (*models.BankTransaction, error) {
	var tx models.BankTransaction
	err := r.db.WithContext(ctx).
		Where("department_id = ? AND dedup_key = ?", departmentID, key).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// CompareAndSwap writes the mutable columns of next only if the stored row
// still carries expectedVersion, and bumps the version. A false result with a
// nil error means another writer got there first (or the row is gone).
func (r *BankTransactionRepository) CompareAndSwap(ctx context.Context, next *models.BankTransaction, expectedVersion int64) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Where("id = ? AND version = ?", next.ID, expectedVersion).
		Updates(map[string]interface{}{
			"status":                        next.Status,
			"category_id":                   next.CategoryID,
			"category_confidence":           next.CategoryConfidence,
			"suggested_category_id":         next.SuggestedCategoryID,
			"suggested_category_name":       next.SuggestedCategoryName,
			"suggested_category_confidence": next.SuggestedCategoryConfidence,
			"expense_id":                    next.ExpenseID,
			"suggested_expense_id":          next.SuggestedExpenseID,
			"suggested_expense_score":       next.SuggestedExpenseScore,
			"match_details":                 next.MatchDetails,
			"notes":                         next.Notes,
			"payment_purpose":               next.PaymentPurpose,
			"document_number":               next.DocumentNumber,
			"document_date":                 next.DocumentDate,
			"counterparty_name":             next.CounterpartyName,
			"counterparty_tax_id":           next.CounterpartyTaxID,
			"counterparty_bank_name":        next.CounterpartyBankName,
			"counterparty_bank_branch":      next.CounterpartyBankBranch,
			"version":                       expectedVersion + 1,
			"updated_at":                    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	return true, nil
}

// SaveSuggestions persists advisory fields only. It never bumps the version,
// so it cannot make a concurrent lifecycle write fail.
func (r *BankTransactionRepository) SaveSuggestions(ctx context.Context, tx *models.BankTransaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Where("id = ? AND version = ?", tx.ID, tx.Version).
		Updates(map[string]interface{}{
			"suggested_category_id":         tx.SuggestedCategoryID,
			"suggested_category_name":       tx.SuggestedCategoryName,
			"suggested_category_confidence": tx.SuggestedCategoryConfidence,
			"suggested_expense_id":          tx.SuggestedExpenseID,
			"suggested_expense_score":       tx.SuggestedExpenseScore,
			"match_details":                 tx.MatchDetails,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Delete hard-deletes a record, optionally scoped to a department.
func (r *BankTransactionRepository) Delete(ctx context.Context, id uuid.UUID, departmentID *uuid.UUID) (bool, error) {
	q := r.db.WithContext(ctx).Where("id = ?", id)
	if departmentID != nil {
		q = q.Where("department_id = ?", *departmentID)
	}
	res := q.Delete(&models.BankTransaction{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *BankTransactionRepository) List(ctx context.Context, f TransactionFilter) ([]models.BankTransaction, int64, error) {
	var total int64
	if err := f.apply(r.db.WithContext(ctx).Model(&models.BankTransaction{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := f.apply(r.db.WithContext(ctx).Model(&models.BankTransaction{})).
		Order("transaction_date DESC").
		Order("id ASC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var txs []models.BankTransaction
	if err := q.Find(&txs).Error; err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// FindAll returns every record matching f, ignoring pagination.
func (r *BankTransactionRepository) FindAll(ctx context.Context, f TransactionFilter) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	err := f.apply(r.db.WithContext(ctx).Model(&models.BankTransaction{})).
		Order("transaction_date ASC").
		Order("id ASC").
		Find(&txs).Error
	return txs, err
}

// CategorizedHistory returns the most recent records in a department that
// carry an authoritative category. It is the classifier's training set.
func (r *BankTransactionRepository) CategorizedHistory(ctx context.Context, departmentID uuid.UUID, exclude uuid.UUID, limit int) ([]models.BankTransaction, error) {
	var txs []models.BankTransaction
	q := r.db.WithContext(ctx).
		Where("department_id = ?", departmentID).
		Where("category_id IS NOT NULL").
		Where("status IN ?", []models.TransactionStatus{models.StatusCategorized, models.StatusMatched, models.StatusApproved}).
		Where("id <> ?", exclude).
		Order("transaction_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&txs).Error
	return txs, err
}

// LinkedExpenseOwners maps each of expenseIDs already linked to a record
// other than exclude (and not ignored) to that record's id.
func (r *BankTransactionRepository) LinkedExpenseOwners(ctx context.Context, expenseIDs []uuid.UUID, exclude uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	owners := make(map[uuid.UUID]uuid.UUID)
	if len(expenseIDs) == 0 {
		return owners, nil
	}
	var rows []struct {
		ID        uuid.UUID
		ExpenseID uuid.UUID
	}
	err := r.db.WithContext(ctx).
		Model(&models.BankTransaction{}).
		Select("id, expense_id").
		Where("expense_id IN ?", expenseIDs).
		Where("id <> ?", exclude).
		Where("status <> ?", models.StatusIgnored).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		owners[row.ExpenseID] = row.ID
	}
	return owners, nil
}

// ListByStatus pages through records with a given status in id order.
func (r *BankTransactionRepository) ListByStatus(ctx context.Context, status models.TransactionStatus, after *uuid.UUID, limit int) ([]models.BankTransaction, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit)
	if after != nil {
		q = q.Where("id > ?", *after)
	}
	var txs []models.BankTransaction
	err := q.Find(&txs).Error
	return txs, err
}

type StatRow struct {
	Status          models.TransactionStatus
	TransactionType models.TransactionType
	Count           int64
	Sum             decimal.Decimal
}

func (r *BankTransactionRepository) StatusTypeTotals(ctx context.Context, f TransactionFilter) ([]StatRow, error) {
	var rows []StatRow
	err := f.apply(r.db.WithContext(ctx).Model(&models.BankTransaction{})).
		Select("status, transaction_type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS sum").
		Group("status, transaction_type").
		Scan(&rows).Error
	return rows, err
}

type CategoryRow struct {
	CategoryID      *uuid.UUID
	TransactionType models.TransactionType
	Count           int64
	Sum             decimal.Decimal
}

func (r *BankTransactionRepository) CategoryTotals(ctx context.Context, f TransactionFilter) ([]CategoryRow, error) {
	var rows []CategoryRow
	err := f.apply(r.db.WithContext(ctx).Model(&models.BankTransaction{})).
		Select("category_id, transaction_type, COUNT(*) AS count, COALESCE(SUM(amount), 0) AS sum").
		Group("category_id, transaction_type").
		Scan(&rows).Error
	return rows, err
}

type DatedAmount struct {
	TransactionDate time.Time
	TransactionType models.TransactionType
	Amount          decimal.Decimal
}

// DatedAmounts returns the minimal projection used for per-month analytics.
func (r *BankTransactionRepository) DatedAmounts(ctx context.Context, f TransactionFilter) ([]DatedAmount, error) {
	var rows []DatedAmount
	err := f.apply(r.db.WithContext(ctx).Model(&models.BankTransaction{})).
		Select("transaction_date, transaction_type, amount").
		Scan(&rows).Error
	return rows, err
}

// WithTx returns a repository bound to an open transaction.
func (r *BankTransactionRepository) WithTx(tx *gorm.DB) *BankTransactionRepository {
	return &BankTransactionRepository{db: tx}
}
