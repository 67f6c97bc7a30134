// Package reconciliation owns every write to a bank transaction's
// lifecycle: single-record actions, bulk operations and the read models
// (list, stats, analytics) built on the same filters.
package reconciliation

import (
	"gorm.io/gorm"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/classification"
)

type ReconciliationService struct {
	db              *gorm.DB
	transactionRepo *repository.BankTransactionRepository
	expenseRepo     *repository.ExpenseRepository
	categoryRepo    *repository.CategoryRepository
	auditRepo       *repository.AuditLogRepository
	classifier      *classification.Classifier
	bulk            config.BulkConfig
}

func NewReconciliationService(
	transactionRepo *repository.BankTransactionRepository,
	expenseRepo *repository.ExpenseRepository,
	categoryRepo *repository.CategoryRepository,
	auditRepo *repository.AuditLogRepository,
	classifier *classification.Classifier,
	bulk config.BulkConfig,
) *ReconciliationService {
	return &ReconciliationService{
		db:              transactionRepo.DB(),
		transactionRepo: transactionRepo,
		expenseRepo:     expenseRepo,
		categoryRepo:    categoryRepo,
		auditRepo:       auditRepo,
		classifier:      classifier,
		bulk:            bulk,
	}
}

func (s *ReconciliationService) TransactionRepo() *repository.BankTransactionRepository {
	return s.transactionRepo
}

func (s *ReconciliationService) DB() *gorm.DB {
	return s.db
}
