// Package ledgersync pulls transactions from an external ledger in the
// background. Start hands back a task id at once; the task is polled with
// Status until it reaches COMPLETED or FAILED.
package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/ledger"
	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/metrics"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/classification"
	"bank-reconciliation-backend/internal/services/importer"
	"bank-reconciliation-backend/internal/services/reconciliation"
)

// Source labels records and tasks created by a ledger sync.
const Source = "LEDGER"

const syncActor = "ledger-sync"

// Fetcher is the part of the ledger client the worker needs.
type Fetcher interface {
	FetchTransactions(ctx context.Context, q ledger.Query) ([]ledger.Transaction, error)
}

type ClientFactory func(conn ledger.Connection) Fetcher

// DefaultClientFactory builds real ledger HTTP clients.
func DefaultClientFactory(conn ledger.Connection) Fetcher {
	return ledger.NewClient(conn, nil)
}

type StartRequest struct {
	Connection     ledger.Connection
	DepartmentID   uuid.UUID
	OrganizationID *uuid.UUID
	DateFrom       *time.Time
	DateTo         *time.Time
	Timeout        time.Duration
	AutoCategorize bool
}

type Orchestrator struct {
	tasks      *repository.SyncTaskRepository
	txRepo     *repository.BankTransactionRepository
	importer   *importer.Importer
	recon      *reconciliation.ReconciliationService
	classifier *classification.Classifier
	cfg        config.SyncConfig
	thresholds config.ClassificationConfig
	newClient  ClientFactory

	// progress mirrors running and finished tasks so polls skip the database.
	progress sync.Map
	wg       sync.WaitGroup
}

func NewOrchestrator(
	tasks *repository.SyncTaskRepository,
	txRepo *repository.BankTransactionRepository,
	imp *importer.Importer,
	recon *reconciliation.ReconciliationService,
	classifier *classification.Classifier,
	cfg config.SyncConfig,
	thresholds config.ClassificationConfig,
	newClient ClientFactory,
) *Orchestrator {
	if newClient == nil {
		newClient = DefaultClientFactory
	}
	return &Orchestrator{
		tasks:      tasks,
		txRepo:     txRepo,
		importer:   imp,
		recon:      recon,
		classifier: classifier,
		cfg:        cfg,
		thresholds: thresholds,
		newClient:  newClient,
	}
}

// Start validates the request, records a STARTED task and runs the sync on
// its own goroutine. Failures after this point only show up in the task.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*models.SyncTask, error) {
	if err := req.Connection.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, reconciliation.ErrValidation)
	}
	if req.DepartmentID == uuid.Nil {
		return nil, fmt.Errorf("department_id is required: %w", reconciliation.ErrValidation)
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateTo.Before(*req.DateFrom) {
		return nil, fmt.Errorf("date_to is before date_from: %w", reconciliation.ErrValidation)
	}
	timeout, err := o.timeout(req.Timeout)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	task := &models.SyncTask{
		ID:             uuid.New(),
		DepartmentID:   req.DepartmentID,
		OrganizationID: req.OrganizationID,
		Source:         Source,
		Status:         models.SyncStarted,
		StartedAt:      now,
	}
	if err := o.tasks.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("creating sync task: %w", err)
	}
	o.publish(task)

	log := logger.FromContext(ctx)
	log.Info().
		Str("task_id", task.ID.String()).
		Str("department_id", req.DepartmentID.String()).
		Dur("timeout", timeout).
		Msg("ledger sync started")

	snapshot := *task
	o.wg.Add(1)
	go o.run(context.WithoutCancel(ctx), task, req, timeout)
	return &snapshot, nil
}

func (o *Orchestrator) timeout(requested time.Duration) (time.Duration, error) {
	switch {
	case requested < 0:
		return 0, fmt.Errorf("timeout must not be negative: %w", reconciliation.ErrValidation)
	case requested == 0:
		return o.cfg.DefaultTimeout, nil
	case o.cfg.MaxTimeout > 0 && requested > o.cfg.MaxTimeout:
		return o.cfg.MaxTimeout, nil
	}
	return requested, nil
}

// Status can be polled at any time, including after a restart, when the
// task is read back from the database.
func (o *Orchestrator) Status(ctx context.Context, id uuid.UUID) (*models.SyncTask, error) {
	if v, ok := o.progress.Load(id); ok {
		task := v.(models.SyncTask)
		return &task, nil
	}
	task, err := o.tasks.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sync task %s: %w", id, err)
	}
	return task, nil
}

// Wait blocks until every started worker has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) publish(task *models.SyncTask) {
	o.progress.Store(task.ID, *task)
}

func (o *Orchestrator) run(ctx context.Context, task *models.SyncTask, req StartRequest, timeout time.Duration) {
	defer o.wg.Done()
	start := time.Now()
	log := logger.FromContext(ctx).With().Str("task_id", task.ID.String()).Logger()

	runCtx, cancel := context.WithTimeout(reconciliation.WithActor(ctx, syncActor), timeout)
	defer cancel()

	err := o.execute(runCtx, task, req)
	if err == nil && runCtx.Err() != nil {
		err = runCtx.Err()
	}

	completed := time.Now().UTC()
	task.CompletedAt = &completed
	if err != nil {
		task.Status = models.SyncFailed
		task.Error = err.Error()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			task.Error = fmt.Sprintf("sync timed out after %s", timeout)
		}
		log.Warn().Err(err).Msg("ledger sync failed")
	} else {
		task.Status = models.SyncCompleted
		log.Info().
			Int("fetched", task.Fetched).
			Int("created", task.Created).
			Int("updated", task.Updated).
			Int("skipped", task.Skipped).
			Int("auto_categorized", task.AutoCategorized).
			Msg("ledger sync completed")
	}

	// Finished tasks are served from the store; keep the cached copy only
	// when the final save did not land.
	if saveErr := o.tasks.Save(ctx, task); saveErr != nil {
		log.Error().Err(saveErr).Msg("saving sync task")
		o.publish(task)
	} else {
		o.progress.Delete(task.ID)
	}
	metrics.SyncJobs.WithLabelValues(string(task.Status)).Inc()
	metrics.SyncDuration.Observe(time.Since(start).Seconds())
}

func (o *Orchestrator) execute(ctx context.Context, task *models.SyncTask, req StartRequest) error {
	rows, err := o.newClient(req.Connection).FetchTransactions(ctx, ledger.Query{
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	})
	if err != nil {
		return fmt.Errorf("fetching ledger transactions: %w", err)
	}
	task.Fetched = len(rows)
	o.publish(task)

	records := make([]importer.Record, 0, len(rows))
	for i, row := range rows {
		rec, err := toRecord(i+1, row, req.Connection)
		if err != nil {
			task.Invalid++
			log := logger.FromContext(ctx)
			log.Debug().Err(err).Str("ledger_id", row.ID).Msg("skipping ledger row")
			continue
		}
		records = append(records, rec)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res, err := o.importer.Ingest(ctx, records, importer.IngestOptions{
		DepartmentID:   req.DepartmentID,
		OrganizationID: req.OrganizationID,
		Source:         Source,
		EnrichExisting: true,
	})
	if err != nil {
		return fmt.Errorf("ingesting ledger rows: %w", err)
	}
	task.Created = res.Created
	task.Updated = res.Updated
	task.Skipped = res.Skipped
	task.Invalid += len(res.Errors)
	o.publish(task)

	if req.AutoCategorize {
		for _, id := range res.CreatedIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			applied, err := o.autoCategorize(ctx, id)
			if err != nil {
				return err
			}
			if applied {
				task.AutoCategorized++
			}
		}
		o.publish(task)
	}
	return nil
}

// autoCategorize acts on the top suggestion: apply it when confident,
// flag the record for review when plausible, otherwise only remember it.
func (o *Orchestrator) autoCategorize(ctx context.Context, id uuid.UUID) (bool, error) {
	tx, err := o.txRepo.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	suggestions, err := o.classifier.SuggestFor(ctx, tx, 1)
	if err != nil || len(suggestions) == 0 {
		return false, err
	}
	top := suggestions[0]

	switch {
	case top.Confidence >= o.thresholds.AutoApplyThreshold:
		_, err = o.recon.AutoCategorize(ctx, id, top, tx.Version)
		if errors.Is(err, reconciliation.ErrConflict) {
			return false, nil
		}
		return err == nil, err
	case top.Confidence >= o.thresholds.ReviewThreshold:
		_, err = o.recon.FlagWithSuggestion(ctx, id, top, tx.Version)
		if errors.Is(err, reconciliation.ErrConflict) {
			err = nil
		}
		return false, err
	default:
		catID := top.CategoryID
		confidence := top.Confidence
		tx.SuggestedCategoryID = &catID
		tx.SuggestedCategoryName = top.CategoryName
		tx.SuggestedCategoryConfidence = &confidence
		_, err = o.txRepo.SaveSuggestions(ctx, tx)
		return false, err
	}
}

// toRecord maps a ledger row onto the canonical model. Signed amounts
// decide the type when the ledger does not name one.
func toRecord(row int, lt ledger.Transaction, conn ledger.Connection) (importer.Record, error) {
	date, err := lt.Date()
	if err != nil {
		return importer.Record{}, err
	}
	docDate, err := lt.DocumentDate()
	if err != nil {
		return importer.Record{}, err
	}

	var typ models.TransactionType
	switch strings.ToUpper(strings.TrimSpace(lt.Type)) {
	case "CREDIT", "IN":
		typ = models.TypeCredit
	case "DEBIT", "OUT":
		typ = models.TypeDebit
	case "":
		typ = models.TypeCredit
		if lt.Amount.IsNegative() {
			typ = models.TypeDebit
		}
	default:
		return importer.Record{}, fmt.Errorf("ledger row %s has unknown type %q", lt.ID, lt.Type)
	}

	tx := &models.BankTransaction{
		TransactionDate:        date,
		Amount:                 lt.Amount.Abs(),
		TransactionType:        typ,
		PaymentSource:          models.PaymentSource(strings.ToUpper(strings.TrimSpace(lt.PaymentSource))),
		PaymentPurpose:         lt.Purpose,
		DocumentNumber:         lt.DocumentNumber,
		DocumentDate:           docDate,
		CounterpartyName:       lt.CounterpartyName,
		CounterpartyTaxID:      lt.CounterpartyTaxID,
		CounterpartyBankName:   lt.CounterpartyBank,
		CounterpartyBankBranch: lt.CounterpartyBranch,
	}
	account := lt.AccountNumber
	if account == "" {
		account = conn.AccountNumber
	}
	if account != "" {
		tx.AccountNumber = &account
	}
	return importer.Record{Row: row, Tx: tx}, nil
}
