// Package scheduler runs the periodic suggestion refresh.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/classification"
	"bank-reconciliation-backend/internal/services/matching"
)

const refreshTimeout = time.Hour

type RefreshResult struct {
	Scanned int
	Updated int
}

// SuggestionRefresher recomputes the advisory fields of NEW records. It
// never writes a category or an expense link.
type SuggestionRefresher struct {
	transactions *repository.BankTransactionRepository
	classifier   *classification.Classifier
	matcher      *matching.Matcher
	batchSize    int
}

func NewSuggestionRefresher(
	transactions *repository.BankTransactionRepository,
	classifier *classification.Classifier,
	matcher *matching.Matcher,
	batchSize int,
) *SuggestionRefresher {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SuggestionRefresher{
		transactions: transactions,
		classifier:   classifier,
		matcher:      matcher,
		batchSize:    batchSize,
	}
}

func (r *SuggestionRefresher) Refresh(ctx context.Context) (*RefreshResult, error) {
	res := &RefreshResult{}
	var after *uuid.UUID
	for {
		page, err := r.transactions.ListByStatus(ctx, models.StatusNew, after, r.batchSize)
		if err != nil {
			return res, fmt.Errorf("listing NEW transactions: %w", err)
		}
		for i := range page {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			tx := &page[i]
			res.Scanned++
			updated, err := r.refreshOne(ctx, tx)
			if err != nil {
				return res, err
			}
			if updated {
				res.Updated++
			}
		}
		if len(page) < r.batchSize {
			return res, nil
		}
		last := page[len(page)-1].ID
		after = &last
	}
}

func (r *SuggestionRefresher) refreshOne(ctx context.Context, tx *models.BankTransaction) (bool, error) {
	suggestions, err := r.classifier.SuggestFor(ctx, tx, 1)
	if err != nil {
		return false, err
	}
	candidates, err := r.matcher.MatchFor(ctx, tx, 0)
	if err != nil {
		return false, err
	}

	tx.ClearSuggestions()
	if len(suggestions) > 0 {
		top := suggestions[0]
		id, confidence := top.CategoryID, top.Confidence
		tx.SuggestedCategoryID = &id
		tx.SuggestedCategoryName = top.CategoryName
		tx.SuggestedCategoryConfidence = &confidence
	}
	if len(candidates) > 0 {
		best := candidates[0]
		id, score := best.Expense.ID, best.Score
		tx.SuggestedExpenseID = &id
		tx.SuggestedExpenseScore = &score
		tx.MatchDetails = matching.Details(tx, best, len(candidates))
	}
	// A false result means the record moved on since it was listed.
	return r.transactions.SaveSuggestions(ctx, tx)
}

type Scheduler struct {
	cron *cron.Cron
}

// Start schedules the refresh job. An empty schedule disables it and
// returns a nil Scheduler.
func Start(ctx context.Context, cfg config.SchedulerConfig, refresher *SuggestionRefresher) (*Scheduler, error) {
	if cfg.SuggestionRefreshSchedule == "" {
		return nil, nil
	}
	log := logger.FromContext(ctx)

	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		log.Warn().Str("timezone", cfg.TimeZone).Msg("invalid scheduler timezone, falling back to UTC")
		loc = time.UTC
	}

	c := cron.New(cron.WithLocation(loc))
	_, err = c.AddFunc(cfg.SuggestionRefreshSchedule, func() {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		start := time.Now()
		res, err := refresher.Refresh(runCtx)
		if err != nil {
			log.Error().Err(err).Msg("suggestion refresh failed")
			return
		}
		log.Info().
			Int("scanned", res.Scanned).
			Int("updated", res.Updated).
			Dur("took", time.Since(start)).
			Msg("suggestion refresh completed")
	})
	if err != nil {
		return nil, fmt.Errorf("unable to schedule suggestion refresh: %w", err)
	}

	c.Start()
	log.Info().
		Str("schedule", cfg.SuggestionRefreshSchedule).
		Str("timezone", loc.String()).
		Msg("suggestion refresh scheduler started")
	return &Scheduler{cron: c}, nil
}

// Stop stops scheduling and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}
