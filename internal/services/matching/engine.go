// Package matching proposes expense-ledger entries a bank transaction may
// settle. Scores are a weighted blend of amount, date and counterparty
// closeness on a 0..100 scale.
package matching

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/counterparty"
)

type Candidate struct {
	Expense           models.Expense `json:"expense"`
	Score             float64        `json:"score"`
	AmountScore       float64        `json:"amount_score"`
	DateScore         float64        `json:"date_score"`
	CounterpartyScore float64        `json:"counterparty_score"`
	DateDeltaDays     int            `json:"date_delta_days"`
	Decision          string         `json:"decision"`
	Reasons           []string       `json:"reasons"`
}

type Matcher struct {
	transactions *repository.BankTransactionRepository
	expenses     *repository.ExpenseRepository
	cfg          config.MatchingConfig
}

func NewMatcher(transactions *repository.BankTransactionRepository, expenses *repository.ExpenseRepository, cfg config.MatchingConfig) *Matcher {
	return &Matcher{transactions: transactions, expenses: expenses, cfg: cfg}
}

func (m *Matcher) Match(ctx context.Context, txID uuid.UUID, limit int) ([]Candidate, error) {
	tx, err := m.transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", txID, err)
	}
	return m.MatchFor(ctx, tx, limit)
}

// MatchFor ranks candidate expenses for tx, best first. An empty slice means
// nothing cleared the minimum score.
func (m *Matcher) MatchFor(ctx context.Context, tx *models.BankTransaction, limit int) ([]Candidate, error) {
	if limit <= 0 {
		limit = m.cfg.DefaultLimit
	}
	if tx.ExcludedFromAutomation() {
		return []Candidate{}, nil
	}

	window := time.Duration(m.cfg.DateWindowDays) * 24 * time.Hour
	pool, err := m.expenses.FindCandidates(ctx, tx.DepartmentID, tx.OrganizationID,
		tx.TransactionDate.Add(-window), tx.TransactionDate.Add(window))
	if err != nil {
		return nil, fmt.Errorf("loading candidate expenses: %w", err)
	}

	tolerance := tx.Amount.Mul(decimal.NewFromFloat(m.cfg.AmountTolerancePct)).Div(decimal.NewFromInt(100))
	inBand := pool[:0]
	for _, exp := range pool {
		if exp.Amount.Sub(tx.Amount).Abs().LessThanOrEqual(tolerance) {
			inBand = append(inBand, exp)
		}
	}
	if len(inBand) == 0 {
		return []Candidate{}, nil
	}

	ids := make([]uuid.UUID, len(inBand))
	for i, exp := range inBand {
		ids[i] = exp.ID
	}
	taken, err := m.transactions.LinkedExpenseOwners(ctx, ids, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("checking linked expenses: %w", err)
	}

	candidates := make([]Candidate, 0, len(inBand))
	for _, exp := range inBand {
		if _, ok := taken[exp.ID]; ok {
			continue
		}
		c := m.score(tx, exp, tolerance)
		if c.Score < m.cfg.MinScore {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if abs(a.DateDeltaDays) != abs(b.DateDeltaDays) {
			return abs(a.DateDeltaDays) < abs(b.DateDeltaDays)
		}
		return a.Expense.ID.String() < b.Expense.ID.String()
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("transaction_id", tx.ID.String()).
		Int("pool", len(pool)).
		Int("candidates", len(candidates)).
		Msg("expense matches computed")
	return candidates, nil
}

func (m *Matcher) score(tx *models.BankTransaction, exp models.Expense, tolerance decimal.Decimal) Candidate {
	c := Candidate{Expense: exp}

	diff := exp.Amount.Sub(tx.Amount).Abs()
	switch {
	case diff.IsZero():
		c.AmountScore = 1
		c.Reasons = append(c.Reasons, "amount matches exactly")
	case tolerance.IsPositive():
		ratio, _ := diff.Div(tolerance).Float64()
		c.AmountScore = clamp01(1 - ratio)
		c.Reasons = append(c.Reasons, fmt.Sprintf("amount differs by %s", diff.StringFixed(2)))
	}

	c.DateDeltaDays = int(math.Round(exp.ExpenseDate.Sub(tx.TransactionDate).Hours() / 24))
	if m.cfg.DateWindowDays > 0 {
		c.DateScore = clamp01(1 - float64(abs(c.DateDeltaDays))/float64(m.cfg.DateWindowDays))
	}
	if c.DateDeltaDays == 0 {
		c.Reasons = append(c.Reasons, "same date")
	} else {
		c.Reasons = append(c.Reasons, fmt.Sprintf("dates %d days apart", abs(c.DateDeltaDays)))
	}

	c.CounterpartyScore = counterpartyScore(tx, exp)
	switch {
	case c.CounterpartyScore == 1:
		c.Reasons = append(c.Reasons, "counterparty matches")
	case c.CounterpartyScore >= 0.6:
		c.Reasons = append(c.Reasons, "counterparty name is similar")
	}

	weights := m.cfg.AmountWeight + m.cfg.DateWeight + m.cfg.CounterpartyWeight
	raw := m.cfg.AmountWeight*c.AmountScore + m.cfg.DateWeight*c.DateScore + m.cfg.CounterpartyWeight*c.CounterpartyScore
	if weights > 0 {
		c.Score = math.Round(raw/weights*100*100) / 100
	}

	switch {
	case c.Score >= 90:
		c.Decision = "strong"
	case c.Score >= 60:
		c.Decision = "needs_review"
	default:
		c.Decision = "weak"
	}
	return c
}

// counterpartyScore compares parties by tax id when both sides carry one,
// otherwise by name. Without a counterparty name on the transaction the
// payment purpose stands in for it.
func counterpartyScore(tx *models.BankTransaction, exp models.Expense) float64 {
	txTax, expTax := strings.TrimSpace(tx.CounterpartyTaxID), strings.TrimSpace(exp.CounterpartyTaxID)
	if txTax != "" && txTax == expTax {
		return 1
	}
	name := tx.CounterpartyName
	if strings.TrimSpace(name) == "" {
		name = tx.PaymentPurpose
	}
	return counterparty.Similarity(name, exp.CounterpartyName)
}

// Details renders a candidate the way it is stored in match_details.
func Details(tx *models.BankTransaction, c Candidate, candidateCount int) datatypes.JSON {
	details := map[string]interface{}{
		"expense_id":         c.Expense.ID.String(),
		"expense_name":       c.Expense.CounterpartyName,
		"transaction_desc":   tx.PaymentPurpose,
		"amount_score":       c.AmountScore,
		"date_score":         c.DateScore,
		"counterparty_score": c.CounterpartyScore,
		"final_score":        c.Score,
		"date_delta_days":    c.DateDeltaDays,
		"candidate_count":    candidateCount,
		"decision":           c.Decision,
		"reasons":            c.Reasons,
	}
	detailsJSON, _ := json.Marshal(details)
	return detailsJSON
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
