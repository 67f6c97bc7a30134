// Package classification proposes budget categories for bank transactions.
// It only reads; accepting a suggestion is a lifecycle action.
package classification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/jbrukh/bayesian"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/counterparty"
)

const (
	linkedExpenseConfidence = 0.85
	singleKeywordConfidence = 0.5
	multiKeywordConfidence  = 0.65
	textModelWeight         = 0.6
)

type Suggestion struct {
	CategoryID   uuid.UUID  `json:"category_id"`
	CategoryCode string     `json:"category_code"`
	CategoryName string     `json:"category_name"`
	Confidence   float64    `json:"confidence"`
	Reasons      []string   `json:"reasons"`
	LastEvidence *time.Time `json:"last_evidence,omitempty"`
}

type Classifier struct {
	transactions *repository.BankTransactionRepository
	expenses     *repository.ExpenseRepository
	categories   *repository.CategoryRepository
	cfg          config.ClassificationConfig
}

func NewClassifier(
	transactions *repository.BankTransactionRepository,
	expenses *repository.ExpenseRepository,
	categories *repository.CategoryRepository,
	cfg config.ClassificationConfig,
) *Classifier {
	return &Classifier{
		transactions: transactions,
		expenses:     expenses,
		categories:   categories,
		cfg:          cfg,
	}
}

// Suggest loads a transaction and ranks categories for it.
func (c *Classifier) Suggest(ctx context.Context, txID uuid.UUID, topN int) ([]Suggestion, error) {
	tx, err := c.transactions.GetByID(ctx, txID)
	if err != nil {
		return nil, fmt.Errorf("loading transaction %s: %w", txID, err)
	}
	return c.SuggestFor(ctx, tx, topN)
}

// SuggestFor ranks categories for tx. It returns an empty slice when there is
// no signal or the record is excluded from automation.
func (c *Classifier) SuggestFor(ctx context.Context, tx *models.BankTransaction, topN int) ([]Suggestion, error) {
	if topN <= 0 {
		topN = c.cfg.DefaultTopN
	}
	if tx.ExcludedFromAutomation() {
		return []Suggestion{}, nil
	}

	cats, err := c.categories.ListForDepartment(ctx, &tx.DepartmentID)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	if len(cats) == 0 {
		return []Suggestion{}, nil
	}

	ev := newEvidence(cats)
	if err := c.linkedExpenseSignal(ctx, tx, ev); err != nil {
		return nil, err
	}

	history, err := c.transactions.CategorizedHistory(ctx, tx.DepartmentID, tx.ID, c.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("loading categorized history: %w", err)
	}
	counterpartySignal(tx, history, ev)
	keywordSignal(tx, c.keywordsByCategory(cats), ev)
	textModelSignal(tx, history, ev)

	out := ev.rank()
	if len(out) > topN {
		out = out[:topN]
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Str("transaction_id", tx.ID.String()).
		Int("suggestions", len(out)).
		Msg("category suggestions computed")
	return out, nil
}

func (c *Classifier) linkedExpenseSignal(ctx context.Context, tx *models.BankTransaction, ev *evidence) error {
	if tx.ExpenseID == nil {
		return nil
	}
	exp, err := c.expenses.GetByID(ctx, *tx.ExpenseID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading linked expense: %w", err)
	}
	if exp.CategoryID == nil {
		return nil
	}
	ev.add(*exp.CategoryID, linkedExpenseConfidence, exp.ExpenseDate,
		"linked expense is booked under this category")
	return nil
}

// keywordsByCategory merges keywords stored on categories with the rules
// from the engine file, matched by category code.
func (c *Classifier) keywordsByCategory(cats []models.BudgetCategory) map[uuid.UUID][]string {
	byCode := make(map[string][]string, len(c.cfg.Rules))
	for _, rule := range c.cfg.Rules {
		byCode[rule.CategoryCode] = append(byCode[rule.CategoryCode], rule.Keywords...)
	}

	out := make(map[uuid.UUID][]string, len(cats))
	for _, cat := range cats {
		seen := map[string]bool{}
		for _, kw := range append(append([]string{}, cat.Keywords...), byCode[cat.Code]...) {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out[cat.ID] = append(out[cat.ID], kw)
		}
	}
	return out
}

func counterpartySignal(tx *models.BankTransaction, history []models.BankTransaction, ev *evidence) {
	if counterparty.Identity(tx.CounterpartyName, tx.CounterpartyTaxID) == "" {
		return
	}
	counts := map[uuid.UUID]int{}
	latest := map[uuid.UUID]time.Time{}
	total := 0
	for _, h := range history {
		if h.CategoryID == nil || !ev.known(*h.CategoryID) {
			continue
		}
		if !counterparty.Same(tx.CounterpartyName, tx.CounterpartyTaxID, h.CounterpartyName, h.CounterpartyTaxID) {
			continue
		}
		total++
		counts[*h.CategoryID]++
		if h.TransactionDate.After(latest[*h.CategoryID]) {
			latest[*h.CategoryID] = h.TransactionDate
		}
	}
	for id, n := range counts {
		share := float64(n) / float64(total)
		conf := share * (1 - math.Pow(0.5, float64(n)))
		ev.add(id, conf, latest[id],
			fmt.Sprintf("counterparty matched %d of %d prior categorized transactions", n, total))
	}
}

func keywordSignal(tx *models.BankTransaction, keywords map[uuid.UUID][]string, ev *evidence) {
	text := strings.ToLower(tx.PaymentPurpose + " " + tx.CounterpartyName)
	if strings.TrimSpace(text) == "" {
		return
	}
	for id, kws := range keywords {
		var hits []string
		for _, kw := range kws {
			if strings.Contains(text, kw) {
				hits = append(hits, kw)
			}
		}
		switch {
		case len(hits) == 1:
			ev.add(id, singleKeywordConfidence, time.Time{},
				fmt.Sprintf("keyword match in payment purpose: %q", hits[0]))
		case len(hits) > 1:
			ev.add(id, multiKeywordConfidence, time.Time{},
				fmt.Sprintf("keyword matches in payment purpose: %s", strings.Join(hits, ", ")))
		}
	}
}

// textModelSignal trains a naive Bayes model on the purpose text of
// categorized history and scores the transaction's purpose against it.
func textModelSignal(tx *models.BankTransaction, history []models.BankTransaction, ev *evidence) {
	query := tokenize(tx.PaymentPurpose)
	if len(query) == 0 {
		return
	}

	docs := map[uuid.UUID][][]string{}
	latest := map[uuid.UUID]time.Time{}
	vocab := map[string]bool{}
	for _, h := range history {
		if h.CategoryID == nil || !ev.known(*h.CategoryID) {
			continue
		}
		tokens := tokenize(h.PaymentPurpose)
		if len(tokens) == 0 {
			continue
		}
		id := *h.CategoryID
		docs[id] = append(docs[id], tokens)
		if h.TransactionDate.After(latest[id]) {
			latest[id] = h.TransactionDate
		}
		for _, t := range tokens {
			vocab[t] = true
		}
	}
	if len(docs) < 2 {
		return
	}

	var known []string
	for _, t := range query {
		if vocab[t] {
			known = append(known, t)
		}
	}
	if len(known) == 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	classes := make([]bayesian.Class, len(ids))
	for i, id := range ids {
		classes[i] = bayesian.Class(id.String())
	}
	model := bayesian.NewClassifier(classes...)
	for i, id := range ids {
		for _, doc := range docs[id] {
			model.Learn(doc, classes[i])
		}
	}

	scores, _, _, err := model.SafeProbScores(known)
	if err != nil {
		return
	}
	uniform := 1 / float64(len(ids))
	for i, p := range scores {
		if p <= uniform || math.IsNaN(p) {
			continue
		}
		ev.add(ids[i], p*textModelWeight, latest[ids[i]],
			fmt.Sprintf("payment purpose resembles %d prior transactions in this category", len(docs[ids[i]])))
	}
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 3 || isNumber(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
