// Package patterns finds regular payments: the same counterparty paying or
// being paid a similar amount at a stable interval.
package patterns

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/config"
	"bank-reconciliation-backend/internal/logger"
	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
	"bank-reconciliation-backend/internal/services/counterparty"
)

// nameMergeThreshold is the name similarity above which two name-keyed
// groups are treated as one counterparty.
const nameMergeThreshold = 0.9

type Period struct {
	Name string
	Days int
}

var Periods = []Period{
	{"weekly", 7},
	{"biweekly", 14},
	{"monthly", 30},
	{"quarterly", 91},
	{"yearly", 365},
}

type Filter struct {
	DepartmentID   *uuid.UUID
	DateFrom       *time.Time
	DateTo         *time.Time
	Type           models.TransactionType
	MinOccurrences int
}

type Pattern struct {
	DepartmentID        uuid.UUID              `json:"department_id"`
	CounterpartyKey     string                 `json:"counterparty_key"`
	CounterpartyName    string                 `json:"counterparty_name"`
	CounterpartyTaxID   string                 `json:"counterparty_tax_id,omitempty"`
	TransactionType     models.TransactionType `json:"transaction_type"`
	AmountBucket        decimal.Decimal        `json:"amount_bucket"`
	Period              string                 `json:"period"`
	PeriodDays          int                    `json:"period_days"`
	AverageIntervalDays float64                `json:"average_interval_days"`
	Occurrences         int                    `json:"occurrences"`
	AverageAmount       decimal.Decimal        `json:"average_amount"`
	TotalAmount         decimal.Decimal        `json:"total_amount"`
	FirstDate           time.Time              `json:"first_date"`
	LastDate            time.Time              `json:"last_date"`
	NextExpectedDate    time.Time              `json:"next_expected_date"`
	TransactionIDs      []uuid.UUID            `json:"transaction_ids"`
	CategoryID          *uuid.UUID             `json:"category_id,omitempty"`
	CategoryName        string                 `json:"category_name,omitempty"`
}

type Detector struct {
	txRepo       *repository.BankTransactionRepository
	categoryRepo *repository.CategoryRepository
	cfg          config.PatternsConfig
}

func NewDetector(txRepo *repository.BankTransactionRepository, categoryRepo *repository.CategoryRepository, cfg config.PatternsConfig) *Detector {
	return &Detector{txRepo: txRepo, categoryRepo: categoryRepo, cfg: cfg}
}

// Detect is read-only; running it twice over the same data gives the same
// patterns.
func (d *Detector) Detect(ctx context.Context, f Filter) ([]Pattern, error) {
	txs, err := d.txRepo.FindAll(ctx, repository.TransactionFilter{
		DepartmentID: f.DepartmentID,
		DateFrom:     f.DateFrom,
		DateTo:       f.DateTo,
		Type:         f.Type,
	})
	if err != nil {
		return nil, err
	}

	minOcc := f.MinOccurrences
	if minOcc < 2 {
		minOcc = d.cfg.MinOccurrences
	}
	found := Detect(txs, Options{
		MinOccurrences:      minOcc,
		SignificantDigits:   d.cfg.AmountSignificantDigits,
		PeriodToleranceDays: d.cfg.PeriodToleranceDays,
	})

	names := map[uuid.UUID]string{}
	for i := range found {
		id := found[i].CategoryID
		if id == nil {
			continue
		}
		if _, ok := names[*id]; !ok {
			if cat, err := d.categoryRepo.GetByID(ctx, *id); err == nil {
				names[*id] = cat.Name
			}
		}
		found[i].CategoryName = names[*id]
	}

	log := logger.FromContext(ctx)
	log.Debug().
		Int("transactions", len(txs)).
		Int("patterns", len(found)).
		Msg("pattern detection finished")
	return found, nil
}

type Options struct {
	MinOccurrences      int
	SignificantDigits   int
	PeriodToleranceDays int
}

type group struct {
	dept   uuid.UUID
	key    string
	byName bool
	norm   string
	name   string
	taxID  string
	typ    models.TransactionType
	bucket decimal.Decimal
	txs    []models.BankTransaction
}

// Detect groups txs by department, counterparty, type and amount bucket and
// keeps the groups whose intervals all fit one period.
func Detect(txs []models.BankTransaction, opts Options) []Pattern {
	if opts.MinOccurrences < 2 {
		opts.MinOccurrences = 2
	}
	if opts.SignificantDigits <= 0 {
		opts.SignificantDigits = 2
	}

	sorted := make([]models.BankTransaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Status != models.StatusIgnored {
			sorted = append(sorted, tx)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].TransactionDate.Equal(sorted[j].TransactionDate) {
			return sorted[i].TransactionDate.Before(sorted[j].TransactionDate)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})

	var groups []*group
	exact := map[string]*group{}
	for _, tx := range sorted {
		identity := counterparty.Identity(tx.CounterpartyName, tx.CounterpartyTaxID)
		if identity == "" {
			continue
		}
		bucket := Bucket(tx.Amount, opts.SignificantDigits)
		key := strings.Join([]string{tx.DepartmentID.String(), identity, string(tx.TransactionType), bucket.String()}, "|")

		g := exact[key]
		if g == nil && strings.HasPrefix(identity, "name:") {
			g = similarGroup(groups, tx, bucket)
		}
		if g == nil {
			g = &group{
				dept:   tx.DepartmentID,
				key:    identity,
				byName: strings.HasPrefix(identity, "name:"),
				norm:   counterparty.Normalize(tx.CounterpartyName),
				name:   tx.CounterpartyName,
				taxID:  strings.TrimSpace(tx.CounterpartyTaxID),
				typ:    tx.TransactionType,
				bucket: bucket,
			}
			groups = append(groups, g)
		}
		exact[key] = g
		g.txs = append(g.txs, tx)
	}

	out := []Pattern{}
	for _, g := range groups {
		if len(g.txs) < opts.MinOccurrences {
			continue
		}
		if p, ok := recurring(g, opts.PeriodToleranceDays); ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		if out[i].CounterpartyName != out[j].CounterpartyName {
			return out[i].CounterpartyName < out[j].CounterpartyName
		}
		return out[i].CounterpartyKey < out[j].CounterpartyKey
	})
	if out == nil {
		out = []Pattern{}
	}
	return out
}

func similarGroup(groups []*group, tx models.BankTransaction, bucket decimal.Decimal) *group {
	norm := counterparty.Normalize(tx.CounterpartyName)
	for _, g := range groups {
		if !g.byName || g.dept != tx.DepartmentID || g.typ != tx.TransactionType || !g.bucket.Equal(bucket) {
			continue
		}
		if counterparty.Similarity(g.norm, norm) >= nameMergeThreshold {
			return g
		}
	}
	return nil
}

// Bucket rounds amount to the given number of significant digits, so
// 1 234.56 falls in the 1 200 bucket at two digits.
func Bucket(amount decimal.Decimal, digits int) decimal.Decimal {
	abs := amount.Abs()
	if abs.IsZero() {
		return abs
	}
	mag := int(math.Floor(math.Log10(abs.InexactFloat64()))) + 1
	return abs.Round(int32(digits - mag))
}

// tolerance scales the monthly tolerance to the other periods, never
// going below one day.
func tolerance(p Period, monthly int) int {
	if monthly <= 0 {
		monthly = 5
	}
	t := int(math.Round(float64(monthly) * float64(p.Days) / 30))
	if t < 1 {
		t = 1
	}
	return t
}

func recurring(g *group, monthlyTolerance int) (Pattern, bool) {
	intervals := make([]int, 0, len(g.txs)-1)
	for i := 1; i < len(g.txs); i++ {
		intervals = append(intervals, daysBetween(g.txs[i-1].TransactionDate, g.txs[i].TransactionDate))
	}

	var period Period
	matched := false
	for _, p := range Periods {
		tol := tolerance(p, monthlyTolerance)
		ok := true
		for _, iv := range intervals {
			if iv < p.Days-tol || iv > p.Days+tol {
				ok = false
				break
			}
		}
		if ok {
			period, matched = p, true
			break
		}
	}
	if !matched {
		return Pattern{}, false
	}

	first := g.txs[0].TransactionDate
	last := g.txs[len(g.txs)-1].TransactionDate
	total := decimal.Zero
	ids := make([]uuid.UUID, 0, len(g.txs))
	for _, tx := range g.txs {
		total = total.Add(tx.Amount)
		ids = append(ids, tx.ID)
	}
	n := len(g.txs)
	avgInterval := float64(daysBetween(first, last)) / float64(n-1)

	return Pattern{
		DepartmentID:        g.dept,
		CounterpartyKey:     g.key,
		CounterpartyName:    g.name,
		CounterpartyTaxID:   g.taxID,
		TransactionType:     g.typ,
		AmountBucket:        g.bucket,
		Period:              period.Name,
		PeriodDays:          period.Days,
		AverageIntervalDays: math.Round(avgInterval*100) / 100,
		Occurrences:         n,
		AverageAmount:       total.Div(decimal.NewFromInt(int64(n))).Round(2),
		TotalAmount:         total,
		FirstDate:           first,
		LastDate:            last,
		NextExpectedDate:    nextExpected(last, period, avgInterval),
		TransactionIDs:      ids,
		CategoryID:          topCategory(g.txs),
	}, true
}

// nextExpected follows the calendar for month-based periods and the
// observed average interval otherwise.
func nextExpected(last time.Time, p Period, avgInterval float64) time.Time {
	switch p.Name {
	case "monthly":
		return last.AddDate(0, 1, 0)
	case "quarterly":
		return last.AddDate(0, 3, 0)
	case "yearly":
		return last.AddDate(1, 0, 0)
	}
	return last.AddDate(0, 0, int(math.Round(avgInterval)))
}

func daysBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours() / 24))
}

func topCategory(txs []models.BankTransaction) *uuid.UUID {
	counts := map[uuid.UUID]int{}
	for _, tx := range txs {
		if tx.CategoryID != nil {
			counts[*tx.CategoryID]++
		}
	}
	var best *uuid.UUID
	bestCount := 0
	for id, c := range counts {
		if c > bestCount || (c == bestCount && best != nil && id.String() < best.String()) {
			id := id
			best, bestCount = &id, c
		}
	}
	return best
}
