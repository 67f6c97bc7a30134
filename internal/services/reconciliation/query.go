package reconciliation

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"bank-reconciliation-backend/internal/models"
	"bank-reconciliation-backend/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type Page struct {
	Items  []models.BankTransaction `json:"items"`
	Total  int64                    `json:"total"`
	Limit  int                      `json:"limit"`
	Offset int                      `json:"offset"`
}

func (s *ReconciliationService) List(ctx context.Context, f repository.TransactionFilter) (*Page, error) {
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	items, total, err := s.transactionRepo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.BankTransaction{}
	}
	return &Page{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

type TypeTotal struct {
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type Stats struct {
	Total          int64                                         `json:"total"`
	ByStatus       map[models.TransactionStatus]int64            `json:"by_status"`
	ByType         map[models.TransactionType]TypeTotal          `json:"by_type"`
	ByStatusType   map[models.TransactionStatus]map[string]int64 `json:"by_status_type"`
	CreditTotal    decimal.Decimal                               `json:"credit_total"`
	DebitTotal     decimal.Decimal                               `json:"debit_total"`
	Net            decimal.Decimal                               `json:"net"`
	NeedsAttention int64                                         `json:"needs_attention"`
}

// Stats aggregates over the same filter set as List; paging is ignored.
func (s *ReconciliationService) Stats(ctx context.Context, f repository.TransactionFilter) (*Stats, error) {
	f.Limit, f.Offset = 0, 0
	rows, err := s.transactionRepo.StatusTypeTotals(ctx, f)
	if err != nil {
		return nil, err
	}

	st := &Stats{
		ByStatus:     make(map[models.TransactionStatus]int64, len(models.AllStatuses)),
		ByType:       make(map[models.TransactionType]TypeTotal, 2),
		ByStatusType: make(map[models.TransactionStatus]map[string]int64),
		CreditTotal:  decimal.Zero,
		DebitTotal:   decimal.Zero,
	}
	for _, status := range models.AllStatuses {
		st.ByStatus[status] = 0
	}
	for _, typ := range []models.TransactionType{models.TypeCredit, models.TypeDebit} {
		st.ByType[typ] = TypeTotal{Amount: decimal.Zero}
	}

	for _, r := range rows {
		st.Total += r.Count
		st.ByStatus[r.Status] += r.Count
		if st.ByStatusType[r.Status] == nil {
			st.ByStatusType[r.Status] = map[string]int64{}
		}
		st.ByStatusType[r.Status][string(r.TransactionType)] += r.Count

		tt := st.ByType[r.TransactionType]
		tt.Count += r.Count
		tt.Amount = tt.Amount.Add(r.Sum)
		st.ByType[r.TransactionType] = tt

		switch r.TransactionType {
		case models.TypeCredit:
			st.CreditTotal = st.CreditTotal.Add(r.Sum)
		case models.TypeDebit:
			st.DebitTotal = st.DebitTotal.Add(r.Sum)
		}
		if r.Status == models.StatusNew || r.Status == models.StatusNeedsReview {
			st.NeedsAttention += r.Count
		}
	}
	st.Net = st.CreditTotal.Sub(st.DebitTotal)
	return st, nil
}

type CategoryBreakdown struct {
	CategoryID   *uuid.UUID      `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Count        int64           `json:"count"`
	Credit       decimal.Decimal `json:"credit"`
	Debit        decimal.Decimal `json:"debit"`
}

type MonthBreakdown struct {
	Month  string          `json:"month"`
	Count  int64           `json:"count"`
	Credit decimal.Decimal `json:"credit"`
	Debit  decimal.Decimal `json:"debit"`
	Net    decimal.Decimal `json:"net"`
}

type Analytics struct {
	ByCategory []CategoryBreakdown `json:"by_category"`
	ByMonth    []MonthBreakdown    `json:"by_month"`
}

// Analytics breaks the filtered set down by category and by calendar month.
func (s *ReconciliationService) Analytics(ctx context.Context, f repository.TransactionFilter) (*Analytics, error) {
	f.Limit, f.Offset = 0, 0
	catRows, err := s.transactionRepo.CategoryTotals(ctx, f)
	if err != nil {
		return nil, err
	}
	dated, err := s.transactionRepo.DatedAmounts(ctx, f)
	if err != nil {
		return nil, err
	}

	byCat := map[uuid.UUID]*CategoryBreakdown{}
	uncategorized := &CategoryBreakdown{CategoryName: "Uncategorized", Credit: decimal.Zero, Debit: decimal.Zero}
	names := map[uuid.UUID]string{}
	for _, r := range catRows {
		b := uncategorized
		if r.CategoryID != nil {
			id := *r.CategoryID
			if byCat[id] == nil {
				if _, ok := names[id]; !ok {
					names[id] = ""
					if cat, err := s.categoryRepo.GetByID(ctx, id); err == nil {
						names[id] = cat.Name
					}
				}
				byCat[id] = &CategoryBreakdown{CategoryID: &id, CategoryName: names[id], Credit: decimal.Zero, Debit: decimal.Zero}
			}
			b = byCat[id]
		}
		b.Count += r.Count
		if r.TransactionType == models.TypeCredit {
			b.Credit = b.Credit.Add(r.Sum)
		} else {
			b.Debit = b.Debit.Add(r.Sum)
		}
	}

	out := &Analytics{ByCategory: []CategoryBreakdown{}, ByMonth: []MonthBreakdown{}}
	for _, b := range byCat {
		out.ByCategory = append(out.ByCategory, *b)
	}
	sort.Slice(out.ByCategory, func(i, j int) bool {
		a, b := out.ByCategory[i], out.ByCategory[j]
		if c := a.Debit.Add(a.Credit).Cmp(b.Debit.Add(b.Credit)); c != 0 {
			return c > 0
		}
		return a.CategoryName < b.CategoryName
	})
	if uncategorized.Count > 0 {
		out.ByCategory = append(out.ByCategory, *uncategorized)
	}

	byMonth := map[string]*MonthBreakdown{}
	for _, d := range dated {
		key := d.TransactionDate.UTC().Format("2006-01")
		m := byMonth[key]
		if m == nil {
			m = &MonthBreakdown{Month: key, Credit: decimal.Zero, Debit: decimal.Zero}
			byMonth[key] = m
		}
		m.Count++
		if d.TransactionType == models.TypeCredit {
			m.Credit = m.Credit.Add(d.Amount)
		} else {
			m.Debit = m.Debit.Add(d.Amount)
		}
	}
	for _, m := range byMonth {
		m.Net = m.Credit.Sub(m.Debit)
		out.ByMonth = append(out.ByMonth, *m)
	}
	sort.Slice(out.ByMonth, func(i, j int) bool { return out.ByMonth[i].Month < out.ByMonth[j].Month })
	return out, nil
}
