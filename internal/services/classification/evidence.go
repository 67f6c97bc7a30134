package classification

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"bank-reconciliation-backend/internal/models"
)

// evidence accumulates independent signals per category and combines them
// with a noisy-OR, so adding a signal can only raise confidence and the
// result stays within [0,1].
type evidence struct {
	cats    map[uuid.UUID]models.BudgetCategory
	entries map[uuid.UUID]*entry
}

type entry struct {
	miss    float64
	reasons []string
	latest  time.Time
}

func newEvidence(cats []models.BudgetCategory) *evidence {
	ev := &evidence{
		cats:    make(map[uuid.UUID]models.BudgetCategory, len(cats)),
		entries: map[uuid.UUID]*entry{},
	}
	for _, c := range cats {
		ev.cats[c.ID] = c
	}
	return ev
}

func (ev *evidence) known(id uuid.UUID) bool {
	_, ok := ev.cats[id]
	return ok
}

func (ev *evidence) add(id uuid.UUID, confidence float64, at time.Time, reason string) {
	if !ev.known(id) || confidence <= 0 {
		return
	}
	confidence = math.Min(confidence, 1)
	e, ok := ev.entries[id]
	if !ok {
		e = &entry{miss: 1}
		ev.entries[id] = e
	}
	e.miss *= 1 - confidence
	e.reasons = append(e.reasons, reason)
	if at.After(e.latest) {
		e.latest = at
	}
}

// rank orders by confidence, then by most recent supporting evidence, then
// by category name.
func (ev *evidence) rank() []Suggestion {
	out := make([]Suggestion, 0, len(ev.entries))
	for id, e := range ev.entries {
		cat := ev.cats[id]
		s := Suggestion{
			CategoryID:   id,
			CategoryCode: cat.Code,
			CategoryName: cat.Name,
			Confidence:   math.Round((1-e.miss)*10000) / 10000,
			Reasons:      e.reasons,
		}
		if !e.latest.IsZero() {
			latest := e.latest
			s.LastEvidence = &latest
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		at, bt := evidenceTime(a), evidenceTime(b)
		if !at.Equal(bt) {
			return at.After(bt)
		}
		if a.CategoryName != b.CategoryName {
			return a.CategoryName < b.CategoryName
		}
		return a.CategoryID.String() < b.CategoryID.String()
	})
	return out
}

func evidenceTime(s Suggestion) time.Time {
	if s.LastEvidence == nil {
		return time.Time{}
	}
	return *s.LastEvidence
}
