package history

import (
	"context"
	"slices"
	"sync"
)

// MemoryStore keeps records in insertion order
type MemoryStore struct {
	records []Record
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, rec Record) error {
	rec.Actions = slices.Clone(rec.Actions)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Query walks newest first. Records are appended close to StartedAt order,
// so a stable sort on StartedAt keeps insertion order for ties.
func (s *MemoryStore) Query(_ context.Context, f Filter) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if !f.matches(rec) {
			continue
		}
		out = append(out, rec)
	}

	slices.SortStableFunc(out, func(a, b Record) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) LastSuccess(ctx context.Context, ruleID, caseID string) (Record, error) {
	recs, _ := s.Query(ctx, Filter{RuleID: ruleID, CaseID: caseID, Outcome: OutcomeSuccess, Limit: 1})
	if len(recs) == 0 {
		return Record{}, ErrNotFound
	}
	return recs[0], nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (f Filter) matches(rec Record) bool {
	if f.RuleID != "" && rec.RuleID != f.RuleID {
		return false
	}
	if f.CaseID != "" && rec.CaseIDSnapshot != f.CaseID {
		return false
	}
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	return true
}
