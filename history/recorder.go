package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Recorder assigns identity and completion time to records before storing
// them, and serves the read side.
type Recorder struct {
	store Store
	clock func() time.Time
}

// NewRecorder wraps store. A nil clock uses time.Now.
func NewRecorder(store Store, clock func() time.Time) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{store: store, clock: clock}
}

// Record appends rec, filling ID and CompletedAt when unset, and returns
// the stored value.
func (r *Recorder) Record(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = r.clock()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.CompletedAt
	}
	if rec.Actions == nil {
		rec.Actions = []ActionOutcome{}
	}
	if err := r.store.Append(ctx, rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// List returns the newest records across all rules
func (r *Recorder) List(ctx context.Context, limit int) ([]Record, error) {
	return r.store.Query(ctx, Filter{Limit: ClampLimit(limit)})
}

// ListByRule returns the newest records for one rule
func (r *Recorder) ListByRule(ctx context.Context, ruleID string, limit int) ([]Record, error) {
	return r.store.Query(ctx, Filter{RuleID: ruleID, Limit: ClampLimit(limit)})
}

// ListByCase returns the newest records for one case
func (r *Recorder) ListByCase(ctx context.Context, caseID string, limit int) ([]Record, error) {
	return r.store.Query(ctx, Filter{CaseID: caseID, Limit: ClampLimit(limit)})
}

func (r *Recorder) LastSuccess(ctx context.Context, ruleID, caseID string) (Record, error) {
	return r.store.LastSuccess(ctx, ruleID, caseID)
}

// ClampLimit maps a requested page size into [1, MaxPageSize]
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
