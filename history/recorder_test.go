package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderLifecycle(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	now := base
	rec := NewRecorder(NewMemoryStore(), func() time.Time { return now })

	t.Run("Record fills identity and completion", func(t *testing.T) {
		stored, err := rec.Record(ctx, Record{
			RuleID:         "r1",
			RuleName:       "Escalate",
			CaseIDSnapshot: "c1",
			Outcome:        OutcomeSuccess,
			StartedAt:      base.Add(-time.Second),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, stored.ID)
		assert.Equal(t, now, stored.CompletedAt)
		assert.NotNil(t, stored.Actions)
	})

	t.Run("Lists newest first", func(t *testing.T) {
		now = base.Add(time.Minute)
		_, err := rec.Record(ctx, Record{RuleID: "r2", CaseIDSnapshot: "c1", Outcome: OutcomeSkipped, StartedAt: now})
		require.NoError(t, err)
		now = base.Add(2 * time.Minute)
		_, err = rec.Record(ctx, Record{RuleID: "r1", CaseIDSnapshot: "c2", Outcome: OutcomeFailed, StartedAt: now})
		require.NoError(t, err)

		all, err := rec.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "c2", all[0].CaseIDSnapshot)
		assert.Equal(t, "r2", all[1].RuleID)

		byRule, err := rec.ListByRule(ctx, "r1", 1)
		require.NoError(t, err)
		require.Len(t, byRule, 1)
		assert.Equal(t, OutcomeFailed, byRule[0].Outcome)

		byCase, err := rec.ListByCase(ctx, "c1", 10)
		require.NoError(t, err)
		assert.Len(t, byCase, 2)
	})

	t.Run("LastSuccess only sees successes for the pair", func(t *testing.T) {
		last, err := rec.LastSuccess(ctx, "r1", "c1")
		require.NoError(t, err)
		assert.Equal(t, "Escalate", last.RuleName)

		_, err = rec.LastSuccess(ctx, "r1", "c2")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = rec.LastSuccess(ctx, "r2", "c1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClampLimit(t *testing.T) {
	testCases := []struct {
		in, want int
	}{
		{0, DefaultPageSize},
		{-3, DefaultPageSize},
		{10, 10},
		{MaxPageSize, MaxPageSize},
		{MaxPageSize + 1, MaxPageSize},
	}
	for _, tc := range testCases {
		if got := ClampLimit(tc.in); got != tc.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
