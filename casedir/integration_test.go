//go:build integration

package casedir_test

import (
	"context"
	"testing"
	"time"

	"github.com/liamcoop/caseflow/casedir"
	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/internal/pgtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*casedir.Store, *pgtest.DB) {
	t.Helper()
	db := pgtest.Start(t)
	db.ApplyCaseSchema(t)
	db.MustExec(t, `INSERT INTO users (id, role, is_active) VALUES
		('owner-1', 'analyst', true), ('admin-1', 'admin', true), ('admin-2', 'admin', false)`)
	db.MustExec(t, `INSERT INTO cases (id, title, status, severity, scope_code, owner_id, tags, metadata, created_at)
		VALUES ('c1', 'Phish', 'OPEN', 'HIGH', 'SEC', 'owner-1', '{vip}', '{"source": {"channel": "email"}}', now() - interval '10 days')`)
	return casedir.NewStore(db.DB), db
}

func TestStoreReadsAndMutatesCases(t *testing.T) {
	store, db := setup(t)
	ctx := context.Background()

	c, err := store.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "OPEN", c.Status)
	assert.Equal(t, cases.Severity("HIGH"), c.Severity)
	assert.Equal(t, []string{"vip"}, c.Tags)
	assert.Equal(t, map[string]any{"channel": "email"}, c.Metadata["source"])
	assert.Nil(t, c.StatusChangedAt)

	_, err = store.GetCase(ctx, "missing")
	assert.ErrorIs(t, err, cases.ErrCaseNotFound)

	require.NoError(t, store.MutateStatus(ctx, "c1", "ESCALATED"))
	c, err = store.GetCase(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "ESCALATED", c.Status)
	require.NotNil(t, c.StatusChangedAt)
	assert.WithinDuration(t, time.Now(), *c.StatusChangedAt, time.Minute)

	var from, by string
	require.NoError(t, db.QueryRow(`SELECT from_status, changed_by FROM case_status_history WHERE case_id = 'c1'`).Scan(&from, &by))
	assert.Equal(t, "OPEN", from)
	assert.Equal(t, "workflow", by)

	added, err := store.AddTag(ctx, "c1", "needs-review")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = store.AddTag(ctx, "c1", "needs-review")
	require.NoError(t, err)
	assert.False(t, added)
	_, err = store.AddTag(ctx, "missing", "x")
	assert.ErrorIs(t, err, cases.ErrCaseNotFound)

	require.NoError(t, store.AssignUser(ctx, "c1", "admin-1"))
	assert.ErrorIs(t, store.AssignUser(ctx, "missing", "admin-1"), cases.ErrCaseNotFound)

	require.NoError(t, store.AppendEvent(ctx, "c1", "automation", "escalated by rule", "workflow"))
	assert.ErrorIs(t, store.AppendEvent(ctx, "missing", "automation", "x", "workflow"), cases.ErrCaseNotFound)

	listed, err := store.ListByStatus(ctx, "ESCALATED")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "admin-1", listed[0].AssignedTo)
	assert.Equal(t, []string{"vip", "needs-review"}, listed[0].Tags)
}

func TestStoreUsers(t *testing.T) {
	store, _ := setup(t)
	ctx := context.Background()

	admins, err := store.ListUsersByRole(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"admin-1"}, admins)

	for id, want := range map[string]bool{"owner-1": true, "admin-2": false, "ghost": false} {
		got, err := store.UserExists(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, id)
	}
}
