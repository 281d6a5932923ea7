//go:build integration

package notify_test

import (
	"context"
	"testing"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/internal/pgtest"
	"github.com/liamcoop/caseflow/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresStore(t *testing.T) {
	db := pgtest.Start(t)
	ctx := context.Background()

	dir := cases.NewMemoryDirectory(nil)
	dir.PutUser(cases.User{ID: "admin-1", Role: "admin", Active: true})
	dir.PutUser(cases.User{ID: "admin-2", Role: "admin", Active: true})

	db.MustExec(t, `INSERT INTO workflow_rules (id, name, trigger_type) VALUES ('r1', 'Escalate', 'EVENT')`)

	svc := notify.NewService(notify.NewPostgresStore(db.DB), dir, nil)
	sent, err := svc.Send(ctx, notify.Request{
		Case:           cases.Case{ID: "c1"},
		Title:          "Escalated",
		Message:        "Case c1 escalated",
		RecipientType:  "role",
		RecipientValue: "admin",
		Priority:       notify.PriorityHigh,
		SourceRuleID:   "r1",
		Metadata:       map[string]any{"rule_name": "Escalate"},
	})
	require.NoError(t, err)
	require.Len(t, sent, 2)

	// Unknown rule references are detached rather than failing the send
	_, err = svc.Send(ctx, notify.Request{
		Title: "Orphan", Message: "m", RecipientType: "user", RecipientValue: "admin-1", SourceRuleID: "deleted",
	})
	require.NoError(t, err)

	list, err := svc.ListForUser(ctx, "admin-1", notify.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Orphan", list[0].Title)
	assert.Empty(t, list[0].SourceRuleID)
	assert.Equal(t, notify.PriorityHigh, list[1].Priority)
	assert.Equal(t, "Escalate", list[1].Metadata["rule_name"])

	require.NoError(t, svc.MarkRead(ctx, "admin-1", list[1].ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, "admin-2", list[1].ID), notify.ErrNotFound)

	count, err := svc.UnreadCount(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	changed, err := svc.MarkAllRead(ctx, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	db.MustExec(t, `DELETE FROM workflow_rules WHERE id = 'r1'`)
	list, err = svc.ListForUser(ctx, "admin-2", notify.ListOptions{UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].SourceRuleID, "source rule is nulled on rule deletion")
}
