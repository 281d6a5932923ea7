package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/liamcoop/caseflow/config"
	"github.com/liamcoop/caseflow/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.Config {
	return config.Config{
		Demo:            true,
		Workers:         2,
		QueueSize:       16,
		MaxDepth:        3,
		RuleTimeout:     5 * time.Second,
		ActionTimeout:   time.Second,
		HistoryTimeout:  time.Second,
		CooldownPolicy:  "status",
		CooldownWindow:  time.Hour,
		RulesCacheTTL:   time.Minute,
		ShutdownTimeout: 5 * time.Second,
	}
}

// newTestServer runs the demo configuration behind httptest
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	b, directory := memoryBackend()
	server, err := NewServer(b, testConfig())
	require.NoError(t, err)
	require.NoError(t, seedDemo(directory, server.registry))
	require.NoError(t, server.Start(context.Background()))

	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, server.Shutdown(ctx))
	})
	return server, ts
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	var health HealthResponse
	status := do(t, http.MethodGet, ts.URL+"/api/v1/health", nil, &health)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "memory", health.Mode)
	assert.Equal(t, 4, health.Rules)
}

func TestListAndGetRules(t *testing.T) {
	_, ts := newTestServer(t)

	var list RulesListResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/rules", nil, &list))
	require.Len(t, list.Rules, 4)
	assert.Equal(t, "critical-escalation", list.Rules[0].ID)
	assert.JSONEq(t, `{"status":"OPEN","days":7}`, string(findRule(t, list.Rules, "stale-open").TriggerConfig))

	var rule RuleResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/rules/sec-intake", nil, &rule))
	assert.Equal(t, []string{"SEC"}, rule.ScopeCodes)
	require.Len(t, rule.Actions, 2)
	assert.Equal(t, "ADD_TAG", rule.Actions[0].ActionType)

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/api/v1/rules/nope", nil, &errResp))
	assert.Equal(t, "rule not found", errResp.Error)
}

func findRule(t *testing.T, list []RuleResponse, id string) RuleResponse {
	t.Helper()
	for _, r := range list {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not listed", id)
	return RuleResponse{}
}

func TestEventRejections(t *testing.T) {
	_, ts := newTestServer(t)

	testCases := []struct {
		name   string
		body   any
		status int
	}{
		{"missing kind", map[string]any{"case_id": "case-1001"}, http.StatusBadRequest},
		{"missing case", map[string]any{"kind": "case_created"}, http.StatusBadRequest},
		{"scheduler only", map[string]any{"kind": "time_based", "case_id": "case-1001"}, http.StatusBadRequest},
		{"unknown case", map[string]any{"kind": "case_created", "case_id": "case-404"}, http.StatusNotFound},
		{"not json", "{", http.StatusBadRequest},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var errResp ErrorResponse
			status := do(t, http.MethodPost, ts.URL+"/api/v1/events", tc.body, &errResp)
			assert.Equal(t, tc.status, status)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

// Posting an event queues it; the intake rule tags the case and notifies
// every active admin.
func TestEventToNotification(t *testing.T) {
	_, ts := newTestServer(t)

	var accepted EventAcceptedResponse
	status := do(t, http.MethodPost, ts.URL+"/api/v1/events",
		map[string]any{"kind": "case_created", "case_id": "case-1001"}, &accepted)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, "queued", accepted.Status)

	var executions ExecutionsListResponse
	require.Eventually(t, func() bool {
		do(t, http.MethodGet, ts.URL+"/api/v1/rules/sec-intake/executions", nil, &executions)
		return len(executions.Executions) == 1
	}, 3*time.Second, 20*time.Millisecond)

	rec := executions.Executions[0]
	assert.Equal(t, history.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "event:case_created", rec.TriggeredBy)
	assert.Equal(t, 1, rec.Depth)

	for _, admin := range []string{"admin-1", "admin-2"} {
		var count UnreadCountResponse
		do(t, http.MethodGet, ts.URL+"/api/v1/users/"+admin+"/notifications/unread-count", nil, &count)
		assert.Equal(t, 1, count.Unread, admin)
	}

	var inbox NotificationsListResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/users/admin-1/notifications?unread=true", nil, &inbox))
	require.Len(t, inbox.Notifications, 1)
	n := inbox.Notifications[0]
	assert.Equal(t, "New security case case-1001", n.Title)
	assert.Equal(t, "sec-intake", n.SourceRuleID)

	assert.Equal(t, http.StatusNoContent,
		do(t, http.MethodPost, ts.URL+"/api/v1/users/admin-1/notifications/"+n.ID+"/read", nil, nil))

	var errResp ErrorResponse
	assert.Equal(t, http.StatusNotFound,
		do(t, http.MethodPost, ts.URL+"/api/v1/users/admin-2/notifications/"+n.ID+"/read", nil, &errResp))

	var marked ReadAllResponse
	require.Equal(t, http.StatusOK, do(t, http.MethodPost, ts.URL+"/api/v1/users/admin-2/notifications/read-all", nil, &marked))
	assert.Equal(t, 1, marked.Marked)

	var count UnreadCountResponse
	do(t, http.MethodGet, ts.URL+"/api/v1/users/admin-1/notifications/unread-count", nil, &count)
	assert.Zero(t, count.Unread)
}

func TestRunRule(t *testing.T) {
	_, ts := newTestServer(t)

	var rec history.Record
	status := do(t, http.MethodPost, ts.URL+"/api/v1/rules/stale-open/run", RunRuleRequest{CaseID: "case-1001"}, &rec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, history.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, "manual", rec.TriggeredBy)
	require.Len(t, rec.Actions, 2)

	var executions ExecutionsListResponse
	do(t, http.MethodGet, ts.URL+"/api/v1/executions?case_id=case-1001&limit=10", nil, &executions)
	require.NotEmpty(t, executions.Executions)
	assert.Equal(t, rec.ID, executions.Executions[0].ID)

	testCases := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"unknown rule", "/api/v1/rules/nope/run", RunRuleRequest{CaseID: "case-1001"}, http.StatusNotFound},
		{"unknown case", "/api/v1/rules/stale-open/run", RunRuleRequest{CaseID: "case-404"}, http.StatusNotFound},
		{"no case", "/api/v1/rules/stale-open/run", map[string]any{}, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var errResp ErrorResponse
			assert.Equal(t, tc.status, do(t, http.MethodPost, ts.URL+tc.path, tc.body, &errResp))
		})
	}
}

func TestEventRejectedAfterShutdown(t *testing.T) {
	server, ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, server.engine.Close(ctx))

	var errResp ErrorResponse
	status := do(t, http.MethodPost, ts.URL+"/api/v1/events",
		map[string]any{"kind": "case_created", "case_id": "case-1001"}, &errResp)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	var snapshot map[string]any
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/api/v1/metrics", nil, &snapshot))
	assert.NotEmpty(t, snapshot)
}
