// Package history stores one execution record per rule attempt.
package history

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("execution record not found")

// Outcome is the overall result of one attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailed  Outcome = "FAILED"
	OutcomeSkipped Outcome = "SKIPPED"
)

// ActionOutcome is the result of one action within an attempt
type ActionOutcome struct {
	ActionType string `json:"action_type"`
	Success    bool   `json:"success"`
	Detail     string `json:"detail,omitempty"`
}

// Record is the audit entry for one attempt, executed or skipped.
//
// RuleID and CaseID are weak references and may be cleared when the rule or
// case is deleted. RuleName and CaseIDSnapshot keep what was true at the
// time.
type Record struct {
	ID             string          `json:"id"`
	RuleID         string          `json:"rule_id,omitempty"`
	RuleName       string          `json:"rule_name"`
	TriggerType    string          `json:"trigger_type"`
	TriggerData    map[string]any  `json:"trigger_data,omitempty"`
	CaseID         string          `json:"case_id,omitempty"`
	CaseIDSnapshot string          `json:"case_id_snapshot"`
	CaseStatus     string          `json:"case_status_snapshot,omitempty"`
	Actions        []ActionOutcome `json:"actions"`
	Outcome        Outcome         `json:"outcome"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Depth          int             `json:"depth"`
	TriggeredBy    string          `json:"triggered_by"`
	StartedAt      time.Time       `json:"started_at"`
	CompletedAt    time.Time       `json:"completed_at"`
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	RuleID  string
	CaseID  string
	Outcome Outcome
	Limit   int
}

// Store persists records. Query returns newest first.
type Store interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)

	// LastSuccess returns the most recent SUCCESS for the pair, ErrNotFound
	// if there is none.
	LastSuccess(ctx context.Context, ruleID, caseID string) (Record, error)
}
