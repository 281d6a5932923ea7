package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/history"
	"github.com/liamcoop/caseflow/notify"
	"github.com/liamcoop/caseflow/rules"
)

// API request and response models

// EventRequest is a case lifecycle event posted by the case application.
// Either Case carries the snapshot or CaseID names a case to load.
type EventRequest struct {
	Kind           string         `json:"kind" validate:"required"`
	CaseID         string         `json:"case_id,omitempty" validate:"required_without=Case"`
	Case           *cases.Case    `json:"case,omitempty"`
	PreviousStatus string         `json:"previous_status,omitempty"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      *time.Time     `json:"timestamp,omitempty"`
}

// EventAcceptedResponse acknowledges a queued event
type EventAcceptedResponse struct {
	Status string `json:"status" example:"queued"`
	CaseID string `json:"case_id"`
	Kind   string `json:"kind"`
}

// RunRuleRequest names the case for a manual rule run
type RunRuleRequest struct {
	CaseID string `json:"case_id" validate:"required"`
}

// ActionResponse is one action with its config rendered as stored
type ActionResponse struct {
	ID         string          `json:"id"`
	ActionType string          `json:"action_type"`
	Sequence   int             `json:"sequence"`
	Config     json.RawMessage `json:"config"`
}

// RuleResponse represents a rule in API responses
type RuleResponse struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	TriggerType     string           `json:"trigger_type"`
	TriggerConfig   json.RawMessage  `json:"trigger_config"`
	Enabled         bool             `json:"enabled"`
	Priority        int              `json:"priority"`
	ScopeCodes      []string         `json:"scope_codes"`
	CaseTypes       []string         `json:"case_types"`
	CooldownSeconds *int             `json:"cooldown_seconds,omitempty"`
	Actions         []ActionResponse `json:"actions"`
	CreatedBy       string           `json:"created_by,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []RuleResponse `json:"rules"`
}

// ExecutionsListResponse lists execution records newest first
type ExecutionsListResponse struct {
	Executions []history.Record `json:"executions"`
}

// NotificationsListResponse lists a user's notifications newest first
type NotificationsListResponse struct {
	Notifications []notify.Notification `json:"notifications"`
}

// UnreadCountResponse is the unread badge count
type UnreadCountResponse struct {
	UserID string `json:"user_id"`
	Unread int    `json:"unread"`
}

// ReadAllResponse reports how many notifications were marked
type ReadAllResponse struct {
	Marked int `json:"marked"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status string `json:"status" example:"healthy"`
	Mode   string `json:"mode,omitempty"`
	Rules  int    `json:"rules_enabled"`
	Error  string `json:"error,omitempty"`
}

func toRuleResponse(r *rules.Rule) (RuleResponse, error) {
	trigger, err := rules.EncodeTriggerConfig(r.TriggerType, r.TriggerConfig)
	if err != nil {
		return RuleResponse{}, fmt.Errorf("rule %s: %w", r.ID, err)
	}

	resp := RuleResponse{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		TriggerType:     string(r.TriggerType),
		TriggerConfig:   trigger,
		Enabled:         r.Enabled,
		Priority:        r.Priority,
		ScopeCodes:      nonNil(r.ScopeCodes),
		CaseTypes:       nonNil(r.CaseTypes),
		CooldownSeconds: r.CooldownSeconds,
		Actions:         make([]ActionResponse, 0, len(r.Actions)),
		CreatedBy:       r.CreatedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for _, a := range r.OrderedActions() {
		cfg, err := rules.EncodeActionConfig(a.ActionType, a.Config)
		if err != nil {
			return RuleResponse{}, fmt.Errorf("rule %s action %s: %w", r.ID, a.ID, err)
		}
		resp.Actions = append(resp.Actions, ActionResponse{
			ID:         a.ID,
			ActionType: string(a.ActionType),
			Sequence:   a.Sequence,
			Config:     cfg,
		})
	}
	return resp, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
