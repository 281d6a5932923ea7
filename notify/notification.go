// Package notify resolves notification recipients, persists one
// notification per recipient and pushes them to connected users.
package notify

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoAssignee is returned for assignee notifications on an unassigned case
	ErrNoAssignee = errors.New("case has no assignee")
	// ErrNoRecipients is returned when recipient resolution yields nobody
	ErrNoRecipients = errors.New("no recipients resolved")
	// ErrNotFound is returned when a notification does not exist for the user
	ErrNotFound = errors.New("notification not found")
	// ErrUnknownRecipientType is returned for a recipient type outside the known set
	ErrUnknownRecipientType = errors.New("unknown recipient type")
)

type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityNormal Priority = "NORMAL"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Source records who produced a notification
type Source string

const (
	SourceWorkflow Source = "workflow"
	SourceSystem   Source = "system"
	SourceUser     Source = "user"
)

// Notification is created once and afterwards only its read state changes
type Notification struct {
	ID                string         `json:"id"`
	RecipientUserID   string         `json:"recipient_user_id"`
	Title             string         `json:"title"`
	Message           string         `json:"message"`
	Priority          Priority       `json:"priority"`
	RelatedEntityType string         `json:"related_entity_type,omitempty"`
	RelatedEntityID   string         `json:"related_entity_id,omitempty"`
	LinkURL           string         `json:"link_url,omitempty"`
	IsRead            bool           `json:"is_read"`
	ReadAt            *time.Time     `json:"read_at,omitempty"`
	Source            Source         `json:"source"`
	SourceRuleID      string         `json:"source_rule_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// ListOptions pages a user's notifications, newest first
type ListOptions struct {
	UnreadOnly bool
	Limit      int
	Offset     int
}

// Store persists notifications
type Store interface {
	// Create inserts all notifications or none
	Create(ctx context.Context, ns []Notification) error
	ListForUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error

	// MarkAllRead returns how many notifications changed state
	MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
}
