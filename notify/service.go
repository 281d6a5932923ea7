package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/realtime"
	"github.com/liamcoop/caseflow/rules"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Request describes one SEND_NOTIFICATION fan-out
type Request struct {
	Case           cases.Case
	Title          string
	Message        string
	RecipientType  string
	RecipientValue string
	Priority       Priority
	LinkURL        string
	Source         Source
	SourceRuleID   string
	Metadata       map[string]any
}

// Service resolves recipients, persists notifications and pushes them
type Service struct {
	store   Store
	users   cases.UserDirectory
	channel realtime.Channel
	clock   func() time.Time
}

// NewService wires a service. channel may be nil when no real-time delivery
// is configured.
func NewService(store Store, users cases.UserDirectory, channel realtime.Channel) *Service {
	return &Service{
		store:   store,
		users:   users,
		channel: channel,
		clock:   time.Now,
	}
}

// ResolveRecipients returns the distinct user ids for a recipient type and value, in
// resolution order.
func (s *Service) ResolveRecipients(ctx context.Context, c cases.Case, recipientType, value string) ([]string, error) {
	var ids []string
	switch recipientType {
	case rules.RecipientOwner:
		ids = []string{c.OwnerID}
	case rules.RecipientAssignee:
		if strings.TrimSpace(c.AssignedTo) == "" {
			return nil, ErrNoAssignee
		}
		ids = []string{c.AssignedTo}
	case rules.RecipientRole:
		if value == "" {
			return nil, nil
		}
		users, err := s.users.ListUsersByRole(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("list users with role %s: %w", value, err)
		}
		ids = users
	case rules.RecipientUser:
		ids = []string{value}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRecipientType, recipientType)
	}

	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// Send persists one notification per resolved recipient and then pushes
// each one. An unassigned case is ErrNoAssignee, zero recipients otherwise
// is ErrNoRecipients. A failed push is not an error.
func (s *Service) Send(ctx context.Context, req Request) ([]Notification, error) {
	recipients, err := s.ResolveRecipients(ctx, req.Case, req.RecipientType, req.RecipientValue)
	if errors.Is(err, ErrNoAssignee) {
		logger.Debug("Case has no assignee, notification skipped", "case_id", req.Case.ID)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		logger.Warn("Notification resolved no recipients",
			"case_id", req.Case.ID, "recipient_type", req.RecipientType, "recipient_value", req.RecipientValue)
		return nil, fmt.Errorf("%w: %s %s", ErrNoRecipients, req.RecipientType, req.RecipientValue)
	}

	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	source := req.Source
	if source == "" {
		source = SourceWorkflow
	}

	now := s.clock()
	batch := make([]Notification, 0, len(recipients))
	for _, userID := range recipients {
		n := Notification{
			ID:              uuid.New().String(),
			RecipientUserID: userID,
			Title:           req.Title,
			Message:         req.Message,
			Priority:        priority,
			LinkURL:         req.LinkURL,
			Source:          source,
			SourceRuleID:    req.SourceRuleID,
			Metadata:        req.Metadata,
			CreatedAt:       now,
		}
		if req.Case.ID != "" {
			n.RelatedEntityType = "case"
			n.RelatedEntityID = req.Case.ID
		}
		batch = append(batch, n)
	}

	if err := s.store.Create(ctx, batch); err != nil {
		return nil, err
	}
	logger.NotificationsCreated.Add(int64(len(batch)))

	if s.channel != nil {
		for _, n := range batch {
			if !s.channel.Push(n.RecipientUserID, n) {
				logger.PushesUndelivered.Add(1)
				logger.Debug("Notification not pushed, user offline", "user_id", n.RecipientUserID, "notification_id", n.ID)
			}
		}
	}
	return batch, nil
}

// ListForUser returns a page of the user's notifications, newest first
func (s *Service) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	opts.Limit = clampPageSize(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return s.store.ListForUser(ctx, userID, opts)
}

func (s *Service) MarkRead(ctx context.Context, userID, id string) error {
	return s.store.MarkRead(ctx, userID, id, s.clock())
}

func (s *Service) MarkAllRead(ctx context.Context, userID string) (int, error) {
	return s.store.MarkAllRead(ctx, userID, s.clock())
}

func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.store.UnreadCount(ctx, userID)
}

func clampPageSize(size int) int {
	if size <= 0 {
		return DefaultPageSize
	}
	if size > MaxPageSize {
		return MaxPageSize
	}
	return size
}
