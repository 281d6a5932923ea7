package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// foreignKeyViolation is the SQLSTATE for a dangling rule reference
const foreignKeyViolation = "23503"

// PostgresStore persists notifications in the notifications table
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const notificationColumns = `id, recipient_user_id, title, message, priority, related_entity_type,
	related_entity_id, link_url, is_read, read_at, source, source_rule_id, metadata, created_at`

// Create inserts ns in one transaction. If the source rule was deleted
// meanwhile, the notifications are kept without the rule reference.
func (s *PostgresStore) Create(ctx context.Context, ns []Notification) error {
	err := s.create(ctx, ns)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		detached := make([]Notification, len(ns))
		copy(detached, ns)
		for i := range detached {
			detached[i].SourceRuleID = ""
		}
		err = s.create(ctx, detached)
	}
	return err
}

func (s *PostgresStore) create(ctx context.Context, ns []Notification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range ns {
		metadata := n.Metadata
		if metadata == nil {
			metadata = map[string]any{}
		}
		doc, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO notifications (`+notificationColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, n.ID, n.RecipientUserID, n.Title, n.Message, string(n.Priority), nullString(n.RelatedEntityType),
			nullString(n.RelatedEntityID), nullString(n.LinkURL), n.IsRead, n.ReadAt, string(n.Source),
			nullString(n.SourceRuleID), doc, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notifications: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, opts ListOptions) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE recipient_user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT NULLIF($3::int, 0) OFFSET $4
	`, userID, opts.UnreadOnly, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	out := make([]Notification, 0)
	for rows.Next() {
		var (
			n                                    Notification
			priority, source                     string
			entityType, entityID, link, sourceID sql.NullString
			readAt                               sql.NullTime
			doc                                  []byte
		)
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.Title, &n.Message, &priority, &entityType,
			&entityID, &link, &n.IsRead, &readAt, &source, &sourceID, &doc, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Priority = Priority(priority)
		n.Source = Source(source)
		n.RelatedEntityType = entityType.String
		n.RelatedEntityID = entityID.String
		n.LinkURL = link.String
		n.SourceRuleID = sourceID.String
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		if len(doc) > 0 {
			if err := json.Unmarshal(doc, &n.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		WITH updated AS (
			UPDATE notifications SET is_read = TRUE, read_at = $3
			WHERE id = $1 AND recipient_user_id = $2 AND is_read = FALSE
			RETURNING id
		)
		SELECT EXISTS(SELECT 1 FROM notifications WHERE id = $1 AND recipient_user_id = $2)
	`, id, userID, at).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE, read_at = $2
		WHERE recipient_user_id = $1 AND is_read = FALSE
	`, userID, at)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications WHERE recipient_user_id = $1 AND is_read = FALSE
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
