// Package casedir reads and mutates cases in the case application's
// PostgreSQL tables. It implements the cases collaborator interfaces.
package casedir

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/liamcoop/caseflow/cases"
)

// changedBy is written to case_status_history for engine-made changes
const changedBy = "workflow"

const foreignKeyViolation = "23503"

// Store is a cases.CaseDirectory, cases.TimelineLog and cases.UserDirectory
// over the case application's schema.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// The status-change time comes from the newest case_status_history row
const selectCase = `
	SELECT c.id, c.title, c.status, c.severity, c.case_type, c.scope_code, c.owner_id,
	       COALESCE(c.assigned_to, ''), c.tags, c.metadata, c.created_at, h.changed_at
	FROM cases c
	LEFT JOIN LATERAL (
		SELECT changed_at FROM case_status_history
		WHERE case_id = c.id
		ORDER BY changed_at DESC
		LIMIT 1
	) h ON true`

func (s *Store) GetCase(ctx context.Context, id string) (cases.Case, error) {
	row := s.db.QueryRowContext(ctx, selectCase+` WHERE c.id = $1`, id)
	c, err := scanCase(row)
	if errors.Is(err, sql.ErrNoRows) {
		return cases.Case{}, fmt.Errorf("case %s: %w", id, cases.ErrCaseNotFound)
	}
	if err != nil {
		return cases.Case{}, fmt.Errorf("failed to load case %s: %w", id, err)
	}
	return c, nil
}

func (s *Store) ListByStatus(ctx context.Context, status string) ([]cases.Case, error) {
	rows, err := s.db.QueryContext(ctx, selectCase+` WHERE c.status = $1 ORDER BY c.id`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list cases in %s: %w", status, err)
	}
	defer rows.Close()

	var out []cases.Case
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MutateStatus updates the case and appends the transition to its status
// history in one transaction.
func (s *Store) MutateStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var previous string
	err = tx.QueryRowContext(ctx, `SELECT status FROM cases WHERE id = $1 FOR UPDATE`, id).Scan(&previous)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("case %s: %w", id, cases.ErrCaseNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock case %s: %w", id, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE cases SET status = $2, updated_at = now() WHERE id = $1`, id, status); err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO case_status_history (case_id, from_status, to_status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, clock_timestamp())
	`, id, previous, status, changedBy); err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}

	return tx.Commit()
}

func (s *Store) AssignUser(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE cases SET assigned_to = $2, updated_at = now() WHERE id = $1`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to assign case %s: %w", id, err)
	}
	return requireRow(res, id)
}

// AddTag appends tag only when absent, so concurrent adds stay idempotent
func (s *Store) AddTag(ctx context.Context, id, tag string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cases SET tags = array_append(tags, $2::text), updated_at = now()
		WHERE id = $1 AND NOT ($2::text = ANY(tags))
	`, id, tag)
	if err != nil {
		return false, fmt.Errorf("failed to tag case %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cases WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check case %s: %w", id, err)
	}
	if !exists {
		return false, fmt.Errorf("case %s: %w", id, cases.ErrCaseNotFound)
	}
	return false, nil
}

func (s *Store) AppendEvent(ctx context.Context, caseID, eventType, description, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO case_timeline (id, case_id, event_type, description, source, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`, uuid.New().String(), caseID, eventType, description, source)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("case %s: %w", caseID, cases.ErrCaseNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to append timeline for %s: %w", caseID, err)
	}
	return nil
}

func (s *Store) ListUsersByRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE role = $1 AND is_active ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with role %s: %w", role, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1 AND is_active)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to look up user %s: %w", id, err)
	}
	return exists, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCase(row scanner) (cases.Case, error) {
	var (
		c         cases.Case
		severity  string
		tags      pq.StringArray
		metadata  []byte
		changedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.Title, &c.Status, &severity, &c.CaseType, &c.ScopeCode, &c.OwnerID,
		&c.AssignedTo, &tags, &metadata, &c.CreatedAt, &changedAt)
	if err != nil {
		return cases.Case{}, err
	}

	c.Severity = cases.Severity(severity)
	c.Tags = []string(tags)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return cases.Case{}, fmt.Errorf("invalid metadata on case %s: %w", c.ID, err)
		}
	}
	if changedAt.Valid {
		t := changedAt.Time.UTC()
		c.StatusChangedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("case %s: %w", id, cases.ErrCaseNotFound)
	}
	return nil
}

// compile-time interface checks
var (
	_ cases.CaseDirectory = (*Store)(nil)
	_ cases.TimelineLog   = (*Store)(nil)
	_ cases.UserDirectory = (*Store)(nil)
)
