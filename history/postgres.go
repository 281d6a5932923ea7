package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// foreignKeyViolation is the SQLSTATE for a dangling rule reference
const foreignKeyViolation = "23503"

// PostgresStore persists records in workflow_executions
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const recordColumns = `id, rule_id, rule_name, trigger_type, trigger_data, case_id, case_id_snapshot,
	case_status_snapshot, actions, outcome, error_message, depth, triggered_by, started_at, completed_at`

// Append inserts rec. If the rule was deleted while the attempt ran, the
// record is kept with a null rule reference.
func (s *PostgresStore) Append(ctx context.Context, rec Record) error {
	err := s.insert(ctx, rec)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation && rec.RuleID != "" {
		rec.RuleID = ""
		err = s.insert(ctx, rec)
	}
	if err != nil {
		return fmt.Errorf("failed to insert execution record: %w", err)
	}
	return nil
}

func (s *PostgresStore) insert(ctx context.Context, rec Record) error {
	triggerData, err := json.Marshal(nonNilMap(rec.TriggerData))
	if err != nil {
		return err
	}
	actions := rec.Actions
	if actions == nil {
		actions = []ActionOutcome{}
	}
	actionsDoc, err := json.Marshal(actions)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, rec.ID, nullString(rec.RuleID), rec.RuleName, rec.TriggerType, triggerData, nullString(rec.CaseID),
		rec.CaseIDSnapshot, rec.CaseStatus, actionsDoc, string(rec.Outcome), rec.ErrorMessage, rec.Depth,
		rec.TriggeredBy, rec.StartedAt, rec.CompletedAt)
	return err
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.RuleID != "" {
		args = append(args, f.RuleID)
		where = append(where, fmt.Sprintf("rule_id = $%d", len(args)))
	}
	if f.CaseID != "" {
		args = append(args, f.CaseID)
		where = append(where, fmt.Sprintf("case_id_snapshot = $%d", len(args)))
	}
	if f.Outcome != "" {
		args = append(args, string(f.Outcome))
		where = append(where, fmt.Sprintf("outcome = $%d", len(args)))
	}

	q := `SELECT ` + recordColumns + ` FROM workflow_executions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY started_at DESC, completed_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution records: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution records: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LastSuccess(ctx context.Context, ruleID, caseID string) (Record, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM workflow_executions
		WHERE rule_id = $1 AND case_id_snapshot = $2 AND outcome = 'SUCCESS'
		ORDER BY started_at DESC
		LIMIT 1
	`, ruleID, caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to load last success: %w", err)
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec         Record
		ruleID      sql.NullString
		caseID      sql.NullString
		triggerData []byte
		actionsDoc  []byte
		outcome     string
	)
	err := row.Scan(&rec.ID, &ruleID, &rec.RuleName, &rec.TriggerType, &triggerData, &caseID,
		&rec.CaseIDSnapshot, &rec.CaseStatus, &actionsDoc, &outcome, &rec.ErrorMessage, &rec.Depth,
		&rec.TriggeredBy, &rec.StartedAt, &rec.CompletedAt)
	if err != nil {
		return Record{}, err
	}

	rec.RuleID = ruleID.String
	rec.CaseID = caseID.String
	rec.Outcome = Outcome(outcome)
	if len(triggerData) > 0 {
		if err := json.Unmarshal(triggerData, &rec.TriggerData); err != nil {
			return Record{}, fmt.Errorf("trigger data: %w", err)
		}
	}
	if len(actionsDoc) > 0 {
		if err := json.Unmarshal(actionsDoc, &rec.Actions); err != nil {
			return Record{}, fmt.Errorf("actions: %w", err)
		}
	}
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
