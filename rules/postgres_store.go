package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Rules live in
// workflow_rules and their actions in workflow_actions.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, description, trigger_type, trigger_config, enabled, priority,
	scope_codes, case_types, cooldown_seconds, created_by, created_at, updated_at`

// Add inserts a rule and its actions in one transaction
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`SELECT EXISTS(SELECT 1 FROM workflow_rules WHERE id = $1)`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	triggerDoc, err := EncodeTriggerConfig(rule.TriggerType, rule.TriggerConfig)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO workflow_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, rule.ID, rule.Name, rule.Description, string(rule.TriggerType), triggerDoc, rule.Enabled, rule.Priority,
		pq.Array(nonNil(rule.ScopeCodes)), pq.Array(nonNil(rule.CaseTypes)), cooldownValue(rule.CooldownSeconds),
		rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	if err := insertActions(tx, rule); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}
	return nil
}

// Get retrieves a rule by ID with its actions
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	rule, err := scanRule(s.db.QueryRow(`SELECT `+ruleColumns+` FROM workflow_rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := s.attachActions([]*Rule{rule}); err != nil {
		return nil, err
	}
	return rule, nil
}

// ListEnabled returns enabled rules ordered by priority then id
func (s *PostgresRuleStore) ListEnabled() ([]*Rule, error) {
	return s.query(`SELECT ` + ruleColumns + ` FROM workflow_rules WHERE enabled = true ORDER BY priority ASC, id ASC`)
}

// List returns every rule ordered by priority then id
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.query(`SELECT ` + ruleColumns + ` FROM workflow_rules ORDER BY priority ASC, id ASC`)
}

func (s *PostgresRuleStore) query(q string) ([]*Rule, error) {
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	if err := s.attachActions(rulesList); err != nil {
		return nil, err
	}
	return rulesList, nil
}

// Update replaces the rule row and all of its actions
func (s *PostgresRuleStore) Update(rule *Rule) error {
	triggerDoc, err := EncodeTriggerConfig(rule.TriggerType, rule.TriggerConfig)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRow(`
		UPDATE workflow_rules
		SET name = $1, description = $2, trigger_type = $3, trigger_config = $4, enabled = $5,
			priority = $6, scope_codes = $7, case_types = $8, cooldown_seconds = $9, updated_at = $10
		WHERE id = $11
		RETURNING created_at
	`, rule.Name, rule.Description, string(rule.TriggerType), triggerDoc, rule.Enabled,
		rule.Priority, pq.Array(nonNil(rule.ScopeCodes)), pq.Array(nonNil(rule.CaseTypes)),
		cooldownValue(rule.CooldownSeconds), rule.UpdatedAt, rule.ID).Scan(&rule.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM workflow_actions WHERE rule_id = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear actions: %w", err)
	}
	if err := insertActions(tx, rule); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}
	return nil
}

// Delete removes a rule. workflow_actions rows cascade.
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM workflow_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		rule        Rule
		triggerType string
		triggerDoc  []byte
		scopeCodes  pq.StringArray
		caseTypes   pq.StringArray
		cooldown    sql.NullInt64
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &triggerType, &triggerDoc, &rule.Enabled,
		&rule.Priority, &scopeCodes, &caseTypes, &cooldown, &rule.CreatedBy, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rule.TriggerType = TriggerType(triggerType)
	rule.TriggerConfig, err = DecodeTriggerConfig(rule.TriggerType, triggerDoc)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	rule.ScopeCodes = []string(scopeCodes)
	rule.CaseTypes = []string(caseTypes)
	if cooldown.Valid {
		v := int(cooldown.Int64)
		rule.CooldownSeconds = &v
	}
	return &rule, nil
}

// attachActions loads actions for all rules in one query
func (s *PostgresRuleStore) attachActions(rulesList []*Rule) error {
	if len(rulesList) == 0 {
		return nil
	}

	byID := make(map[string]*Rule, len(rulesList))
	ids := make([]string, 0, len(rulesList))
	for _, r := range rulesList {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	rows, err := s.db.Query(`
		SELECT id, rule_id, action_type, action_config, sequence
		FROM workflow_actions
		WHERE rule_id = ANY($1)
		ORDER BY rule_id, sequence ASC
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			a          Action
			actionType string
			doc        []byte
		)
		if err := rows.Scan(&a.ID, &a.RuleID, &actionType, &doc, &a.Sequence); err != nil {
			return fmt.Errorf("failed to scan action: %w", err)
		}
		a.ActionType = ActionType(actionType)
		if a.Config, err = DecodeActionConfig(a.ActionType, doc); err != nil {
			return fmt.Errorf("action %s: %w", a.ID, err)
		}
		if r, ok := byID[a.RuleID]; ok {
			r.Actions = append(r.Actions, a)
		}
	}
	return rows.Err()
}

func insertActions(tx *sql.Tx, rule *Rule) error {
	for i := range rule.Actions {
		a := &rule.Actions[i]
		if a.ID == "" {
			a.ID = uuid.New().String()
		}
		a.RuleID = rule.ID

		doc, err := EncodeActionConfig(a.ActionType, a.Config)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			INSERT INTO workflow_actions (id, rule_id, action_type, action_config, sequence)
			VALUES ($1, $2, $3, $4, $5)
		`, a.ID, a.RuleID, string(a.ActionType), doc, a.Sequence)
		if err != nil {
			return fmt.Errorf("failed to insert action %d: %w", a.Sequence, err)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func cooldownValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
