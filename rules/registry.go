package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/internal/logger"
)

// Registry owns the rule store, the enabled-rule snapshot and the compiled
// CONDITION expressions. Every mutation goes through it so the snapshot is
// invalidated in the same call.
type Registry struct {
	store       RuleStore
	cache       RulesCache
	expressions *ExpressionCache

	// refreshMu serialises snapshot rebuilds so concurrent misses load once
	refreshMu sync.Mutex
}

// NewRegistry creates a registry over store and builds the initial snapshot
func NewRegistry(store RuleStore, config CacheConfig) (*Registry, error) {
	expressions, err := NewExpressionCache()
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store:       store,
		cache:       NewInMemoryRulesCache(config),
		expressions: expressions,
	}

	if _, err := r.refresh(); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return r, nil
}

// Enabled returns the enabled rules ordered by priority then id. The
// returned rules are shared with the snapshot and must not be mutated.
func (r *Registry) Enabled() ([]*Rule, error) {
	if rules := r.cache.Get(); rules != nil {
		return rules, nil
	}
	return r.refresh()
}

func (r *Registry) refresh() ([]*Rule, error) {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if rules := r.cache.Get(); rules != nil {
		return rules, nil
	}

	generation := r.cache.Generation()
	loaded, err := r.store.ListEnabled()
	if err != nil {
		return nil, err
	}

	rules := make([]*Rule, 0, len(loaded))
	for _, rule := range loaded {
		expr := expressionOf(rule)
		if expr == "" {
			r.expressions.Remove(rule.ID)
			rules = append(rules, rule)
			continue
		}
		if err := r.expressions.Compile(rule.ID, expr); err != nil {
			logger.Warn("Dropping rule with invalid expression", "rule_id", rule.ID, "error", err)
			continue
		}
		rules = append(rules, rule)
	}

	SortByPriority(rules)
	if !r.cache.Set(rules, generation) {
		logger.Debug("Rules changed during refresh, snapshot not cached")
	}
	return rules, nil
}

// Invalidate forces the next Enabled call to reload from the store
func (r *Registry) Invalidate() {
	r.cache.Invalidate()
}

// Get returns a copy of one rule, enabled or not
func (r *Registry) Get(id string) (*Rule, error) {
	return r.store.Get(id)
}

// List returns every rule
func (r *Registry) List() ([]*Rule, error) {
	return r.store.List()
}

// AddRule validates, compiles and stores a new rule
func (r *Registry) AddRule(rule *Rule) error {
	if _, err := r.store.Get(rule.ID); err == nil {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	if err := r.check(rule); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := r.store.Add(rule); err != nil {
		return err
	}

	r.cache.Invalidate()
	return nil
}

// UpdateRule validates and replaces an existing rule
func (r *Registry) UpdateRule(rule *Rule) error {
	if err := r.check(rule); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := r.store.Update(rule); err != nil {
		return err
	}

	r.cache.Invalidate()
	return nil
}

// DeleteRule removes a rule, its actions and its compiled expression
func (r *Registry) DeleteRule(id string) error {
	if err := r.store.Delete(id); err != nil {
		return err
	}

	r.expressions.Remove(id)
	r.cache.Invalidate()
	return nil
}

// SetEnabled toggles a rule without touching its configuration
func (r *Registry) SetEnabled(id string, enabled bool) error {
	rule, err := r.store.Get(id)
	if err != nil {
		return err
	}
	if rule.Enabled == enabled {
		return nil
	}

	rule.Enabled = enabled
	if err := r.store.Update(rule); err != nil {
		return err
	}

	r.cache.Invalidate()
	return nil
}

// MatchExpression evaluates the rule's CEL expression, true when it has none
func (r *Registry) MatchExpression(rule *Rule, subject cases.Case) (bool, error) {
	if expressionOf(rule) == "" {
		return true, nil
	}
	return r.expressions.Eval(rule.ID, subject)
}

func (r *Registry) check(rule *Rule) error {
	if err := Validate(rule); err != nil {
		return err
	}
	if expr := expressionOf(rule); expr != "" {
		return r.expressions.Check(expr)
	}
	return nil
}

func expressionOf(rule *Rule) string {
	if rule.TriggerType != TriggerCondition || rule.TriggerConfig.Condition == nil {
		return ""
	}
	return strings.TrimSpace(rule.TriggerConfig.Condition.Expression)
}
