package workflow

import (
	"github.com/liamcoop/caseflow/cases"
	"github.com/liamcoop/caseflow/conditions"
	"github.com/liamcoop/caseflow/internal/logger"
	"github.com/liamcoop/caseflow/rules"
)

// RuleSource is the read side of the rule registry used for matching
type RuleSource interface {
	// Enabled returns the enabled-rule snapshot, ordered by priority
	Enabled() ([]*rules.Rule, error)
	MatchExpression(rule *rules.Rule, subject cases.Case) (bool, error)
}

// Dispatcher selects the rules an event triggers
type Dispatcher struct {
	rules          RuleSource
	firstMatchOnly bool
}

func NewDispatcher(source RuleSource, firstMatchOnly bool) *Dispatcher {
	return &Dispatcher{rules: source, firstMatchOnly: firstMatchOnly}
}

// Match returns the rules ev triggers, ascending by priority with ties
// broken by id. The snapshot is read once per call.
func (d *Dispatcher) Match(ev cases.Event) ([]*rules.Rule, error) {
	snapshot, err := d.rules.Enabled()
	if err != nil {
		return nil, err
	}

	var matched []*rules.Rule
	for _, rule := range snapshot {
		if d.matches(rule, ev) {
			matched = append(matched, rule)
		}
	}

	rules.SortByPriority(matched)
	if d.firstMatchOnly && len(matched) > 1 {
		matched = matched[:1]
	}
	return matched, nil
}

func (d *Dispatcher) matches(rule *rules.Rule, ev cases.Event) bool {
	if !rule.Enabled || !rule.AppliesTo(ev.Case) {
		return false
	}

	cfg := rule.TriggerConfig

	// Synthetic scheduler events target exactly one rule
	if ev.Kind == cases.KindTimeBased {
		return rule.TriggerType == rules.TriggerTimeBased &&
			rule.ID == ev.RuleID &&
			cfg.TimeBased != nil &&
			cfg.TimeBased.Status == ev.Case.Status
	}

	switch rule.TriggerType {
	case rules.TriggerStatusChange:
		if ev.Kind != cases.KindStatusChanged || cfg.StatusChange == nil {
			return false
		}
		from, to := cfg.StatusChange.FromStatus, cfg.StatusChange.ToStatus
		return (from == "" || from == ev.PreviousStatus) && (to == "" || to == ev.Case.Status)

	case rules.TriggerEvent:
		return cfg.Event != nil && cfg.Event.EventType == string(ev.Kind)

	case rules.TriggerCondition:
		if cfg.Condition == nil || !conditions.Evaluate(cfg.Condition.Conditions, ev.Case) {
			return false
		}
		ok, err := d.rules.MatchExpression(rule, ev.Case)
		if err != nil {
			logger.Warn("Rule expression failed, treating as no match", "rule_id", rule.ID, "case_id", ev.Case.ID, "error", err)
			return false
		}
		return ok

	default:
		return false
	}
}

// MatchedIDs is a convenience for logging
func MatchedIDs(matched []*rules.Rule) []string {
	ids := make([]string, 0, len(matched))
	for _, r := range matched {
		ids = append(ids, r.ID)
	}
	return ids
}
