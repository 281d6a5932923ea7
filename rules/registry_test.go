package rules

import (
	"errors"
	"testing"

	"github.com/liamcoop/caseflow/cases"
)

// countingStore counts ListEnabled calls to observe snapshot reuse
type countingStore struct {
	*InMemoryRuleStore
	listCalls int
}

func (s *countingStore) ListEnabled() ([]*Rule, error) {
	s.listCalls++
	return s.InMemoryRuleStore.ListEnabled()
}

func newTestRegistry(t *testing.T) (*Registry, *countingStore) {
	t.Helper()
	store := &countingStore{InMemoryRuleStore: NewInMemoryRuleStore()}
	reg, err := NewRegistry(store, CacheConfig{})
	if err != nil {
		t.Fatalf("NewRegistry() failed: %v", err)
	}
	return reg, store
}

// TestRegistrySnapshotReadThrough verifies the store is read once until a mutation invalidates
func TestRegistrySnapshotReadThrough(t *testing.T) {
	reg, store := newTestRegistry(t)

	if err := reg.AddRule(escalationRule("r1", 1)); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	before := store.listCalls
	for i := 0; i < 3; i++ {
		rules, err := reg.Enabled()
		if err != nil {
			t.Fatalf("Enabled() failed: %v", err)
		}
		if len(rules) != 1 {
			t.Fatalf("Enabled() returned %d rules, want 1", len(rules))
		}
	}
	if got := store.listCalls - before; got != 1 {
		t.Errorf("store listed %d times for three reads, want 1", got)
	}

	if err := reg.SetEnabled("r1", false); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	rules, _ := reg.Enabled()
	if len(rules) != 0 {
		t.Errorf("disabled rule still in snapshot")
	}

	if err := reg.SetEnabled("r1", true); err != nil {
		t.Fatalf("SetEnabled() failed: %v", err)
	}
	if err := reg.DeleteRule("r1"); err != nil {
		t.Fatalf("DeleteRule() failed: %v", err)
	}
	rules, _ = reg.Enabled()
	if len(rules) != 0 {
		t.Errorf("deleted rule still in snapshot")
	}
}

func TestRegistryRejectsInvalidRules(t *testing.T) {
	reg, _ := newTestRegistry(t)

	bad := escalationRule("bad", 1)
	bad.Actions = nil
	if err := reg.AddRule(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AddRule() error = %v, want ErrInvalidConfig", err)
	}

	if err := reg.AddRule(conditionRule("expr", `case.status ==`)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("AddRule(bad expression) error = %v, want ErrInvalidConfig", err)
	}

	if _, err := reg.Get("bad"); !errors.Is(err, ErrRuleNotFound) {
		t.Error("a rejected rule must not be stored")
	}

	if err := reg.AddRule(escalationRule("ok", 1)); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}
	if err := reg.AddRule(escalationRule("ok", 2)); !errors.Is(err, ErrRuleExists) {
		t.Errorf("AddRule(duplicate) error = %v, want ErrRuleExists", err)
	}

	update := escalationRule("ok", 1)
	update.TriggerConfig.StatusChange = nil
	if err := reg.UpdateRule(update); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("UpdateRule() error = %v, want ErrInvalidConfig", err)
	}
}

// TestRegistryMatchExpression verifies CEL expressions are compiled and evaluated per rule
func TestRegistryMatchExpression(t *testing.T) {
	reg, _ := newTestRegistry(t)

	rule := conditionRule("sec-critical", `case.scope_code == "SEC" && case.severity_rank >= 4 && "vip" in case.tags`)
	if err := reg.AddRule(rule); err != nil {
		t.Fatalf("AddRule() failed: %v", err)
	}

	// The snapshot rebuild compiles expressions
	enabled, err := reg.Enabled()
	if err != nil {
		t.Fatalf("Enabled() failed: %v", err)
	}

	subject := cases.Case{Status: "OPEN", ScopeCode: "SEC", Severity: cases.SeverityCritical, Tags: []string{"vip"}}
	ok, err := reg.MatchExpression(enabled[0], subject)
	if err != nil || !ok {
		t.Errorf("MatchExpression() = %v, %v, want true, nil", ok, err)
	}

	subject.Severity = cases.SeverityHigh
	ok, err = reg.MatchExpression(enabled[0], subject)
	if err != nil || ok {
		t.Errorf("MatchExpression() = %v, %v, want false, nil", ok, err)
	}

	plain := escalationRule("plain", 1)
	if ok, _ := reg.MatchExpression(plain, subject); !ok {
		t.Error("a rule without expression should match")
	}
}

// TestRegistryInvalidateReloads verifies external writes become visible after Invalidate
func TestRegistryInvalidateReloads(t *testing.T) {
	reg, store := newTestRegistry(t)

	if _, err := reg.Enabled(); err != nil {
		t.Fatalf("Enabled() failed: %v", err)
	}

	// Simulates a write by another process straight into the store
	if err := store.Add(escalationRule("external", 1)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	rules, _ := reg.Enabled()
	if len(rules) != 0 {
		t.Fatalf("snapshot should be stale before Invalidate, got %d rules", len(rules))
	}

	reg.Invalidate()
	rules, _ = reg.Enabled()
	if len(rules) != 1 || rules[0].ID != "external" {
		t.Errorf("Enabled() after Invalidate() = %d rules, want the external rule", len(rules))
	}
}

func TestExpressionCacheNonBooleanIsFalse(t *testing.T) {
	ec, err := NewExpressionCache()
	if err != nil {
		t.Fatalf("NewExpressionCache() failed: %v", err)
	}

	if err := ec.Compile("r", `case.title`); err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}
	ok, err := ec.Eval("r", cases.Case{Title: "x"})
	if err != nil || ok {
		t.Errorf("Eval() = %v, %v, want false, nil", ok, err)
	}

	if _, err := ec.Eval("missing", cases.Case{}); err == nil {
		t.Error("Eval() of an uncompiled rule should error")
	}

	ec.Remove("r")
	if ec.Has("r") {
		t.Error("Remove() should drop the program")
	}
}

func TestExpressionMetadataAccess(t *testing.T) {
	ec, _ := NewExpressionCache()
	if err := ec.Compile("r", `has(case.metadata.amount) && case.metadata.amount > 1000.0`); err != nil {
		t.Fatalf("Compile() failed: %v", err)
	}

	ok, err := ec.Eval("r", cases.Case{Metadata: map[string]any{"amount": 1500.0}})
	if err != nil || !ok {
		t.Errorf("Eval() = %v, %v, want true, nil", ok, err)
	}

	ok, err = ec.Eval("r", cases.Case{})
	if err != nil || ok {
		t.Errorf("Eval() without metadata = %v, %v, want false, nil", ok, err)
	}
}
