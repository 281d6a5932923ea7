package conditions

import (
	"testing"
	"time"

	"github.com/liamcoop/caseflow/cases"
)

func sampleCase() cases.Case {
	return cases.Case{
		ID:        "case-1",
		Title:     "Suspicious login from new device",
		Status:    "OPEN",
		Severity:  cases.SeverityHigh,
		CaseType:  "incident",
		ScopeCode: "SEC",
		OwnerID:   "owner-1",
		Tags:      []string{"phishing", "vip"},
		Metadata: map[string]any{
			"risk_score": 72,
			"amount":     "1500.50",
			"flagged":    true,
			"source": map[string]any{
				"system": "siem",
			},
		},
		CreatedAt: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
}

// TestEvaluateTruthTable verifies the severity/status conjunction flips with status
func TestEvaluateTruthTable(t *testing.T) {
	conds := []Condition{
		{Field: "severity", Operator: OpIn, Value: []any{"CRITICAL", "HIGH"}},
		{Field: "status", Operator: OpEq, Value: "OPEN"},
	}

	subject := cases.Case{Severity: cases.SeverityHigh, Status: "OPEN"}
	if !Evaluate(conds, subject) {
		t.Error("Evaluate() = false for {HIGH, OPEN}, want true")
	}

	subject.Status = "CLOSED"
	if Evaluate(conds, subject) {
		t.Error("Evaluate() = true for {HIGH, CLOSED}, want false")
	}
}

// TestEvaluateEmptyListIsTrue verifies the empty conjunction holds
func TestEvaluateEmptyListIsTrue(t *testing.T) {
	if !Evaluate(nil, cases.Case{}) {
		t.Error("Evaluate(nil) = false, want true")
	}
	if !Evaluate([]Condition{}, sampleCase()) {
		t.Error("Evaluate([]) = false, want true")
	}
}

func TestMatchOperators(t *testing.T) {
	subject := sampleCase()

	testCases := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq string", Condition{"status", OpEq, "OPEN"}, true},
		{"neq string", Condition{"status", OpNeq, "CLOSED"}, true},
		{"eq scope", Condition{"scope_code", OpEq, "SEC"}, true},
		{"severity gt by rank", Condition{"severity", OpGt, "MEDIUM"}, true},
		{"severity lt by rank", Condition{"severity", OpLt, "CRITICAL"}, true},
		{"severity gte itself", Condition{"severity", OpGte, "high"}, true},
		{"severity unknown operand", Condition{"severity", OpGt, "SEVERE"}, false},
		{"metadata number gt", Condition{"metadata.risk_score", OpGt, 50}, true},
		{"metadata number gt string operand", Condition{"metadata.risk_score", OpGt, "50"}, true},
		{"metadata number lte", Condition{"metadata.risk_score", OpLte, 72.0}, true},
		{"metadata string coerced to number", Condition{"metadata.amount", OpGte, 1000}, true},
		{"status ordered as text", Condition{"status", OpGt, "A"}, true},
		{"status before later text", Condition{"status", OpLt, "B"}, false},
		{"title lte itself", Condition{"title", OpLte, "Suspicious login from new device"}, true},
		{"case type ordered as text", Condition{"case_type", OpLt, "investigation"}, true},
		{"metadata nested eq", Condition{"metadata.source.system", OpEq, "siem"}, true},
		{"metadata bool eq", Condition{"metadata.flagged", OpEq, "true"}, true},
		{"in list", Condition{"case_type", OpIn, []string{"incident", "audit"}}, true},
		{"not_in list", Condition{"case_type", OpNotIn, []string{"audit"}}, true},
		{"not_in member", Condition{"case_type", OpNotIn, []string{"incident"}}, false},
		{"tags contains", Condition{"tags", OpContains, "vip"}, true},
		{"tags contains missing", Condition{"tags", OpContains, "malware"}, false},
		{"tags in intersects", Condition{"tags", OpIn, []any{"malware", "phishing"}}, true},
		{"title contains", Condition{"title", OpContains, "new device"}, true},
		{"created_at before", Condition{"created_at", OpLt, "2024-02-01T00:00:00Z"}, true},
		{"created_at after", Condition{"created_at", OpGt, "2024-02-01T00:00:00Z"}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Match(tc.cond, subject); got != tc.want {
				t.Errorf("Match(%+v) = %v, want %v", tc.cond, got, tc.want)
			}
		})
	}
}

// TestMatchFailedCoercionIsFalse verifies coercion failures never error and never match
func TestMatchFailedCoercionIsFalse(t *testing.T) {
	subject := sampleCase()

	testCases := []struct {
		name string
		cond Condition
	}{
		{"number gt text", Condition{"metadata.risk_score", OpGt, "high"}},
		{"number neq text", Condition{"metadata.risk_score", OpNeq, "lots"}},
		{"time against garbage", Condition{"created_at", OpGt, "yesterday-ish"}},
		{"bool against text", Condition{"metadata.flagged", OpEq, "maybe"}},
		{"not_in with uncoercible members", Condition{"metadata.risk_score", OpNotIn, []any{"x", "y"}}},
		{"nil value", Condition{"status", OpNeq, nil}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if Match(tc.cond, subject) {
				t.Errorf("Match(%+v) = true, want false", tc.cond)
			}
		})
	}
}

// TestMatchUnresolvableFieldIsFalse verifies unknown paths are false for every operator
func TestMatchUnresolvableFieldIsFalse(t *testing.T) {
	subject := sampleCase()
	fields := []string{"priority", "metadata", "metadata.missing", "metadata.risk_score.deeper", "status.code"}
	ops := []Operator{OpEq, OpNeq, OpGt, OpIn, OpNotIn, OpContains}

	for _, field := range fields {
		for _, op := range ops {
			if Match(Condition{Field: field, Operator: op, Value: "x"}, subject) {
				t.Errorf("Match(%s %s) = true, want false", field, op)
			}
		}
	}
}

func TestMatchUnknownOperator(t *testing.T) {
	if Match(Condition{Field: "status", Operator: "matches", Value: "OPEN"}, sampleCase()) {
		t.Error("unknown operator should evaluate false")
	}
}
