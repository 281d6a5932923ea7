package rules

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/liamcoop/caseflow/cases"
)

// expressionCostLimit bounds a single evaluation so a pathological
// expression cannot stall a dispatch.
const expressionCostLimit = 1000000

// ExpressionCache compiles CONDITION expressions once and keeps the programs
// keyed by rule id. Safe for concurrent use.
type ExpressionCache struct {
	env      *cel.Env
	programs map[string]cel.Program
	mu       sync.RWMutex
}

// NewExpressionCache creates a cache whose environment exposes the case
// snapshot as the dynamic variable `case`.
func NewExpressionCache() (*ExpressionCache, error) {
	env, err := cel.NewEnv(
		cel.Variable("case", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ExpressionCache{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// Check compiles expression without storing it
func (ec *ExpressionCache) Check(expression string) error {
	_, err := ec.program(expression)
	return err
}

// Compile compiles expression and stores it under ruleID, replacing any
// previous program.
func (ec *ExpressionCache) Compile(ruleID, expression string) error {
	prog, err := ec.program(expression)
	if err != nil {
		return err
	}

	ec.mu.Lock()
	ec.programs[ruleID] = prog
	ec.mu.Unlock()
	return nil
}

func (ec *ExpressionCache) program(expression string) (cel.Program, error) {
	ast, issues := ec.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile error: %v", ErrInvalidConfig, issues.Err())
	}

	prog, err := ec.env.Program(ast,
		cel.EvalOptions(cel.OptTrackState),
		cel.CostLimit(expressionCostLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program creation error: %v", ErrInvalidConfig, err)
	}
	return prog, nil
}

// Remove drops the program for ruleID
func (ec *ExpressionCache) Remove(ruleID string) {
	ec.mu.Lock()
	delete(ec.programs, ruleID)
	ec.mu.Unlock()
}

// Has reports whether a program is compiled for ruleID
func (ec *ExpressionCache) Has(ruleID string) bool {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	_, ok := ec.programs[ruleID]
	return ok
}

// Eval runs the program for ruleID against subject. A non-boolean result is
// treated as false.
func (ec *ExpressionCache) Eval(ruleID string, subject cases.Case) (bool, error) {
	ec.mu.RLock()
	prog, exists := ec.programs[ruleID]
	ec.mu.RUnlock()

	if !exists {
		return false, fmt.Errorf("rule %s has no compiled expression", ruleID)
	}

	out, _, err := prog.Eval(map[string]any{"case": Activation(subject)})
	if err != nil {
		return false, fmt.Errorf("evaluate rule %s: %w", ruleID, err)
	}

	matched, ok := out.Value().(bool)
	return ok && matched, nil
}

// Activation renders the case as the map CEL expressions see
func Activation(c cases.Case) map[string]any {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	return map[string]any{
		"id":                c.ID,
		"title":             c.Title,
		"status":            c.Status,
		"severity":          string(c.Severity),
		"severity_rank":     c.Severity.Rank(),
		"case_type":         c.CaseType,
		"scope_code":        c.ScopeCode,
		"owner_id":          c.OwnerID,
		"assigned_to":       c.AssignedTo,
		"tags":              tags,
		"metadata":          metadata,
		"created_at":        c.CreatedAt,
		"status_changed_at": c.StatusSince(),
	}
}
