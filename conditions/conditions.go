// Package conditions evaluates field conditions against a case snapshot.
//
// Evaluation never fails: an unresolvable field, an unknown operator or an
// operand that cannot be coerced to the field's type makes that condition
// false. A list of conditions is a conjunction and the empty list is true.
package conditions

import (
	"cmp"
	"encoding/json"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/liamcoop/caseflow/cases"
	"github.com/spf13/cast"
)

// Operator is a comparison operator
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpNotIn    Operator = "not_in"
	OpContains Operator = "contains"
)

// Condition is one {field, operator, value} predicate
type Condition struct {
	Field    string   `json:"field" validate:"required"`
	Operator Operator `json:"operator" validate:"required,oneof=eq neq gt gte lt lte in not_in contains"`
	Value    any      `json:"value"`
}

// fieldKind is the declared type a field's operands are coerced to
type fieldKind int

const (
	kindString fieldKind = iota
	kindSeverity
	kindNumber
	kindBool
	kindTime
	kindList
	kindOpaque
)

// Evaluate returns true when every condition holds for subject.
func Evaluate(conds []Condition, subject cases.Case) bool {
	for _, c := range conds {
		if !Match(c, subject) {
			return false
		}
	}
	return true
}

// Match evaluates a single condition
func Match(c Condition, subject cases.Case) bool {
	actual, kind, ok := resolve(subject, c.Field)
	if !ok || c.Value == nil {
		return false
	}

	switch c.Operator {
	case OpEq:
		eq, ok := equal(kind, actual, c.Value)
		return ok && eq
	case OpNeq:
		eq, ok := equal(kind, actual, c.Value)
		return ok && !eq
	case OpGt, OpGte, OpLt, OpLte:
		order, ok := compare(kind, actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return order > 0
		case OpGte:
			return order >= 0
		case OpLt:
			return order < 0
		default:
			return order <= 0
		}
	case OpIn:
		in, ok := member(kind, actual, c.Value)
		return ok && in
	case OpNotIn:
		in, ok := member(kind, actual, c.Value)
		return ok && !in
	case OpContains:
		return contains(kind, actual, c.Value)
	default:
		return false
	}
}

// resolve looks up a dotted path on the case. Only metadata accepts nested
// segments.
func resolve(c cases.Case, path string) (any, fieldKind, bool) {
	head, rest, nested := strings.Cut(path, ".")
	if nested && head != "metadata" {
		return nil, 0, false
	}

	switch head {
	case "id":
		return c.ID, kindString, true
	case "title":
		return c.Title, kindString, true
	case "status":
		return c.Status, kindString, true
	case "case_type":
		return c.CaseType, kindString, true
	case "scope_code":
		return c.ScopeCode, kindString, true
	case "owner_id":
		return c.OwnerID, kindString, true
	case "assigned_to":
		return c.AssignedTo, kindString, true
	case "severity":
		return string(c.Severity), kindSeverity, true
	case "tags":
		return c.Tags, kindList, true
	case "created_at":
		return c.CreatedAt, kindTime, true
	case "status_changed_at":
		return c.StatusSince(), kindTime, true
	case "metadata":
		if !nested {
			return nil, 0, false
		}
		var cur any = c.Metadata
		for _, part := range strings.Split(rest, ".") {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil, 0, false
			}
			if cur, ok = m[part]; !ok {
				return nil, 0, false
			}
		}
		if cur == nil {
			return nil, 0, false
		}
		return cur, kindOf(cur), true
	default:
		return nil, 0, false
	}
}

func kindOf(v any) fieldKind {
	switch v.(type) {
	case string:
		return kindString
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return kindNumber
	case time.Time:
		return kindTime
	case []any, []string:
		return kindList
	default:
		return kindOpaque
	}
}

// equal reports ok=false when the operands cannot be coerced to kind
func equal(kind fieldKind, actual, expected any) (eq bool, ok bool) {
	switch kind {
	case kindString:
		e, err := cast.ToStringE(expected)
		if err != nil {
			return false, false
		}
		return actual.(string) == e, true
	case kindSeverity:
		e, err := cast.ToStringE(expected)
		if err != nil {
			return false, false
		}
		a := cases.Severity(actual.(string))
		if a.Rank() == 0 || cases.Severity(e).Rank() == 0 {
			return strings.EqualFold(string(a), e), true
		}
		return a.Rank() == cases.Severity(e).Rank(), true
	case kindNumber:
		a, e, ok := toFloats(actual, expected)
		return ok && a == e, ok
	case kindBool:
		a, err := cast.ToBoolE(actual)
		if err != nil {
			return false, false
		}
		e, err := cast.ToBoolE(expected)
		if err != nil {
			return false, false
		}
		return a == e, true
	case kindTime:
		a, e, ok := toTimes(actual, expected)
		return ok && a.Equal(e), ok
	case kindList:
		a, err := cast.ToStringSliceE(actual)
		if err != nil {
			return false, false
		}
		e, ok := toStrings(expected)
		if !ok {
			return false, false
		}
		return slices.Equal(a, e), true
	default:
		return false, false
	}
}

// compare orders actual against expected under kind's ordering
func compare(kind fieldKind, actual, expected any) (int, bool) {
	switch kind {
	case kindNumber:
		a, e, ok := toFloats(actual, expected)
		if !ok {
			return 0, false
		}
		return cmp.Compare(a, e), true
	case kindString:
		// numeric text such as "1500.50" orders as a number
		if a, e, ok := toFloats(actual, expected); ok {
			return cmp.Compare(a, e), true
		}
		a, err := cast.ToStringE(actual)
		if err != nil {
			return 0, false
		}
		e, err := cast.ToStringE(expected)
		if err != nil {
			return 0, false
		}
		return strings.Compare(a, e), true
	case kindSeverity:
		e, err := cast.ToStringE(expected)
		if err != nil {
			return 0, false
		}
		ar, er := cases.Severity(actual.(string)).Rank(), cases.Severity(e).Rank()
		if ar == 0 || er == 0 {
			return 0, false
		}
		return cmp.Compare(ar, er), true
	case kindTime:
		a, e, ok := toTimes(actual, expected)
		if !ok {
			return 0, false
		}
		return a.Compare(e), true
	default:
		return 0, false
	}
}

// member reports whether actual is in the expected list. For list fields it
// is true when any element is in the expected list.
func member(kind fieldKind, actual, expected any) (in bool, ok bool) {
	list := toList(expected)
	if kind == kindList {
		a, err := cast.ToStringSliceE(actual)
		if err != nil {
			return false, false
		}
		e, ok := toStrings(list)
		if !ok {
			return false, false
		}
		for _, v := range a {
			if slices.Contains(e, v) {
				return true, true
			}
		}
		return false, true
	}

	for _, candidate := range list {
		eq, valid := equal(kind, actual, candidate)
		if !valid {
			continue
		}
		ok = true
		if eq {
			return true, true
		}
	}
	return false, ok
}

func contains(kind fieldKind, actual, expected any) bool {
	e, err := cast.ToStringE(expected)
	if err != nil {
		return false
	}
	switch kind {
	case kindString:
		return strings.Contains(actual.(string), e)
	case kindList:
		a, err := cast.ToStringSliceE(actual)
		return err == nil && slices.Contains(a, e)
	default:
		return false
	}
}

func toFloats(actual, expected any) (float64, float64, bool) {
	a, err := cast.ToFloat64E(actual)
	if err != nil {
		return 0, 0, false
	}
	e, err := cast.ToFloat64E(expected)
	if err != nil {
		return 0, 0, false
	}
	return a, e, true
}

func toTimes(actual, expected any) (time.Time, time.Time, bool) {
	a, err := cast.ToTimeE(actual)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	e, err := cast.ToTimeE(expected)
	if err != nil {
		return time.Time{}, time.Time{}, false
	}
	return a, e, true
}

// toList widens any slice to []any. A scalar becomes a one-element list.
func toList(v any) []any {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func toStrings(v any) ([]string, bool) {
	list := toList(v)
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, err := cast.ToStringE(item)
		if err != nil {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
