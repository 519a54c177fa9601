package journey

import (
	"strings"

	"github.com/tailhq/courier/internal/store"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
)

// conditionsMet reports whether every condition holds against the
// enrollment context. No conditions means the step always executes. An
// unknown operator fails closed: the step is skipped rather than run on
// a rule the engine cannot evaluate.
func conditionsMet(conditions []store.Condition, ctx map[string]any) bool {
	for _, c := range conditions {
		if !evaluate(c, ctx) {
			return false
		}
	}
	return true
}

func evaluate(c store.Condition, ctx map[string]any) bool {
	val, present := ctx[c.Field]

	switch c.Operator {
	case OpExists:
		return present && val != nil
	case OpNotExists:
		return !present || val == nil
	}

	if !present {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return looseEqual(val, c.Value)
	case OpNotEquals:
		return !looseEqual(val, c.Value)
	case OpGreaterThan:
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		return aok && bok && a > b
	case OpLessThan:
		a, aok := toFloat(val)
		b, bok := toFloat(c.Value)
		return aok && bok && a < b
	case OpContains:
		s, sok := val.(string)
		sub, subok := c.Value.(string)
		return sok && subok && strings.Contains(s, sub)
	}

	return false
}

// looseEqual compares across the numeric types JSON decoding produces.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
