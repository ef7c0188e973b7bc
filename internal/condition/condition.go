// Package condition implements the engine's condition-matching language: an
// ordered set of field/operator/value predicates combined with implicit AND.
// The language is deliberately closed — there is no OR, NOT, or grouping.
package condition

import (
	"log/slog"
	"strings"
)

// Operator is a comparison operator. The set is closed; extending it means
// adding a constant here and a case in evalOne.
type Operator string

const (
	OpEquals   Operator = "equals"
	OpContains Operator = "contains"
)

// Condition is a single field/operator/value predicate over the event payload.
type Condition struct {
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    string   `json:"value" yaml:"value"`
}

// allowedFields is the whitelist of lead attributes conditions may reference.
var allowedFields = map[string]struct{}{
	"source":    {},
	"status":    {},
	"email":     {},
	"phone":     {},
	"full_name": {},
}

// KnownField reports whether f is in the whitelist of lead attributes.
func KnownField(f string) bool {
	_, ok := allowedFields[f]
	return ok
}

// KnownOperator reports whether op is part of the closed operator set.
func KnownOperator(op Operator) bool {
	return op == OpEquals || op == OpContains
}

// Evaluate reports whether every condition matches the payload. An empty set
// always matches. Pure: no I/O beyond a configuration warning log for
// misconfigured conditions, which evaluate to false rather than aborting.
func Evaluate(payload map[string]string, conds []Condition) bool {
	matched := true
	for _, c := range conds {
		// Every condition is still checked so each misconfiguration
		// gets its warning, even once the result is already false.
		if !evalOne(payload, c) {
			matched = false
		}
	}
	return matched
}

func evalOne(payload map[string]string, c Condition) bool {
	if !KnownField(c.Field) {
		slog.Warn("condition references unknown field, treating as no match",
			"field", c.Field, "operator", string(c.Operator))
		return false
	}
	val, ok := payload[c.Field]
	switch c.Operator {
	case OpEquals:
		return ok && val == c.Value
	case OpContains:
		if !ok {
			return false
		}
		return strings.Contains(val, c.Value)
	default:
		slog.Warn("unknown condition operator, treating as no match",
			"field", c.Field, "operator", string(c.Operator))
		return false
	}
}
