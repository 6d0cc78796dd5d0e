// File: internal/safety/constraints.go

// Package safety holds the runtime guards between a compiled plan and
// its execution: constraint evaluation, dry-run impact simulation, the
// append-only auditor and per-bot rate limiting. Everything here fails
// closed: an expression that cannot be evaluated blocks the step it
// guards instead of waving it through.
package safety

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/intentc/api/schemas"
)

// EvaluateCondition evaluates a "field operator value" expression
// against a context map. Supported operators: > >= < <= == != =.
// Ordered operators require both sides to be numeric. An unknown
// field, a malformed expression or a non-numeric operand under an
// ordered operator all return an error; callers treat any error as a
// blocking violation.
func EvaluateCondition(expr string, ctx map[string]any) (bool, error) {
	parts := strings.Fields(expr)
	if len(parts) < 3 {
		return false, fmt.Errorf("malformed condition %q: want \"field operator value\"", expr)
	}
	field, op := parts[0], parts[1]
	literal := strings.Join(parts[2:], " ")

	raw, ok := ctx[field]
	if !ok {
		return false, fmt.Errorf("unknown field %q in condition %q", field, expr)
	}

	switch op {
	case ">", ">=", "<", "<=":
		left, err := toFloat(raw)
		if err != nil {
			return false, fmt.Errorf("field %q is not numeric: %w", field, err)
		}
		right, err := strconv.ParseFloat(literal, 64)
		if err != nil {
			return false, fmt.Errorf("value %q is not numeric", literal)
		}
		switch op {
		case ">":
			return left > right, nil
		case ">=":
			return left >= right, nil
		case "<":
			return left < right, nil
		default:
			return left <= right, nil
		}

	case "==", "=", "!=":
		// Numeric comparison when both sides parse as numbers,
		// otherwise string comparison.
		equal := false
		if left, lerr := toFloat(raw); lerr == nil {
			if right, rerr := strconv.ParseFloat(literal, 64); rerr == nil {
				equal = left == right
			} else {
				equal = fmt.Sprint(raw) == literal
			}
		} else {
			equal = fmt.Sprint(raw) == literal
		}
		if op == "!=" {
			return !equal, nil
		}
		return equal, nil

	default:
		return false, fmt.Errorf("unsupported operator %q in condition %q", op, expr)
	}
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("cannot parse %q as a number", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// Risk score weights per violation class.
const (
	blockingWeight   = 0.5
	warningWeight    = 0.3
	suggestionWeight = 0.1
)

// CheckConstraints evaluates every enabled constraint whose applies_to
// covers the action. A constraint passes when its expression holds.
// Error and critical severity violations block; warnings and
// suggestions surface without blocking. An expression that cannot be
// evaluated counts as a blocking violation regardless of severity.
func CheckConstraints(action string, ctx map[string]any, constraints []schemas.SafetyConstraint) schemas.ConstraintCheckResult {
	result := schemas.ConstraintCheckResult{Passed: true}

	for _, c := range constraints {
		if !c.Enabled || !appliesTo(c, action) {
			continue
		}

		ok, err := EvaluateCondition(c.Expression, ctx)
		if err != nil {
			result.Blocking = append(result.Blocking, schemas.ConstraintViolation{
				ConstraintID: c.ID,
				Name:         c.Name,
				Severity:     c.Severity,
				Message:      fmt.Sprintf("constraint unevaluable, failing closed: %v", err),
			})
			continue
		}
		if ok {
			continue
		}

		violation := schemas.ConstraintViolation{
			ConstraintID: c.ID,
			Name:         c.Name,
			Severity:     c.Severity,
			Message:      fmt.Sprintf("condition %q does not hold", c.Expression),
		}
		switch c.Severity {
		case schemas.SeverityError, schemas.SeverityCritical:
			result.Blocking = append(result.Blocking, violation)
		case schemas.SeverityWarning:
			result.Warnings = append(result.Warnings, violation)
		default:
			result.Suggestions = append(result.Suggestions, violation)
		}
	}

	result.Passed = len(result.Blocking) == 0
	score := blockingWeight*float64(len(result.Blocking)) +
		warningWeight*float64(len(result.Warnings)) +
		suggestionWeight*float64(len(result.Suggestions))
	if score > 1 {
		score = 1
	}
	result.RiskScore = score
	return result
}

func appliesTo(c schemas.SafetyConstraint, action string) bool {
	if len(c.AppliesTo) == 0 {
		return true
	}
	for _, a := range c.AppliesTo {
		if strings.EqualFold(a, action) {
			return true
		}
	}
	return false
}
