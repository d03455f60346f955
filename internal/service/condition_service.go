package service

import (
	"reflect"
	"strings"

	"go.uber.org/zap"

	"github.com/stackmesh/flowline/internal/metrics"
	"github.com/stackmesh/flowline/internal/model"
)

// Condition operators. The grammar is closed: anything outside this set
// evaluates to false with a warning, never to code execution.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpLt       = "lt"
	OpGte      = "gte"
	OpLte      = "lte"
	OpContains = "contains"
	OpIn       = "in"
	OpAnd      = "and"
	OpOr       = "or"
	OpNot      = "not"
)

// ConditionEvaluator interprets the closed-grammar condition expression tree
// against a context map. Evaluation is deterministic and side-effect free;
// malformed input degrades to false with a logged warning, never an error.
type ConditionEvaluator struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewConditionEvaluator creates a new condition evaluator.
func NewConditionEvaluator(m *metrics.Metrics, logger *zap.Logger) *ConditionEvaluator {
	return &ConditionEvaluator{metrics: m, logger: logger}
}

// EvaluateAll reports whether every condition holds against the context.
// An empty condition list holds trivially.
func (e *ConditionEvaluator) EvaluateAll(conditions []*model.Condition, context map[string]any) bool {
	for _, cond := range conditions {
		if !e.Evaluate(cond, context) {
			return false
		}
	}
	return true
}

// Evaluate interprets one condition node against the context.
func (e *ConditionEvaluator) Evaluate(cond *model.Condition, context map[string]any) bool {
	if cond == nil {
		return true
	}

	switch cond.Op {
	case OpAnd:
		for _, arg := range cond.Args {
			if !e.Evaluate(arg, context) {
				return false
			}
		}
		return true

	case OpOr:
		for _, arg := range cond.Args {
			if e.Evaluate(arg, context) {
				return true
			}
		}
		return false

	case OpNot:
		if len(cond.Args) != 1 {
			e.warn("not requires exactly one argument", cond)
			return false
		}
		return !e.Evaluate(cond.Args[0], context)

	case OpEq, OpNe, OpGt, OpLt, OpGte, OpLte, OpContains, OpIn:
		return e.evaluateLeaf(cond, context)

	default:
		e.warn("unknown operator", cond)
		return false
	}
}

func (e *ConditionEvaluator) evaluateLeaf(cond *model.Condition, context map[string]any) bool {
	actual, exists := context[cond.Key]
	if !exists {
		// Missing keys evaluate to false for every leaf operator.
		return false
	}

	switch cond.Op {
	case OpEq:
		return looseEqual(actual, cond.Value)
	case OpNe:
		return !looseEqual(actual, cond.Value)
	case OpGt, OpLt, OpGte, OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(cond.Value)
		if !aok || !bok {
			e.warn("non-numeric operand for numeric comparison", cond)
			return false
		}
		switch cond.Op {
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		case OpGte:
			return a >= b
		default:
			return a <= b
		}
	case OpContains:
		return e.evaluateContains(cond, actual)
	case OpIn:
		list, ok := toSlice(cond.Value)
		if !ok {
			e.warn("in requires a list value", cond)
			return false
		}
		for _, item := range list {
			if looseEqual(actual, item) {
				return true
			}
		}
		return false
	}
	return false
}

func (e *ConditionEvaluator) evaluateContains(cond *model.Condition, actual any) bool {
	if s, ok := actual.(string); ok {
		want, ok := cond.Value.(string)
		if !ok {
			e.warn("contains on a string requires a string value", cond)
			return false
		}
		return strings.Contains(s, want)
	}
	if list, ok := toSlice(actual); ok {
		for _, item := range list {
			if looseEqual(item, cond.Value) {
				return true
			}
		}
		return false
	}
	e.warn("contains requires a string or list operand", cond)
	return false
}

// warn records a non-fatal evaluation warning. Warnings never abort
// evaluation; the offending node simply evaluates to false.
func (e *ConditionEvaluator) warn(msg string, cond *model.Condition) {
	e.metrics.ConditionWarnings.Inc()
	e.logger.Warn("Condition evaluation warning",
		zap.String("reason", msg),
		zap.String("op", cond.Op),
		zap.String("key", cond.Key))
}

// looseEqual compares two values, treating all numeric types as comparable.
func looseEqual(a, b any) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
