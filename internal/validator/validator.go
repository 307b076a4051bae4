// Package validator implements the condition-tree validator: structure,
// field existence and active status, operator allowance, value type, and
// arity rules, reported with a JSONPath-style location.
package validator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
	"github.com/fraud-platform/card-fraud-rule-management/internal/platform/apperr"
)

// FieldCatalog is the read interface the validator needs from the field
// store, decoupled so the validator has no storage dependency.
type FieldCatalog interface {
	Lookup(fieldKey string) (domain.RuleField, bool)
}

// Engine validates condition trees against a field catalog.
type Engine struct {
	catalog FieldCatalog
}

// NewEngine builds a validator Engine bound to catalog.
func NewEngine(catalog FieldCatalog) *Engine {
	return &Engine{catalog: catalog}
}

// Validate walks tree and returns a ValidationError (via apperr) on the
// first failure found, including a JSONPath-style path in Details["path"].
func (e *Engine) Validate(tree *domain.ConditionNode) error {
	return e.validateNode(tree, "$")
}

func (e *Engine) validateNode(n *domain.ConditionNode, path string) error {
	if n == nil {
		return fail(path, "condition node must not be empty")
	}

	switch n.Kind {
	case domain.NodeAnd:
		if len(n.Children) == 0 {
			return fail(path+".and", "AND requires a non-empty list of conditions")
		}
		for i, child := range n.Children {
			if err := e.validateNode(child, fmt.Sprintf("%s.and[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case domain.NodeOr:
		if len(n.Children) == 0 {
			return fail(path+".or", "OR requires a non-empty list of conditions")
		}
		for i, child := range n.Children {
			if err := e.validateNode(child, fmt.Sprintf("%s.or[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case domain.NodeNot:
		return e.validateNode(n.Child, path+".not")
	case domain.NodeLeaf:
		return e.validateLeaf(n, path)
	default:
		return fail(path, "unrecognized condition node kind")
	}
}

func (e *Engine) validateLeaf(n *domain.ConditionNode, path string) error {
	field, ok := e.catalog.Lookup(n.Field)
	if !ok {
		return failWith(path, fmt.Sprintf("field %q not found in active catalog", n.Field), map[string]any{
			"field_key": n.Field,
		})
	}

	if !operatorAllowed(field, n.Operator) {
		return failWith(path, fmt.Sprintf("operator %q not allowed for field %q", n.Operator, n.Field), map[string]any{
			"field_key": n.Field,
			"operator":  n.Operator,
		})
	}

	switch n.Operator {
	case domain.OpIN, domain.OpNotIN:
		values, ok := asList(n.Value)
		if !ok || len(values) == 0 {
			return fail(path, fmt.Sprintf("%s requires a non-empty array value", n.Operator))
		}
		if !field.MultiValueAllowed {
			return failWith(path, fmt.Sprintf("field %q does not allow multi-value operators", n.Field), map[string]any{
				"field_key": n.Field,
			})
		}
		for i, v := range values {
			if !typeConforms(field.DataType, v) {
				return fail(fmt.Sprintf("%s.value[%d]", path, i), fmt.Sprintf("value does not conform to data type %s", field.DataType))
			}
			if err := checkEnumMembership(field, v, fmt.Sprintf("%s.value[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case domain.OpBetween:
		values, ok := asList(n.Value)
		if !ok || len(values) != 2 {
			return fail(path+".value", "BETWEEN requires an array of exactly two values")
		}
		for i, v := range values {
			if !typeConforms(field.DataType, v) {
				return fail(fmt.Sprintf("%s.value[%d]", path, i), fmt.Sprintf("value does not conform to data type %s", field.DataType))
			}
		}
		lo, hi := values[0], values[1]
		if !lessOrEqual(lo, hi) {
			return fail(path+".value", "BETWEEN requires first value <= second value")
		}
		return nil
	default:
		if isScalar(n.Value) == false {
			return fail(path+".value", fmt.Sprintf("%s requires a scalar value", n.Operator))
		}
		if !typeConforms(field.DataType, n.Value) {
			return fail(path+".value", fmt.Sprintf("value does not conform to data type %s", field.DataType))
		}
		if err := checkEnumMembership(field, n.Value, path+".value"); err != nil {
			return err
		}
		return nil
	}
}

// checkEnumMembership reports a ValidationError if field is an ENUM field
// with a configured value set and v is not one of its members. BETWEEN is
// exempt: an enum has no natural ordering, so the spec's type-conformance
// rule for ENUM applies only to equality-style and membership operators.
func checkEnumMembership(field domain.RuleField, v any, path string) error {
	if field.DataType != domain.DataTypeEnum || len(field.EnumValues) == 0 {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return fail(path, fmt.Sprintf("value does not conform to data type %s", field.DataType))
	}
	for _, allowed := range field.EnumValues {
		if allowed == s {
			return nil
		}
	}
	return failWith(path, fmt.Sprintf("value %q is not a member of field %q's enum value set", s, field.FieldKey), map[string]any{
		"field_key": field.FieldKey,
		"value":     s,
	})
}

func operatorAllowed(field domain.RuleField, op domain.Operator) bool {
	for _, allowed := range field.AllowedOperators {
		if allowed == op {
			return true
		}
	}
	return false
}

func asList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, map[string]any:
		return false
	default:
		return true
	}
}

func typeConforms(dt domain.DataType, v any) bool {
	switch dt {
	case domain.DataTypeString, domain.DataTypeEnum:
		_, ok := v.(string)
		return ok
	case domain.DataTypeNumber:
		switch v.(type) {
		case float64, int, int64:
			return true
		default:
			return false
		}
	case domain.DataTypeBoolean:
		_, ok := v.(bool)
		return ok
	case domain.DataTypeDate:
		s, ok := v.(string)
		if !ok {
			return false
		}
		_, err := time.Parse(time.RFC3339, s)
		return err == nil
	default:
		return false
	}
}

func lessOrEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af <= bf
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as <= bs
	}
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func fail(path, message string) error {
	return apperr.InvalidInput("condition_tree", message).WithDetails(map[string]any{"path": path})
}

func failWith(path, message string, details map[string]any) error {
	details["path"] = path
	return apperr.InvalidInput("condition_tree", message).WithDetails(details)
}
