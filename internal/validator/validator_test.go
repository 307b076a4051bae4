package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraud-platform/card-fraud-rule-management/internal/domain"
)

type fakeCatalog map[string]domain.RuleField

func (c fakeCatalog) Lookup(fieldKey string) (domain.RuleField, bool) {
	f, ok := c[fieldKey]
	return f, ok
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"amount": {
			FieldKey: "amount", DataType: domain.DataTypeNumber,
			AllowedOperators: []domain.Operator{domain.OpGT, domain.OpLT, domain.OpEQ, domain.OpBetween},
		},
		"country": {
			FieldKey: "country", DataType: domain.DataTypeString,
			AllowedOperators: []domain.Operator{domain.OpEQ, domain.OpIN}, MultiValueAllowed: true,
		},
		"is_trusted_device": {
			FieldKey: "is_trusted_device", DataType: domain.DataTypeBoolean,
			AllowedOperators: []domain.Operator{domain.OpEQ},
		},
	}
}

func leaf(field string, op domain.Operator, value any) *domain.ConditionNode {
	return &domain.ConditionNode{Kind: domain.NodeLeaf, Field: field, Operator: op, Value: value}
}

func TestValidate_AcceptsWellFormedTree(t *testing.T) {
	tree := &domain.ConditionNode{
		Kind: domain.NodeAnd,
		Children: []*domain.ConditionNode{
			leaf("amount", domain.OpGT, float64(1000)),
			{Kind: domain.NodeOr, Children: []*domain.ConditionNode{
				leaf("country", domain.OpEQ, "US"),
				{Kind: domain.NodeNot, Child: leaf("is_trusted_device", domain.OpEQ, true)},
			}},
		},
	}
	err := NewEngine(testCatalog()).Validate(tree)
	assert.NoError(t, err)
}

func TestValidate_RejectsUnknownField(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(leaf("does_not_exist", domain.OpEQ, "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in active catalog")
}

func TestValidate_RejectsDisallowedOperator(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(leaf("amount", domain.OpIN, []any{float64(1)}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed for field")
}

func TestValidate_RejectsWrongValueType(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(leaf("amount", domain.OpGT, "not-a-number"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not conform to data type")
}

func TestValidate_INRequiresNonEmptyArrayAndMultiValueField(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(leaf("country", domain.OpIN, []any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty array")

	singleValue := fakeCatalog{"mcc": {
		FieldKey: "mcc", DataType: domain.DataTypeString,
		AllowedOperators: []domain.Operator{domain.OpIN},
	}}
	err = NewEngine(singleValue).Validate(leaf("mcc", domain.OpIN, []any{"5411"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not allow multi-value operators")
}

func TestValidate_BetweenRequiresTwoOrderedValues(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(leaf("amount", domain.OpBetween, []any{float64(1)}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly two values")

	err = NewEngine(testCatalog()).Validate(leaf("amount", domain.OpBetween, []any{float64(10), float64(1)}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "first value <= second value")

	err = NewEngine(testCatalog()).Validate(leaf("amount", domain.OpBetween, []any{float64(1), float64(10)}))
	assert.NoError(t, err)
}

func TestValidate_RejectsEmptyAndOr(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(&domain.ConditionNode{Kind: domain.NodeAnd})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty list")

	err = NewEngine(testCatalog()).Validate(&domain.ConditionNode{Kind: domain.NodeOr})
	require.Error(t, err)
}

func TestValidate_RejectsNilNode(t *testing.T) {
	err := NewEngine(testCatalog()).Validate(nil)
	assert.Error(t, err)
}
