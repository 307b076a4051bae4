package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionTree_ShapeA(t *testing.T) {
	raw := json.RawMessage(`{
		"and": [
			{"field": "amount", "op": "gt", "value": 1000},
			{"or": [
				{"field": "country", "op": "eq", "value": "US"},
				{"not": {"field": "is_trusted_device", "op": "eq", "value": true}}
			]}
		]
	}`)

	node, err := ParseConditionTree(raw)
	require.NoError(t, err)
	require.Equal(t, NodeAnd, node.Kind)
	require.Len(t, node.Children, 2)

	leaf := node.Children[0]
	assert.Equal(t, NodeLeaf, leaf.Kind)
	assert.Equal(t, "amount", leaf.Field)
	assert.Equal(t, Operator("gt"), leaf.Operator)

	or := node.Children[1]
	assert.Equal(t, NodeOr, or.Kind)
	require.Len(t, or.Children, 2)
	assert.Equal(t, NodeNot, or.Children[1].Kind)
}

func TestParseConditionTree_ShapeB(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "AND",
		"conditions": [
			{"type": "CONDITION", "field": "amount", "operator": "gt", "value": 1000},
			{"type": "NOT", "condition": {"type": "CONDITION", "field": "country", "operator": "eq", "value": "US"}}
		]
	}`)

	node, err := ParseConditionTree(raw)
	require.NoError(t, err)
	require.Equal(t, NodeAnd, node.Kind)
	require.Len(t, node.Children, 2)
	assert.Equal(t, NodeNot, node.Children[1].Kind)
}

func TestParseConditionTree_RejectsUnrecognizedNode(t *testing.T) {
	_, err := ParseConditionTree(json.RawMessage(`{"type": "BOGUS"}`))
	assert.Error(t, err)

	_, err = ParseConditionTree(json.RawMessage(`{}`))
	assert.Error(t, err)
}

func TestParseConditionTree_RejectsNonObject(t *testing.T) {
	_, err := ParseConditionTree(json.RawMessage(`[1,2,3]`))
	assert.Error(t, err)
}

func TestToWireShapeA_RoundTripsBothInputShapes(t *testing.T) {
	shapeA := json.RawMessage(`{"field": "amount", "op": "gt", "value": 1000}`)
	shapeB := json.RawMessage(`{"type": "CONDITION", "field": "amount", "operator": "gt", "value": 1000}`)

	nodeA, err := ParseConditionTree(shapeA)
	require.NoError(t, err)
	nodeB, err := ParseConditionTree(shapeB)
	require.NoError(t, err)

	outA, err := json.Marshal(nodeA.ToWireShapeA())
	require.NoError(t, err)
	outB, err := json.Marshal(nodeB.ToWireShapeA())
	require.NoError(t, err)

	assert.JSONEq(t, string(outA), string(outB))
	assert.JSONEq(t, `{"field":"amount","op":"gt","value":1000}`, string(outA))
}

func TestToWireShapeA_NilNodeReturnsNil(t *testing.T) {
	var n *ConditionNode
	assert.Nil(t, n.ToWireShapeA())
}
