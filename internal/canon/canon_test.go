package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_KeyOrderIsDeterministicRegardlessOfInputOrder(t *testing.T) {
	a := map[string]any{"zebra": 1, "alpha": 2, "mike": 3}
	b := map[string]any{"mike": 3, "alpha": 2, "zebra": 1}

	outA, err := Marshal(a)
	require.NoError(t, err)
	outB, err := Marshal(b)
	require.NoError(t, err)

	assert.Equal(t, string(outA), string(outB))
	assert.Equal(t, `{"alpha":2,"mike":3,"zebra":1}`, string(outA))
}

func TestMarshal_PreservesArrayOrder(t *testing.T) {
	v := map[string]any{"items": []int{3, 1, 2}}
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"items":[3,1,2]}`, string(out))
}

func TestMarshal_NestedObjectsAreOrderedAtEveryDepth(t *testing.T) {
	v := map[string]any{
		"outer": map[string]any{"z": 1, "a": 2},
		"b":     1,
	}
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"b":1,"outer":{"a":2,"z":1}}`, string(out))
}

func TestChecksum_FormatAndDeterminism(t *testing.T) {
	bytes, err := Marshal(map[string]any{"a": 1})
	require.NoError(t, err)

	sum1 := Checksum(bytes)
	sum2 := Checksum(bytes)

	assert.Equal(t, sum1, sum2)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, sum1)
}

func TestChecksum_DiffersForDifferentContent(t *testing.T) {
	b1, err := Marshal(map[string]any{"a": 1})
	require.NoError(t, err)
	b2, err := Marshal(map[string]any{"a": 2})
	require.NoError(t, err)

	assert.NotEqual(t, Checksum(b1), Checksum(b2))
}

func TestMarshalWithChecksum_BytesMatchChecksumInput(t *testing.T) {
	bytes, checksum, err := MarshalWithChecksum(map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, Checksum(bytes), checksum)
}
