package idgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewID_FormatIs32LowercaseHexChars(t *testing.T) {
	id := New().NewID()
	assert.Regexp(t, `^[0-9a-f]{32}$`, id)
}

func TestNewID_IsMonotonicallyIncreasing(t *testing.T) {
	g := New()
	prev := g.NewID()
	for i := 0; i < 1000; i++ {
		next := g.NewID()
		assert.Less(t, prev, next, "identifier %d should sort after %d", i+1, i)
		prev = next
	}
}

func TestNewID_NeverRepeats(t *testing.T) {
	g := New()
	seen := make(map[string]bool, 2000)
	for i := 0; i < 2000; i++ {
		id := g.NewID()
		assert.False(t, seen[id], "identifier %q generated twice", id)
		seen[id] = true
	}
}
