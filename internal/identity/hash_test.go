package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMachineID_StableAndHex(t *testing.T) {
	a := MachineID()
	b := MachineID()
	assert.Equal(t, a, b, "machine id must be stable within a process")
	assert.Len(t, a, 32)
}

func TestContentHash_DeterministicAndFieldBoundary(t *testing.T) {
	h1 := ContentHash("ab", "c")
	h2 := ContentHash("a", "bc")
	assert.NotEqual(t, h1, h2, "field boundaries must not collide")

	h3 := ContentHash("ab", "c")
	assert.Equal(t, h1, h3)
}

func TestContentHash_Empty(t *testing.T) {
	assert.NotEmpty(t, ContentHash())
}
