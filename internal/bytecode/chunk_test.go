package bytecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/value"
)

func TestEmitAndReadU16(t *testing.T) {
	c := New("test", 0)
	c.Emit(OpConstant, 1)
	off := c.EmitU16(0xBEEF, 1)
	assert.Equal(t, uint16(0xBEEF), c.ReadU16(off))

	c.PatchU16(off, 0x1234)
	assert.Equal(t, uint16(0x1234), c.ReadU16(off))
}

func TestLinesTrackCode(t *testing.T) {
	c := New("test", 0)
	c.Emit(OpNil, 3)
	c.EmitU16(7, 4)
	require.Equal(t, len(c.Code), len(c.Lines))
	assert.Equal(t, 3, c.Lines[0])
	assert.Equal(t, 4, c.Lines[1])
	assert.Equal(t, 4, c.Lines[2])
}

func TestAddConstant(t *testing.T) {
	c := New("test", 0)
	i := c.AddConstant(value.Number(1))
	j := c.AddConstant(value.Number(2))
	assert.Equal(t, uint16(0), i)
	assert.Equal(t, uint16(1), j)
	assert.Equal(t, value.Number(2), c.Constants[j])
}

func TestICSlotsAreUnique(t *testing.T) {
	c := New("test", 0)
	seen := map[uint16]bool{}
	for i := 0; i < 100; i++ {
		s := c.NewICSlot()
		require.False(t, seen[s], "slot %d handed out twice", s)
		seen[s] = true
	}
	assert.Equal(t, 100, c.NumICSlots)
}
