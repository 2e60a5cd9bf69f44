//go:build amd64

package jit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

// compileCountLoop runs the full decode -> IR -> optimize -> assemble
// pipeline over buildCountLoop's bytecode.
func compileCountLoop(t *testing.T, limit float64) *CompiledCode {
	t.Helper()
	ch, header, loop := buildCountLoop(limit)
	ops, ok := decodeLoopBody(ch, header, loop)
	require.True(t, ok)
	p := buildIR(ops, header, loop+3)
	optimize(p)
	require.False(t, needsInterpreter(p))
	require.True(t, guardsExitOnComparisons(p))
	require.True(t, regAllocatable(p))
	p.computeUsedSlots()

	code, err := Compile(p)
	require.NoError(t, err)
	t.Cleanup(code.Release)
	return code
}

func TestCompiledLoopCountsToLimit(t *testing.T) {
	code := compileCountLoop(t, 10)
	require.Equal(t, 2, code.NumSlots)

	regs := make([]float64, code.NumSlots)
	regs[1] = 0
	code.Run(regs)
	assert.Equal(t, 10.0, regs[1], "the loop increments slot 1 until the guard fails")

	// Re-entry mid-count continues from the given state.
	regs[1] = 7
	code.Run(regs)
	assert.Equal(t, 10.0, regs[1])

	// Entering with the guard already false exits without an iteration.
	regs[1] = 25
	code.Run(regs)
	assert.Equal(t, 25.0, regs[1])
}

func TestEngineCompileAndInvalidate(t *testing.T) {
	h := heap.New()
	ch, header, loop := buildCountLoop(100)

	e := NewEngine()
	tr := e.Compile(h, ch, header, loop, 7)
	require.NotNil(t, tr)
	assert.Equal(t, uint32(7), tr.Version)
	assert.Same(t, tr, e.Lookup(ch, header))

	code, ok := tr.Code.(*CompiledCode)
	require.True(t, ok)
	regs := make([]float64, code.NumSlots)
	code.Run(regs)
	assert.Equal(t, 100.0, regs[1])

	visited := 0
	e.WalkRoots(func(v value.Value) {
		require.True(t, v.IsObj())
		visited++
	})
	assert.Equal(t, 1, visited, "the live trace is a GC root")

	e.Invalidate(8)
	assert.Nil(t, e.Lookup(ch, header), "a version bump retires the trace")
	assert.True(t, tr.Invalid)
}

func TestDeoptimizeIsTerminal(t *testing.T) {
	h := heap.New()
	ch, header, loop := buildCountLoop(10)
	e := NewEngine()
	tr := e.Compile(h, ch, header, loop, 0)
	require.NotNil(t, tr)

	Deoptimize(tr)
	assert.True(t, tr.Invalid)
	assert.Nil(t, e.Lookup(ch, header))
	Deoptimize(tr) // idempotent
}
