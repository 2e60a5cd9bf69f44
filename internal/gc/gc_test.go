package gc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

func newEmptyChunk() *bytecode.Chunk { return bytecode.New("f", 0) }

// rootList is a fixed RootSource for tests.
type rootList struct {
	vals []value.Value
}

func (r *rootList) WalkRoots(visit func(value.Value)) {
	for _, v := range r.vals {
		visit(v)
	}
}

func countObjects(h *heap.Heap) int {
	n := 0
	for obj := h.Head(); obj != nil; obj = obj.Next {
		n++
	}
	return n
}

func contains(h *heap.Heap, target *heap.Object) bool {
	for obj := h.Head(); obj != nil; obj = obj.Next {
		if obj == target {
			return true
		}
	}
	return false
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := heap.New()
	c := New(h)

	kept := h.Intern("kept")
	dropped := h.Intern("dropped")
	require.Equal(t, 2, countObjects(h))

	c.Collect(&rootList{vals: []value.Value{kept.Value()}})

	assert.True(t, contains(h, &kept.Object))
	assert.False(t, contains(h, &dropped.Object))
	assert.Equal(t, 1, countObjects(h))
}

func TestCollectTracesThroughContainers(t *testing.T) {
	h := heap.New()
	c := New(h)

	inner := h.Intern("inner")
	arr := h.NewArray([]value.Value{inner.Value()})
	d := h.NewDict()
	dk := h.Intern("dk")
	dv := h.Intern("dv")
	d.Set(dk.Value(), dv.Value())
	outer := h.NewArray([]value.Value{arr.Value(), d.Value()})

	c.Collect(&rootList{vals: []value.Value{outer.Value()}})

	for _, obj := range []*heap.Object{&outer.Object, &arr.Object, &d.Object, &inner.Object, &dk.Object, &dv.Object} {
		assert.True(t, contains(h, obj))
	}
}

func TestCollectClearsInterningEntry(t *testing.T) {
	h := heap.New()
	c := New(h)

	doomed := h.Intern("transient")
	c.Collect(&rootList{})
	assert.False(t, contains(h, &doomed.Object))

	// The weak interning entry was cleared, so re-interning the same
	// content allocates a fresh object rather than resurrecting the freed
	// pointer.
	fresh := h.Intern("transient")
	assert.NotSame(t, doomed, fresh)
	assert.True(t, contains(h, &fresh.Object))
}

func TestSurvivorsAreWhiteAgain(t *testing.T) {
	h := heap.New()
	c := New(h)
	s := h.Intern("s")
	roots := &rootList{vals: []value.Value{s.Value()}}

	c.Collect(roots)
	assert.Equal(t, heap.White, s.Object.Color, "sweep resets survivors for the next cycle")
	// A second collection with the same roots must keep the same survivors.
	c.Collect(roots)
	assert.True(t, contains(h, &s.Object))
}

func TestCollectHandlesCycles(t *testing.T) {
	h := heap.New()
	c := New(h)

	a := h.NewArray(nil)
	b := h.NewArray(nil)
	a.Push(b.Value())
	b.Push(a.Value()) // cycle

	c.Collect(&rootList{vals: []value.Value{a.Value()}})
	assert.True(t, contains(h, &a.Object))
	assert.True(t, contains(h, &b.Object))

	c.Collect(&rootList{})
	assert.False(t, contains(h, &a.Object), "an unreachable cycle is still collected")
	assert.False(t, contains(h, &b.Object))
}

func TestCollectMarksClosuresAndUpvalues(t *testing.T) {
	h := heap.New()
	c := New(h)

	captured := h.Intern("captured")
	slot := captured.Value()
	uv := h.NewUpvalue(&slot)
	uv.Close()
	// A closure over a chunk-less function is enough for the mark phase.
	cl := h.NewClosure(h.NewFunction(newEmptyChunk()), []*heap.Upvalue{uv})

	c.Collect(&rootList{vals: []value.Value{cl.Value()}})
	assert.True(t, contains(h, &uv.Object))
	assert.True(t, contains(h, &captured.Object), "a closed upvalue's value is a strong edge")
}

func TestCollectIfNeededRespectsThreshold(t *testing.T) {
	h := heap.New()
	c := New(h)
	junk := h.Intern("junk")

	// Below threshold: nothing happens.
	c.CollectIfNeeded(&rootList{})
	assert.True(t, contains(h, &junk.Object))

	h.NextGC = 0
	c.CollectIfNeeded(&rootList{})
	assert.False(t, contains(h, &junk.Object))
	assert.GreaterOrEqual(t, h.NextGC, 1<<20, "threshold regrows after a collection")
}

func TestDeepChainDoesNotRecurse(t *testing.T) {
	// The mark worklist is iterative; a pathologically deep chain of
	// nested arrays must not blow the Go stack.
	h := heap.New()
	c := New(h)

	leaf := h.NewArray(nil)
	cur := leaf
	for i := 0; i < 100000; i++ {
		cur = h.NewArray([]value.Value{cur.Value()})
	}
	c.Collect(&rootList{vals: []value.Value{cur.Value()}})
	assert.True(t, contains(h, &leaf.Object))

	c.Collect(&rootList{})
	assert.Equal(t, 0, countObjects(h))
}
