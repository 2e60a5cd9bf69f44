package value

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberRoundTrip(t *testing.T) {
	for _, f := range []float64{0, 1, -1, 3.14159, 1e308, -1e308, math.Inf(1), math.Inf(-1), 0.5, -0.0} {
		v := Number(f)
		require.True(t, v.IsNumber(), "Number(%v) must decode as a number", f)
		assert.Equal(t, f, v.AsNumber())
		assert.False(t, v.IsBool())
		assert.False(t, v.IsNil())
		assert.False(t, v.IsObj())
	}
}

func TestNaNStaysANumber(t *testing.T) {
	// Any 64-bit pattern producible by double arithmetic must decode as a
	// number, including a computed NaN.
	v := Number(math.NaN())
	require.True(t, v.IsNumber())
	assert.True(t, math.IsNaN(v.AsNumber()))
}

func TestSingletons(t *testing.T) {
	assert.True(t, Nil.IsNil())
	assert.True(t, True.IsBool())
	assert.True(t, False.IsBool())
	assert.True(t, True.AsBool())
	assert.False(t, False.AsBool())
	assert.False(t, Nil.IsNumber())
	assert.False(t, True.IsNumber())
	assert.Equal(t, True, Bool(true))
	assert.Equal(t, False, Bool(false))
}

func TestFalsey(t *testing.T) {
	assert.True(t, Nil.IsFalsey())
	assert.True(t, False.IsFalsey())
	assert.False(t, True.IsFalsey())
	assert.False(t, Number(0).IsFalsey(), "0 is truthy")
	assert.False(t, Number(1).IsFalsey())
}

func TestObjRoundTrip(t *testing.T) {
	var payload struct{ x int }
	p := unsafe.Pointer(&payload)
	v := Obj(p)
	require.True(t, v.IsObj())
	assert.Equal(t, p, v.AsObjPtr())
	assert.False(t, v.IsNumber())
	assert.False(t, v.IsNil())
	assert.False(t, v.IsBool())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Number(2), Number(2)))
	assert.False(t, Equal(Number(2), Number(3)))
	assert.True(t, Equal(Number(0), Number(math.Copysign(0, -1))), "0 == -0")
	assert.False(t, Equal(Number(math.NaN()), Number(math.NaN())), "NaN != NaN")
	assert.True(t, Equal(Nil, Nil))
	assert.True(t, Equal(True, True))
	assert.False(t, Equal(True, False))
	assert.False(t, Equal(Nil, False), "nil and false are distinct values")
	assert.False(t, Equal(Number(0), False))
}

func TestTypeName(t *testing.T) {
	kind := func(Value) string { return "thing" }
	assert.Equal(t, "nil", TypeName(Nil, kind))
	assert.Equal(t, "bool", TypeName(True, kind))
	assert.Equal(t, "number", TypeName(Number(7), kind))
	var payload int
	assert.Equal(t, "thing", TypeName(Obj(unsafe.Pointer(&payload)), kind))
}
