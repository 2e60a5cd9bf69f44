package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

func compileOK(t *testing.T, src string) *bytecode.Chunk {
	t.Helper()
	chunk, errs := Compile("test.pc", src, heap.New())
	require.Empty(t, errs)
	require.True(t, chunk.Valid)
	require.Empty(t, Verify(chunk))
	return chunk
}

func compileBad(t *testing.T, src string) []*Error {
	t.Helper()
	chunk, errs := Compile("test.pc", src, heap.New())
	require.NotEmpty(t, errs)
	require.False(t, chunk.Valid, "a chunk compiled with errors must be marked invalid")
	return errs
}

// opcodesOf decodes chunk's code stream back into its opcode sequence,
// stepping over operands the same way the interpreter does.
func opcodesOf(ch *bytecode.Chunk) []bytecode.Op {
	var out []bytecode.Op
	i := 0
	for i < len(ch.Code) {
		op := bytecode.Op(ch.Code[i])
		out = append(out, op)
		i++
		switch op {
		case bytecode.OpCall, bytecode.OpTailCall:
			i++
		case bytecode.OpInvoke:
			i += 5
		case bytecode.OpGetField, bytecode.OpSetField, bytecode.OpGetSuper:
			i += 4
		case bytecode.OpClosure:
			fnIdx := ch.ReadU16(i)
			i += 2
			if int(fnIdx) < len(ch.Constants) {
				c := ch.Constants[fnIdx]
				if c.IsObj() && heap.HeaderOf(c).Kind == heap.KindFunction {
					i += 3 * heap.AsFunction(c).Chunk.UpvalueCount
				}
			}
		default:
			if w, ok := bytecode.OperandWidths[op]; ok {
				i += 2 * w
			}
		}
	}
	return out
}

func countOp(ops []bytecode.Op, want bytecode.Op) int {
	n := 0
	for _, op := range ops {
		if op == want {
			n++
		}
	}
	return n
}

// findFunc returns the chunk of the function constant named name, searching
// nested chunks.
func findFunc(t *testing.T, root *bytecode.Chunk, name string) *bytecode.Chunk {
	t.Helper()
	var walk func(ch *bytecode.Chunk) *bytecode.Chunk
	walk = func(ch *bytecode.Chunk) *bytecode.Chunk {
		for _, c := range ch.Constants {
			if !c.IsObj() || heap.HeaderOf(c).Kind != heap.KindFunction {
				continue
			}
			fn := heap.AsFunction(c)
			if fn.Name == name {
				return fn.Chunk
			}
			if found := walk(fn.Chunk); found != nil {
				return found
			}
		}
		return nil
	}
	found := walk(root)
	require.NotNil(t, found, "no function %q in compiled output", name)
	return found
}

func TestConstantFoldingNumeric(t *testing.T) {
	chunk := compileOK(t, "let x = 5 + 3 * 2")
	ops := opcodesOf(chunk)
	assert.Zero(t, countOp(ops, bytecode.OpAdd))
	assert.Zero(t, countOp(ops, bytecode.OpMul))

	// The folded constant is the value runtime evaluation would produce.
	var folded []value.Value
	for _, c := range chunk.Constants {
		if c.IsNumber() {
			folded = append(folded, c)
		}
	}
	require.NotEmpty(t, folded)
	assert.Equal(t, value.Number(11), folded[len(folded)-1])
}

func TestConstantFoldingStrings(t *testing.T) {
	h := heap.New()
	chunk, errs := Compile("test.pc", `let s = "foo" + "bar"`, h)
	require.Empty(t, errs)
	assert.Zero(t, countOp(opcodesOf(chunk), bytecode.OpAdd))
	assert.Same(t, h.Intern("foobar"), heap.AsString(chunk.Constants[len(chunk.Constants)-2]),
		"the folded concatenation is interned like any literal")
}

func TestFoldingSkipsDivisionByZero(t *testing.T) {
	// 1/0 must raise at runtime, not vanish at compile time.
	chunk := compileOK(t, "let x = 1 / 0")
	assert.Equal(t, 1, countOp(opcodesOf(chunk), bytecode.OpDiv))
}

func TestTailCallOnlyForWholeReturnedCall(t *testing.T) {
	chunk := compileOK(t, `
fn f(n)
  return f(n)
end
fn g(n)
  return f(n) + f(n)
end
fn h(n)
  return f(g(n))
end`)
	fOps := opcodesOf(findFunc(t, chunk, "f"))
	assert.Equal(t, 1, countOp(fOps, bytecode.OpTailCall))

	gOps := opcodesOf(findFunc(t, chunk, "g"))
	assert.Zero(t, countOp(gOps, bytecode.OpTailCall), "operands of a binary op are not tail calls")

	hOps := opcodesOf(findFunc(t, chunk, "h"))
	assert.Equal(t, 1, countOp(hOps, bytecode.OpTailCall), "only the outermost call is the tail call")
	assert.Equal(t, 1, countOp(hOps, bytecode.OpCall))
}

func TestICSlotsAssignedPerSite(t *testing.T) {
	chunk := compileOK(t, `
fn f(p)
  p.a = p.b
  return p.b + p.update(1)
end`)
	f := findFunc(t, chunk, "f")
	// One SET_FIELD, two GET_FIELD, one INVOKE: four distinct slots.
	assert.Equal(t, 4, f.NumICSlots)
}

func TestExceptionTableEntry(t *testing.T) {
	chunk := compileOK(t, `
try
  let a = 1
catch e
  let b = 2
finally
  let c = 3
end`)
	require.Len(t, chunk.Exception, 1)
	e := chunk.Exception[0]
	assert.Less(t, e.TryStart, e.TryEnd)
	assert.GreaterOrEqual(t, e.HandlerPC, e.TryEnd)
	assert.Greater(t, e.FinallyPC, e.HandlerPC)
}

func TestTryWithoutCatchHasNoHandler(t *testing.T) {
	chunk := compileOK(t, `
try
  let a = 1
finally
  let b = 2
end`)
	require.Len(t, chunk.Exception, 1)
	assert.Equal(t, -1, chunk.Exception[0].HandlerPC)
	assert.GreaterOrEqual(t, chunk.Exception[0].FinallyPC, 0)
}

func TestNestedTryOrderedInnermostFirst(t *testing.T) {
	chunk := compileOK(t, `
fn f()
  try
    try
      let a = 1
    catch e1
      let b = 2
    end
  catch e2
    let c = 3
  end
end`)
	f := findFunc(t, chunk, "f")
	require.Len(t, f.Exception, 2)
	inner, outer := f.Exception[0], f.Exception[1]
	assert.GreaterOrEqual(t, inner.TryStart, outer.TryStart)
	assert.LessOrEqual(t, inner.TryEnd, outer.TryEnd)
}

func TestUpvalueResolutionChains(t *testing.T) {
	chunk := compileOK(t, `
fn outer()
  let captured = 1
  fn middle()
    fn inner()
      return captured
    end
    return inner
  end
  return middle
end`)
	middle := findFunc(t, chunk, "middle")
	require.Len(t, middle.Upvalues, 1)
	assert.True(t, middle.Upvalues[0].IsLocal, "middle captures outer's local directly")

	inner := findFunc(t, chunk, "inner")
	require.Len(t, inner.Upvalues, 1)
	assert.False(t, inner.Upvalues[0].IsLocal, "inner reaches captured through middle's upvalue")
}

func TestMatchIdentifierPatternBindsNotCompares(t *testing.T) {
	chunk := compileOK(t, `
fn f(n)
  match n
  case x -> return x
  end
end`)
	f := findFunc(t, chunk, "f")
	assert.Zero(t, countOp(opcodesOf(f), bytecode.OpEqual),
		"an identifier pattern binds; it never compiles to an equality check")
}

func TestMatchArrayPatternLowersThroughTypeAndLen(t *testing.T) {
	chunk := compileOK(t, `
fn f(v)
  match v
  case [1, x] -> return x
  case _ -> return nil
  end
end`)
	f := findFunc(t, chunk, "f")
	ops := opcodesOf(f)
	// The type check, the length check, and one literal element check.
	assert.Equal(t, 3, countOp(ops, bytecode.OpEqual))
	assert.Equal(t, 2, countOp(ops, bytecode.OpCall))
	// One element read for the literal check, one for the binding.
	assert.Equal(t, 2, countOp(ops, bytecode.OpIndexGet))
}

func TestMatchBadPatternElement(t *testing.T) {
	errs := compileBad(t, `
match 1
case [fn] -> print(1)
end`)
	assert.Equal(t, Syntax, errs[0].Category)
}

func TestAssignToConstLocal(t *testing.T) {
	errs := compileBad(t, `
fn f()
  const k = 1
  k = 2
end`)
	assert.Equal(t, AssignToConst, errs[0].Category)
	assert.Equal(t, 4, errs[0].Pos.Line)
}

func TestAssignToConstGlobal(t *testing.T) {
	errs := compileBad(t, "const k = 1\nk = 2")
	assert.Equal(t, AssignToConst, errs[0].Category)
}

func TestDuplicateLocal(t *testing.T) {
	errs := compileBad(t, `
fn f()
  let a = 1
  let a = 2
end`)
	assert.Equal(t, DuplicateDefinition, errs[0].Category)
}

func TestBreakOutsideLoop(t *testing.T) {
	errs := compileBad(t, "break")
	assert.Equal(t, Syntax, errs[0].Category)
}

func TestReturnOutsideFunction(t *testing.T) {
	errs := compileBad(t, "return 1")
	assert.Equal(t, Syntax, errs[0].Category)
}

func TestRecoveryProducesBestEffortChunk(t *testing.T) {
	// Two independent statements with a broken one between them: the
	// compiler resynchronizes and reports, and still hands back a chunk.
	chunk, errs := Compile("test.pc", "let a = 1\nlet = 2\nlet b = 3", heap.New())
	require.NotEmpty(t, errs)
	assert.False(t, chunk.Valid)
	assert.NotEmpty(t, chunk.Code)
}

func TestSlotZeroReservedForReceiver(t *testing.T) {
	chunk := compileOK(t, `
class P
  fn init(x)
    self.x = x
  end
end`)
	init := findFunc(t, chunk, "init")
	ops := opcodesOf(init)
	// `self.x = x` loads self (slot 0) then the parameter (slot 1).
	assert.GreaterOrEqual(t, countOp(ops, bytecode.OpLoadLocal), 2)
	assert.Equal(t, 1, init.Arity)
}

func TestVerifyRejectsCorruptedJump(t *testing.T) {
	chunk := compileOK(t, "let i = 0 while i < 3 do i = i + 1 end")
	// Stomp a jump target out of bounds.
	for i := 0; i < len(chunk.Code); i++ {
		if bytecode.Op(chunk.Code[i]) == bytecode.OpJumpIfFalse {
			chunk.PatchU16(i+1, 0xfff0)
			break
		}
	}
	assert.NotEmpty(t, Verify(chunk))
}

func TestVerifyRejectsTruncatedChunk(t *testing.T) {
	ch := bytecode.New("bad", 0)
	ch.Emit(bytecode.OpConstant, 1) // missing operand and terminator
	assert.NotEmpty(t, Verify(ch))
}
