package vm_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/builtin"
	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/compiler"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
	"github.com/probechain/pseudocode/internal/vm"
)

type runResult struct {
	stdout   string
	stderr   string
	exitCode int
}

func runWith(t *testing.T, src, stdin string, opts ...vm.Option) runResult {
	t.Helper()
	h := heap.New()
	chunk, errs := compiler.Compile("test.pc", src, h)
	require.Empty(t, errs, "compile errors in test program")
	require.Empty(t, compiler.Verify(chunk))

	var out, errOut bytes.Buffer
	opts = append([]vm.Option{vm.WithStreams(&out, &errOut, strings.NewReader(stdin))}, opts...)
	v := vm.New(h, opts...)
	builtin.Register(v)
	res := v.Run(chunk)
	return runResult{stdout: out.String(), stderr: errOut.String(), exitCode: res.ExitCode}
}

func run(t *testing.T, src string) runResult {
	t.Helper()
	return runWith(t, src, "")
}

func TestArithmeticAndPrint(t *testing.T) {
	r := run(t, "print(1 + 2 * 3)")
	assert.Equal(t, "7\n", r.stdout)
	assert.Zero(t, r.exitCode)
}

func TestIntegerDivisionTruncates(t *testing.T) {
	// 7.0 carries no separate float identity (every number is a double), so
	// only a non-integral operand selects IEEE division.
	r := run(t, "print(7 / 2) print(0 - 7 / 2) print(7 / 2.5)")
	assert.Equal(t, "3\n-3\n2.8\n", r.stdout)
}

func TestModulo(t *testing.T) {
	r := run(t, "print(7 % 3) print(7.5 % 2)")
	assert.Equal(t, "1\n1.5\n", r.stdout)
}

func TestStringConcatAndInterning(t *testing.T) {
	r := run(t, `
let a = "a"
let b = "b"
print(a + b == "ab")
print(a + b)`)
	assert.Equal(t, "true\nab\n", r.stdout)
}

func TestLoopCountsToHundred(t *testing.T) {
	r := run(t, "let x = 0 for i in 1..100 do x = x + 1 end print(x)")
	assert.Equal(t, "100\n", r.stdout)
}

func TestWhileWithBranchInside(t *testing.T) {
	r := run(t, "let i = 0 while i < 10 do if i == 5 then i = i + 100 end i = i + 1 end print(i)")
	assert.Equal(t, "106\n", r.stdout)
}

func TestIfElifElse(t *testing.T) {
	src := `
fn describe(n)
  if n < 0 then
    return "neg"
  elif n == 0 then
    return "zero"
  else
    return "pos"
  end
end
print(describe(0 - 3))
print(describe(0))
print(describe(9))`
	r := run(t, src)
	assert.Equal(t, "neg\nzero\npos\n", r.stdout)
}

func TestShortCircuitValues(t *testing.T) {
	r := run(t, `
print(nil or 3)
print(false and 1)
print(1 and 2)
print(false or nil)
print(not true)`)
	assert.Equal(t, "3\nfalse\n2\nnil\nfalse\n", r.stdout)
}

func TestShortCircuitSkipsEffects(t *testing.T) {
	src := `
let calls = 0
fn bump()
  calls = calls + 1
  return true
end
let a = false and bump()
let b = true or bump()
print(calls)`
	r := run(t, src)
	assert.Equal(t, "0\n", r.stdout)
}

func TestArrayIndexing(t *testing.T) {
	r := run(t, "let a = [1, 2, 3] a[1] = 9 print(a[0] + a[1] + a[2])")
	assert.Equal(t, "13\n", r.stdout)
}

func TestArrayOutOfBounds(t *testing.T) {
	r := run(t, `
let a = [1]
try
  print(a[5])
catch e
  print(e)
end`)
	assert.Contains(t, r.stdout, "IndexOutOfBounds")
	assert.Zero(t, r.exitCode)
}

func TestDictLiteralAndMissingKey(t *testing.T) {
	r := run(t, `
let d = {"k": 10, 2: 20}
print(d["k"])
print(d[2])
print(d["absent"])`)
	assert.Equal(t, "10\n20\nnil\n", r.stdout)
}

func TestForInCollection(t *testing.T) {
	r := run(t, "for x in [1, 2, 3] do print(x) end")
	assert.Equal(t, "1\n2\n3\n", r.stdout)
}

func TestMatchStatement(t *testing.T) {
	src := `
fn pick(n)
  match n
  case 1 -> return "one"
  case 2 -> return "two"
  case _ -> return "other"
  end
end
print(pick(2))
print(pick(1))
print(pick(7))`
	r := run(t, src)
	assert.Equal(t, "two\none\nother\n", r.stdout)
}

func TestStructuralEquality(t *testing.T) {
	r := run(t, `
print([1, 2] == [1, 2])
print([1, 2] == [1, 3])
print([1, [2, 3]] == [1, [2, 3]])
print([1] != [1])
print({"a": 1} == {"a": 1})
print({"a": 1} == {"a": 2})
print({"a": 1} == {"b": 1})
print([] == {})`)
	assert.Equal(t, "true\nfalse\ntrue\nfalse\ntrue\nfalse\nfalse\nfalse\n", r.stdout)
}

func TestInstanceEqualityIsIdentity(t *testing.T) {
	src := `
class P
  fn init(x)
    self.x = x
  end
end
let a = P(1)
let b = P(1)
print(a == b)
print(a == a)`
	r := run(t, src)
	assert.Equal(t, "false\ntrue\n", r.stdout)
}

func TestMatchIdentifierBinds(t *testing.T) {
	src := `
fn double(n)
  match n
  case 0 -> return 0
  case x -> return x * 2
  end
end
print(double(0))
print(double(21))`
	r := run(t, src)
	assert.Equal(t, "0\n42\n", r.stdout)
}

func TestMatchArrayPattern(t *testing.T) {
	src := `
fn describe(v)
  match v
  case [] -> return "empty"
  case [1, x] -> return "one then " + type(x)
  case [a, b] -> return a + b
  case _ -> return "other"
  end
end
print(describe([]))
print(describe([1, "s"]))
print(describe([2, 3]))
print(describe([1, 2, 3]))
print(describe("nope"))`
	r := run(t, src)
	assert.Equal(t, "empty\none then string\n5\nother\nother\n", r.stdout)
}

func TestMatchArrayPatternLiteralElements(t *testing.T) {
	src := `
fn f(v)
  match v
  case [-1, "x", true, nil] -> return "exact"
  case _ -> return "no"
  end
end
print(f([-1, "x", true, nil]))
print(f([-1, "x", true, 1]))`
	r := run(t, src)
	assert.Equal(t, "exact\nno\n", r.stdout)
}

func TestClassFieldsAndMethods(t *testing.T) {
	src := `
class P
  fn init(x, y)
    self.x = x
    self.y = y
  end
end
let p = P(3, 4)
print(p.x * p.x + p.y * p.y)`
	r := run(t, src)
	assert.Equal(t, "25\n", r.stdout)
}

func TestMethodInvocationAndBoundMethod(t *testing.T) {
	src := `
class Counter
  fn init()
    self.n = 0
  end
  fn bump()
    self.n = self.n + 1
    return self.n
  end
end
let c = Counter()
c.bump()
let m = c.bump
print(m())
print(c.n)`
	r := run(t, src)
	assert.Equal(t, "2\n2\n", r.stdout)
}

func TestInheritanceAndSuper(t *testing.T) {
	src := `
class A
  fn greet()
    return "A"
  end
end
class B : A
  fn greet()
    return "B:" + super.greet()
  end
end
print(B().greet())`
	r := run(t, src)
	assert.Equal(t, "B:A\n", r.stdout)
}

func TestPolymorphicFieldReadsStayCorrect(t *testing.T) {
	// Five distinct shapes through one read site: the IC goes
	// monomorphic -> polymorphic -> megamorphic and must stay correct.
	src := `
class A fn init() self.v = 1 end end
class B fn init() self.v = 2 end end
class C fn init() self.v = 3 end end
class D fn init() self.v = 4 end end
class E fn init() self.v = 5 end end
fn get(o)
  return o.v
end
let os = [A(), B(), C(), D(), E()]
let round = 0
while round < 2 do
  let total = 0
  for o in os do
    total = total + get(o)
  end
  print(total)
  round = round + 1
end`
	r := run(t, src)
	assert.Equal(t, "15\n15\n", r.stdout)
}

func TestClosuresCaptureByReference(t *testing.T) {
	src := `
fn makeCounter()
  let n = 0
  fn inc()
    n = n + 1
    return n
  end
  return inc
end
let c1 = makeCounter()
let c2 = makeCounter()
print(c1())
print(c1())
print(c2())`
	r := run(t, src)
	assert.Equal(t, "1\n2\n1\n", r.stdout)
}

func TestSiblingClosuresShareUpvalue(t *testing.T) {
	src := `
fn makePair()
  let n = 0
  fn set(v)
    n = v
    return nil
  end
  fn get()
    return n
  end
  return [set, get]
end
let pair = makePair()
let s = pair[0]
let g = pair[1]
s(42)
print(g())`
	r := run(t, src)
	assert.Equal(t, "42\n", r.stdout)
}

func TestTailCallDepth(t *testing.T) {
	// Self-recursion in tail position far past the call-depth limit.
	src := `
fn f(n)
  if n <= 0 then
    return 0
  end
  return f(n - 1)
end
print(f(200000))`
	r := run(t, src)
	assert.Equal(t, "0\n", r.stdout)
	assert.Zero(t, r.exitCode)
}

func TestTailCallAccumulatorNoCrash(t *testing.T) {
	src := `
fn f(n, a)
  if n <= 1 then
    return a
  end
  return f(n - 1, n * a)
end
print(f(100000, 1) % 1000)`
	r := run(t, src)
	assert.Zero(t, r.exitCode)
	assert.NotEmpty(t, r.stdout)
}

func TestStackOverflowIsCatchable(t *testing.T) {
	src := `
fn f(n)
  return 1 + f(n + 1)
end
try
  f(0)
catch e
  print("caught")
end`
	r := runWith(t, src, "", vm.WithMaxCallDepth(64))
	assert.Equal(t, "caught\n", r.stdout)
	assert.Zero(t, r.exitCode)
}

func TestArityMismatch(t *testing.T) {
	src := `
fn f(a, b)
  return a + b
end
try
  f(1)
catch e
  print(e)
end`
	r := run(t, src)
	assert.Contains(t, r.stdout, "ArityMismatch")
}

func TestThrowCatchFinallyOrdering(t *testing.T) {
	r := run(t, `try throw "bad" catch e print(e) finally print("done") end`)
	assert.Equal(t, "bad\ndone\n", r.stdout)
	assert.Zero(t, r.exitCode)
}

func TestFinallyRunsOnFallThrough(t *testing.T) {
	r := run(t, `try print("body") finally print("fin") end print("after")`)
	assert.Equal(t, "body\nfin\nafter\n", r.stdout)
}

func TestFinallyRunsOnReturn(t *testing.T) {
	src := `
fn g()
  try
    return 1
  finally
    print("fin")
  end
end
print(g())`
	r := run(t, src)
	assert.Equal(t, "fin\n1\n", r.stdout)
}

func TestFinallyRunsWhileUnwindingThroughFrames(t *testing.T) {
	src := `
fn f()
  try
    throw "x"
  finally
    print("fin")
  end
end
try
  f()
catch e
  print(e)
end`
	r := run(t, src)
	assert.Equal(t, "fin\nx\n", r.stdout)
}

func TestNestedFinalliesEachRunOnce(t *testing.T) {
	src := `
fn g()
  try
    try
      return 1
    finally
      print("inner")
    end
  finally
    print("outer")
  end
end
print(g())`
	r := run(t, src)
	assert.Equal(t, "inner\nouter\n1\n", r.stdout)
}

// stressedVM builds a VM with a `stress` builtin that arms the collector to
// run at the very next dispatch checkpoint, for tests that need a
// collection at a precise point mid-program.
func stressedVM(t *testing.T, src string) (*vm.VM, *bytes.Buffer, *bytecode.Chunk) {
	t.Helper()
	h := heap.New()
	chunk, errs := compiler.Compile("test.pc", src, h)
	require.Empty(t, errs)

	var out, errOut bytes.Buffer
	v := vm.New(h, vm.WithStreams(&out, &errOut, strings.NewReader("")))
	builtin.Register(v)
	v.RegisterBuiltin("stress", func(host *vm.VM, args []value.Value) (value.Value, error) {
		host.Heap().NextGC = 0
		return value.Nil, nil
	})
	return v, &out, chunk
}

func TestPendingReturnSurvivesCollection(t *testing.T) {
	// Between OP_SET_PENDING_RETURN and OP_PUSH_PENDING_RETURN the deferred
	// value is rooted only by the VM's pending-return register; a
	// collection triggered inside the finally must not free it (and must
	// not clear its interning entry: the final comparison re-concatenates
	// at runtime and relies on pointer equality of interned strings).
	src := `
let k = "keep"
let m = "me"
fn g(a, b)
  try
    return a + b
  finally
    stress()
    let junk = [1, 2, 3]
  end
end
let r = g(k, m)
print(r)
print(r == k + m)`
	v, out, chunk := stressedVM(t, src)
	res := v.Run(chunk)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, "keepme\ntrue\n", out.String())
}

func TestThrownValueSurvivesFinallyCollection(t *testing.T) {
	// Same hazard for an in-flight exception: while a catch-less finally
	// runs, the thrown value lives only in the VM's paused-unwind marker.
	src := `
let k = "bo"
let m = "om"
fn f()
  try
    throw k + m
  finally
    stress()
    let junk = [1, 2, 3]
  end
end
try
  f()
catch e
  print(e == k + m)
end`
	v, out, chunk := stressedVM(t, src)
	res := v.Run(chunk)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, "true\n", out.String())
}

func TestUnhandledExceptionReport(t *testing.T) {
	r := run(t, `throw "boom"`)
	assert.Equal(t, 1, r.exitCode)
	assert.Contains(t, r.stderr, "UnhandledException: boom")
	assert.Contains(t, r.stderr, "at ")
}

func TestDivisionByZeroCatchable(t *testing.T) {
	r := run(t, `
try
  print(1 / 0)
catch e
  print(e)
end`)
	assert.Contains(t, r.stdout, "DivisionByZero")
}

func TestFloatDivisionByZeroFollowsIEEE(t *testing.T) {
	r := run(t, "print(1.5 / 0)")
	assert.Equal(t, "+Inf\n", r.stdout)
	assert.Zero(t, r.exitCode)
}

func TestUndeclaredGlobalRaises(t *testing.T) {
	r := run(t, `
try
  print(missing)
catch e
  print(e)
end`)
	assert.Contains(t, r.stdout, "UndeclaredName")
}

func TestTypeMismatchOnArithmetic(t *testing.T) {
	r := run(t, `
try
  print(1 + "x")
catch e
  print(e)
end`)
	assert.Contains(t, r.stdout, "TypeMismatch")
}

func TestInterruptExitsWith130(t *testing.T) {
	h := heap.New()
	chunk, errs := compiler.Compile("test.pc", "let i = 0 while true do i = i + 1 end", h)
	require.Empty(t, errs)

	var out, errOut bytes.Buffer
	v := vm.New(h, vm.WithStreams(&out, &errOut, strings.NewReader("")))
	builtin.Register(v)
	v.Interrupt()
	res := v.Run(chunk)
	assert.Equal(t, 130, res.ExitCode)
}

func TestInterruptRunsFinally(t *testing.T) {
	// The interrupt is uncatchable but still unwinds through finally. The
	// flag is raised from inside the program (via a host builtin) so the
	// dispatch loop is mid-try when it notices.
	src := `
try
  zap()
  let i = 0
  while true do
    i = i + 1
  end
catch e
  print("caught")
finally
  print("fin")
end`
	h := heap.New()
	chunk, errs := compiler.Compile("test.pc", src, h)
	require.Empty(t, errs)

	var out, errOut bytes.Buffer
	v := vm.New(h, vm.WithStreams(&out, &errOut, strings.NewReader("")))
	builtin.Register(v)
	v.RegisterBuiltin("zap", func(host *vm.VM, args []value.Value) (value.Value, error) {
		host.Interrupt()
		return value.Nil, nil
	})
	res := v.Run(chunk)
	assert.Equal(t, 130, res.ExitCode)
	assert.Equal(t, "fin\n", out.String(), "finally runs, the catch-all does not")
}

func TestForcedCollectionMidRunKeepsBehavior(t *testing.T) {
	src := `
class P
  fn init(x)
    self.x = x
  end
end
let total = 0
for i in 1..50 do
  total = total + P(i).x
end
print(total)`
	h := heap.New()
	chunk, errs := compiler.Compile("test.pc", src, h)
	require.Empty(t, errs)

	var out, errOut bytes.Buffer
	v := vm.New(h, vm.WithStreams(&out, &errOut, strings.NewReader("")))
	builtin.Register(v)
	h.NextGC = 0 // force a collection at the first dispatch-loop checkpoint
	res := v.Run(chunk)
	assert.Zero(t, res.ExitCode)
	assert.Equal(t, "1275\n", out.String())
}

func TestFoldedAndUnfoldedConstantsAgree(t *testing.T) {
	// Property: bytecode for `5 + 3 * 2` executes identically to `11`.
	a := run(t, "print(5 + 3 * 2)")
	b := run(t, "print(11)")
	assert.Equal(t, b.stdout, a.stdout)
	assert.Equal(t, b.exitCode, a.exitCode)
}

func TestInterpreterJITEquivalence(t *testing.T) {
	// A hot, JIT-eligible numeric loop over function locals: with the JIT
	// enabled the loop is compiled after the hotness threshold, and the
	// result must be indistinguishable from pure interpretation.
	src := `
fn hot()
  let i = 0
  let total = 0
  while i < 3000 do
    total = total + i
    i = i + 1
  end
  return total
end
print(hot())`
	jit := runWith(t, src, "", vm.WithJIT(true))
	interp := runWith(t, src, "", vm.WithJIT(false))
	assert.Equal(t, "4498500\n", interp.stdout)
	assert.Equal(t, interp.stdout, jit.stdout)
	assert.Equal(t, interp.exitCode, jit.exitCode)
}

func TestJITIneligibleLoopStillCorrect(t *testing.T) {
	// A hot loop with a call in its body is out of the trace vocabulary:
	// it must permanently fall back to interpretation, not misbehave.
	src := `
fn one()
  return 1
end
fn hot()
  let i = 0
  while i < 500 do
    i = i + one()
  end
  return i
end
print(hot())`
	jit := runWith(t, src, "", vm.WithJIT(true))
	assert.Equal(t, "500\n", jit.stdout)
}

func TestJITForRangeLoop(t *testing.T) {
	src := `
fn sumTo(n)
  let s = 0
  for i in 1..n do
    s = s + i
  end
  return s
end
print(sumTo(2000))`
	jit := runWith(t, src, "", vm.WithJIT(true))
	interp := runWith(t, src, "", vm.WithJIT(false))
	assert.Equal(t, "2001000\n", interp.stdout)
	assert.Equal(t, interp.stdout, jit.stdout)
}

func TestInputBuiltin(t *testing.T) {
	r := runWith(t, `print("hi " + input())`, "world\n")
	assert.Equal(t, "hi world\n", r.stdout)
}

func TestStringifyForms(t *testing.T) {
	r := run(t, `
print(nil)
print(true)
print(3.5)
print([1, [2], "s"])
print({"a": 1})`)
	assert.Equal(t, "nil\ntrue\n3.5\n[1, [2], s]\n{a: 1}\n", r.stdout)
}

func TestBreakAndContinue(t *testing.T) {
	src := `
let out = 0
let i = 0
while i < 10 do
  i = i + 1
  if i == 3 then
    continue
  end
  if i == 6 then
    break
  end
  out = out + i
end
print(out)
print(i)`
	r := run(t, src)
	assert.Equal(t, "12\n6\n", r.stdout)
}
