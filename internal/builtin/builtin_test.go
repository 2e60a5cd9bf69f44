package builtin

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/probechain/pseudocode/internal/compiler"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/vm"
)

func runScript(t *testing.T, src, stdin string) (stdout string, exitCode int) {
	t.Helper()
	h := heap.New()
	chunk, errs := compiler.Compile("test.pc", src, h)
	require.Empty(t, errs)

	var out, errOut bytes.Buffer
	v := vm.New(h, vm.WithStreams(&out, &errOut, strings.NewReader(stdin)))
	Register(v)
	res := v.Run(chunk)
	return out.String(), res.ExitCode
}

func TestPrint(t *testing.T) {
	out, code := runScript(t, `print("hello")`, "")
	assert.Equal(t, "hello\n", out)
	assert.Zero(t, code)
}

func TestPrintIsAValue(t *testing.T) {
	// Builtins are ordinary callable values: storable, passable.
	out, _ := runScript(t, `
let p = print
p(42)`, "")
	assert.Equal(t, "42\n", out)
}

func TestLen(t *testing.T) {
	out, _ := runScript(t, `
print(len([1, 2, 3]))
print(len("abcd"))
print(len({"a": 1}))`, "")
	assert.Equal(t, "3\n4\n1\n", out)
}

func TestLenErrorsOnNumbers(t *testing.T) {
	out, _ := runScript(t, `
try
  len(5)
catch e
  print(e)
end`, "")
	assert.Contains(t, out, "no length")
}

func TestTypeOf(t *testing.T) {
	out, _ := runScript(t, `
print(type(1))
print(type("s"))
print(type(nil))
print(type(true))
print(type([1]))`, "")
	assert.Equal(t, "number\nstring\nnil\nbool\narray\n", out)
}

func TestInput(t *testing.T) {
	out, _ := runScript(t, `print(input() + "!")`, "line one\nline two\n")
	assert.Equal(t, "line one!\n", out)
}

func TestInputAtEOF(t *testing.T) {
	out, code := runScript(t, `print(input() + "<")`, "")
	assert.Equal(t, "<\n", out)
	assert.Zero(t, code)
}

func TestArityErrorsAreCatchable(t *testing.T) {
	out, _ := runScript(t, `
try
  len()
catch e
  print(e)
end`, "")
	assert.Contains(t, out, "len expects 1 argument(s), got 0")
}

func TestClockReturnsNumber(t *testing.T) {
	out, _ := runScript(t, `print(type(clock()))`, "")
	assert.Equal(t, "number\n", out)
}
