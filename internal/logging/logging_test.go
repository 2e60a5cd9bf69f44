package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelGating(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Trace("hidden %d", 1)
	l.Debug("hidden too")
	assert.Empty(t, buf.String(), "trace/debug are below the default Info floor")

	l.Info("shown")
	l.Warn("also shown")
	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "WARN")
}

func TestRaisingLevelEnablesTrace(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(LevelTrace)

	l.Trace("op %s", "ADD")
	assert.Contains(t, buf.String(), "TRACE")
	assert.Contains(t, buf.String(), "op ADD")
}

func TestNoColorCodesOffTerminal(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Error("plain")
	assert.NotContains(t, buf.String(), "\x1b[", "a pipe/buffer destination gets no ANSI escapes")
}

func TestDumpOnlyAtTrace(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Dump("frame", struct{ X int }{42})
	assert.Empty(t, buf.String())

	l.SetLevel(LevelTrace)
	l.Dump("frame", struct{ X int }{42})
	assert.Contains(t, buf.String(), "frame")
	assert.Contains(t, buf.String(), "42")
}
