// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package logging is the leveled, color-aware logger behind the VM's `-d`
// per-opcode trace; only the VM and the CLI use it (spec §6 "-d enables
// a human-readable execution trace"). Colorization is skipped automatically
// when the output isn't a terminal, so redirecting to a file or pipe never
// embeds escape codes.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Level orders verbosity the way spec §6's `-d` flag gates output: Error and
// Warn always surface, Info is the default floor, Debug/Trace only appear
// once `-d` raises the logger's level.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
	LevelTrace
)

var levelTag = map[Level]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN ",
	LevelInfo:  "INFO ",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

var levelColor = map[Level]*color.Color{
	LevelError: color.New(color.FgRed, color.Bold),
	LevelWarn:  color.New(color.FgYellow),
	LevelInfo:  color.New(color.FgCyan),
	LevelDebug: color.New(color.FgGreen),
	LevelTrace: color.New(color.FgMagenta),
}

// Logger is safe for concurrent use (the JIT's background compile could, in
// a future hosted setting, log from outside the VM's single goroutine).
type Logger struct {
	mu      sync.Mutex
	out     io.Writer
	level   Level
	colorOn bool
}

// New wraps w (or stderr when w is nil) at the default Info level. Color is
// enabled only when w is a terminal, auto-detected via go-isatty; on
// Windows, mattn/go-colorable's wrapper translates ANSI escapes into
// console API calls so colorization still works there.
func New(w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}
	colorOn := false
	if f, ok := w.(*os.File); ok {
		colorOn = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if colorOn {
			w = colorable.NewColorable(f)
		}
	}
	return &Logger{out: w, level: LevelInfo, colorOn: colorOn}
}

// SetLevel raises or lowers the verbosity floor; spec §6's `-d` flag calls
// this with LevelTrace.
func (l *Logger) SetLevel(lv Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = lv
}

func (l *Logger) log(lv Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lv > l.level {
		return
	}
	tag := levelTag[lv]
	msg := fmt.Sprintf(format, args...)
	if l.colorOn {
		tag = levelColor[lv].Sprint(tag)
	}
	fmt.Fprintf(l.out, "[%s] %s\n", tag, msg)
}

func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Trace(format string, args ...interface{}) { l.log(LevelTrace, format, args...) }

// Dump renders v with go-spew at Trace level, for the VM's `-d` opcode trace
// to print a frame's locals/stack without every caller hand-rolling a
// formatter (spec §6 "a human-readable execution trace").
func (l *Logger) Dump(label string, v interface{}) {
	if l.level < LevelTrace {
		return
	}
	l.Trace("%s:\n%s", label, spew.Sdump(v))
}
