// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"fmt"

	"github.com/probechain/pseudocode/internal/value"
)

// Category names the interpreter-raised error kinds of spec §4.4/§7. These
// are not Go error types: every one of them becomes an ordinary Value the
// same `throw`/`try`/`catch` machinery can intercept, per §7's "surfaced as
// a runtime exception value catchable by try/catch".
type Category string

const (
	TypeMismatch      Category = "TypeMismatch"
	IndexOutOfBounds  Category = "IndexOutOfBounds"
	UndefinedField    Category = "UndefinedField"
	ArityMismatch     Category = "ArityMismatch"
	DivisionByZero    Category = "DivisionByZero"
	StackOverflow     Category = "StackOverflow"
	UnhandledName     Category = "UndeclaredName"
	Interrupted       Category = "Interrupted"
	UnhandledTopLevel Category = "UnhandledException"
)

// thrown is the VM's internal control-transfer signal for both `throw` and
// interpreter-raised errors; it is never exposed to user code directly, only
// the Value it carries is (the string formatted message, or whatever value
// a `throw expr` evaluated to).
type thrown struct {
	value value.Value
	// uncatchable marks Interrupted (spec §7: "cannot be caught by a generic
	// handler at the top level"); the unwinder still runs finally blocks but
	// refuses to stop at a plain catch-all handler.
	uncatchable bool
}

func (vm *VM) raise(cat Category, format string, args ...interface{}) thrown {
	msg := fmt.Sprintf("%s: %s", cat, fmt.Sprintf(format, args...))
	return thrown{value: vm.heap.Intern(msg).Value()}
}

func (vm *VM) raiseInterrupt() thrown {
	msg := fmt.Sprintf("%s: interrupted", Interrupted)
	return thrown{value: vm.heap.Intern(msg).Value(), uncatchable: true}
}

// unwindMarker records an in-flight exception search paused while a
// finally-only exception-table entry (no catch) runs its code, so
// OP_END_FINALLY — reached at the end of that finally block — knows to
// resume the search rather than treat itself as a no-op (spec §4.4
// "finally_pc ... entered before the handler search continues").
type unwindMarker struct {
	t        thrown
	frameIdx int
	entryIdx int // index into that frame's Exception table of the entry just serviced
}

// traceFrame is one already-unwound activation, kept so an exception that
// escapes every handler can still print the stack it propagated through
// (spec §7: "prints value and stack trace"): by the time Run sees the
// thrown value, the frames themselves are gone.
type traceFrame struct {
	name string
	line int
}

// unwind begins searching for a handler starting at the innermost frame
// (spec §4.4 "the VM walks from innermost frame outward"). It returns nil if
// a handler or finally was entered (execution should simply resume the
// dispatch loop), or a non-nil *thrown once every frame has been exhausted
// with no match (the caller propagates it out of run()).
func (vm *VM) unwind(t thrown) *thrown {
	vm.unwoundTrace = vm.unwoundTrace[:0]
	return vm.unwindFrom(len(vm.frames)-1, 0, t)
}

// unwindFrom resumes the search at frame fi, exception-table index startIdx.
func (vm *VM) unwindFrom(fi, startIdx int, t thrown) *thrown {
	for fi >= 0 {
		if vm.searchFrame(fi, startIdx, t) {
			return nil
		}
		vm.popUnwoundFrame(fi)
		fi--
		startIdx = 0
	}
	return &t
}

// resumeUnwind is called from OP_END_FINALLY once a finally-only entry's
// code has finished running: continue searching the same frame just past
// the entry just serviced, or if nothing else there covers this pc, pop the
// frame and keep unwinding into the caller.
func (vm *VM) resumeUnwind(fi, nextIdx int, t thrown) *thrown {
	if vm.searchFrame(fi, nextIdx, t) {
		return nil
	}
	vm.popUnwoundFrame(fi)
	return vm.unwindFrom(fi-1, 0, t)
}

// popUnwoundFrame discards frame fi after no handler in it matched,
// recording it for the unhandled-exception stack trace.
func (vm *VM) popUnwoundFrame(fi int) {
	f := &vm.frames[fi]
	line := 0
	if f.pc > 0 && f.pc-1 < len(f.chunk().Lines) {
		line = f.chunk().Lines[f.pc-1]
	}
	vm.unwoundTrace = append(vm.unwoundTrace, traceFrame{name: f.chunk().Name, line: line})
	vm.closeUpvalues(f.basePtr)
	vm.stack = vm.stack[:f.basePtr]
	vm.frames = vm.frames[:fi]
}

// searchFrame scans frame fi's exception table, from startIdx on, for an
// entry whose [TryStart, TryEnd] covers that frame's current pc (spec §4.2:
// the single-pass compiler emits each try's entry only after its body,
// nested trys included, is fully compiled, so a frame's table is naturally
// ordered innermost-first — the first covering entry found is the innermost
// enclosing try). A covering entry with neither a catch (or one present but
// this thrown is uncatchable, spec §7 Interrupted) nor a finally means an
// empty `try...end`; the scan continues past it for a further-out entry in
// the same frame rather than stopping. Reports whether a handler or finally
// was entered.
func (vm *VM) searchFrame(fi, startIdx int, t thrown) bool {
	f := &vm.frames[fi]
	pc := f.pc
	exc := f.chunk().Exception

	for i := startIdx; i < len(exc); i++ {
		e := exc[i]
		if !(pc > e.TryStart && pc <= e.TryEnd) {
			continue
		}

		// Truncate the operand stack to this try's entry depth before
		// entering either handler (spec §4.4).
		vm.stack = vm.stack[:f.basePtr+e.StackDepth]
		vm.frames = vm.frames[:fi+1]

		if !t.uncatchable && e.HandlerPC >= 0 {
			vm.push(t.value)
			f.pc = e.HandlerPC
			return true
		}
		if e.FinallyPC >= 0 {
			vm.pendingUnwind = append(vm.pendingUnwind, unwindMarker{t: t, frameIdx: fi, entryIdx: i})
			f.pc = e.FinallyPC
			return true
		}
	}
	return false
}

// endFinally implements OP_END_FINALLY. On the ordinary fall-through or
// deferred-return path it is a no-op (ruled out by pendingUnwind being
// either empty or topped by a marker for some other, not-yet-resumed,
// frame); otherwise it resumes the exception search paused at the matching
// marker.
func (vm *VM) endFinally() *thrown {
	n := len(vm.pendingUnwind)
	if n == 0 {
		return nil
	}
	top := vm.pendingUnwind[n-1]
	if top.frameIdx != len(vm.frames)-1 {
		return nil
	}
	vm.pendingUnwind = vm.pendingUnwind[:n-1]
	return vm.resumeUnwind(top.frameIdx, top.entryIdx+1, top.t)
}
