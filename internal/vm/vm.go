// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package vm implements the stack-based bytecode interpreter of spec §4.4: a
// threaded dispatch loop over call frames, inline caches, tail calls, and
// exception-table-driven unwinding, optionally handing hot loops to
// internal/jit.
package vm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/gc"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/jit"
	"github.com/probechain/pseudocode/internal/logging"
	"github.com/probechain/pseudocode/internal/value"
)

// BuiltinFunc is the host-function calling convention of spec §6: "a
// built-in is a host function taking (vm, argc, argv) ... returns a single
// Value or signals an error by the same exception mechanism as user code".
type BuiltinFunc func(vm *VM, args []value.Value) (value.Value, error)

// defaultMaxCallDepth is spec §4.4's "StackOverflow (call-depth limit
// configurable, default 1024)".
const defaultMaxCallDepth = 1024

// VM is one independent interpreter instance: its own heap, globals, trace
// table, and code cache, sharing no mutable state with any other VM (spec
// §5 "the host may create multiple independent VMs").
type VM struct {
	heap *heap.Heap
	gc   *gc.Collector

	stack  []value.Value
	frames []frame

	globals map[string]value.Value

	ic           *icTable
	openUpvalues *heap.Upvalue // chain ordered by descending stack depth

	// pendingReturn is the register OP_SET_PENDING_RETURN/OP_PUSH_PENDING_RETURN
	// use to carry a `return` value through one or more enclosing `finally`
	// blocks (see tryStatement in internal/compiler/statements.go).
	pendingReturn struct {
		value value.Value
		set   bool
	}

	// pendingUnwind records in-flight exception searches that are paused
	// while a finally-only exception-table entry's code runs (no catch at
	// that entry), so OP_END_FINALLY can tell whether it was reached by
	// ordinary fall-through (no-op) or must resume the search (see
	// unwind/unwindFrom in interp.go).
	pendingUnwind []unwindMarker

	// unwoundTrace accumulates the frames discarded while searching for a
	// handler, innermost first, for the unhandled-exception report.
	unwoundTrace []traceFrame

	builtins map[string]BuiltinFunc

	out    io.Writer
	errOut io.Writer
	in     *bufio.Reader

	interrupted int32

	maxCallDepth int

	log *logging.Logger

	jitEnabled bool
	jitEngine  *jit.Engine
	hotCounts  map[hotKey]int

	// globalsVersion increments on every global (re)definition and class
	// method-table mutation; a compiled trace is only valid against the
	// version it was compiled under (spec §4.7 deoptimization).
	globalsVersion uint32
}

type hotKey struct {
	chunk *bytecode.Chunk
	pc    int
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithJIT enables trace compilation (spec §6 `-j`, the default);
// WithJIT(false) (the `-i` flag) forces interpreter-only execution.
func WithJIT(enabled bool) Option { return func(v *VM) { v.jitEnabled = enabled } }

func WithStreams(out, errOut io.Writer, in io.Reader) Option {
	return func(v *VM) {
		v.out = out
		v.errOut = errOut
		v.in = bufio.NewReader(in)
	}
}

func WithMaxCallDepth(n int) Option { return func(v *VM) { v.maxCallDepth = n } }

func WithLogger(l *logging.Logger) Option { return func(v *VM) { v.log = l } }

// New creates a VM owning h. Multiple VMs may each own their own Heap and
// never share globals, ICs, or a trace table (spec §9 "Global mutable
// state").
func New(h *heap.Heap, opts ...Option) *VM {
	v := &VM{
		heap: h,
		gc:   gc.New(h),
		// Full capacity reserved up front: open upvalues hold *value.Value
		// pointers into this backing array (see captureUpvalue/slotOf in
		// interp.go), so it must never reallocate.
		stack:        make([]value.Value, 0, stackCapacity),
		globals:      make(map[string]value.Value),
		ic:           newICTable(),
		builtins:     make(map[string]BuiltinFunc),
		maxCallDepth: defaultMaxCallDepth,
		jitEnabled:   true,
		hotCounts:    make(map[hotKey]int),
	}
	for _, o := range opts {
		o(v)
	}
	if v.log == nil {
		v.log = logging.New(nil)
	}
	if v.jitEnabled {
		v.jitEngine = jit.NewEngine()
	}
	return v
}

// RegisterBuiltin installs fn as the global function name, boxed as an
// ordinary callable Value so OP_CALL/OP_INVOKE need not special-case
// builtins against user closures (spec §6 "Built-in calling convention").
func (vm *VM) RegisterBuiltin(name string, fn BuiltinFunc) {
	vm.builtins[name] = fn
	native := vm.heap.NewNative(name, func(ctx interface{}, args []value.Value) (value.Value, error) {
		return fn(ctx.(*VM), args)
	})
	vm.globals[name] = native.Value()
}

// Interrupt sets the cooperative cancellation flag the dispatch loop checks
// at every back-branch and call (spec §5 "Cancellation").
func (vm *VM) Interrupt() { atomic.StoreInt32(&vm.interrupted, 1) }

func (vm *VM) interruptRequested() bool { return atomic.LoadInt32(&vm.interrupted) != 0 }

// Heap exposes the VM's heap, e.g. for a host wiring builtins that allocate.
func (vm *VM) Heap() *heap.Heap { return vm.heap }

// Stringify renders v the same way OP_PRINT and an uncaught exception's
// report do, so a builtin (internal/builtin) can format a value identically
// without duplicating the switch over heap kinds.
func (vm *VM) Stringify(v value.Value) string { return vm.stringify(v) }

// TypeName names v's runtime type, the same name an UndefinedField/
// TypeMismatch exception message embeds.
func (vm *VM) TypeName(v value.Value) string { return vm.typeName(v) }

// ReadLine reads one line from the VM's configured stdin, without its
// trailing newline (spec §6 "`input` reads one line from stdin").
func (vm *VM) ReadLine() (string, error) {
	line, err := vm.in.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Out exposes the VM's configured stdout; the `print` builtin writes its
// Stringify output there.
func (vm *VM) Out() io.Writer { return vm.out }

// RunResult carries the top-level outcome spec §6 maps to process exit
// codes: 0 success, 1 an unhandled exception, 130 on interrupt.
type RunResult struct {
	ExitCode int
	Err      error
}

// Run executes chunk (the top-level script) to completion.
func (vm *VM) Run(chunk *bytecode.Chunk) RunResult {
	fn := vm.heap.NewFunction(chunk)
	closure := vm.heap.NewClosure(fn, nil)
	vm.frames = append(vm.frames, frame{closure: closure, basePtr: 0})
	vm.stack = append(vm.stack, closure.Value())

	exc := vm.run()
	if exc == nil {
		return RunResult{ExitCode: 0}
	}
	if exc.uncatchable {
		return RunResult{ExitCode: 130, Err: fmt.Errorf("interrupted")}
	}
	fmt.Fprintf(vm.errOut, "UnhandledException: %s\n", vm.stringify(exc.value))
	vm.printStackTrace()
	return RunResult{ExitCode: 1, Err: fmt.Errorf("unhandled exception: %s", vm.stringify(exc.value))}
}

func (vm *VM) printStackTrace() {
	for _, f := range vm.unwoundTrace {
		fmt.Fprintf(vm.errOut, "  at %s (line %d)\n", f.name, f.line)
	}
}

func (vm *VM) cur() *frame { return &vm.frames[len(vm.frames)-1] }

func (vm *VM) push(v value.Value) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() value.Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek(distance int) value.Value { return vm.stack[len(vm.stack)-1-distance] }

func (vm *VM) readByte(f *frame) byte {
	b := f.chunk().Code[f.pc]
	f.pc++
	return b
}

func (vm *VM) readU16(f *frame) uint16 {
	v := f.chunk().ReadU16(f.pc)
	f.pc += 2
	return v
}

func (vm *VM) readOp(f *frame) bytecode.Op { return bytecode.Op(vm.readByte(f)) }

// WalkRoots implements gc.RootSource: the value stack, every frame's
// closure (which keeps its Function/Upvalues reachable), the open-upvalue
// chain, the global table, a return value deferred through a `finally`
// block, and any live JIT trace/compiled-code references (spec §4.3 step
// 1). The interned-string table is deliberately NOT walked here: it is a
// weak table (heap.Heap.forgetString), so a string is kept alive only by
// being reachable through one of the roots below, exactly as spec §4.3
// step 3 requires.
func (vm *VM) WalkRoots(visit func(value.Value)) {
	for _, v := range vm.stack {
		visit(v)
	}
	for i := range vm.frames {
		visit(vm.frames[i].closure.Value())
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.NextOpen {
		visit(uv.Value())
	}
	for _, v := range vm.globals {
		visit(v)
	}
	// Between OP_SET_PENDING_RETURN and OP_PUSH_PENDING_RETURN the deferred
	// value lives nowhere on the stack; the finally block running in
	// between may allocate and trigger a collection.
	if vm.pendingReturn.set {
		visit(vm.pendingReturn.value)
	}
	for _, m := range vm.pendingUnwind {
		visit(m.t.value)
	}
	if vm.jitEngine != nil {
		vm.jitEngine.WalkRoots(visit)
	}
}

// CollectIfNeeded exposes a GC checkpoint call sites outside the dispatch
// loop (builtins that allocate heavily) can invoke explicitly.
func (vm *VM) CollectIfNeeded() { vm.gc.CollectIfNeeded(vm) }
