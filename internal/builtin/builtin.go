// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package builtin implements the small built-in function set spec §6
// implies beyond the calling convention it actually specifies: `print` and
// `input` are named directly ("print writes to stdout with newline ...
// input reads one line from stdin"); `len`, `type`, and `clock` round out
// the minimum a nontrivial pseudocode script needs (measuring a collection,
// branching on a value's runtime type, timing a loop) without reaching into
// I/O, math, HTTP, JSON, or regex — spec §1 Non-goals explicitly scope
// built-in library *bodies* like those out, leaving only the calling
// convention as core.
package builtin

import (
	"fmt"
	"time"

	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
	"github.com/probechain/pseudocode/internal/vm"
)

// Register installs every built-in this package implements as a global on
// v, boxed through vm.RegisterBuiltin so OP_CALL/OP_INVOKE never special-
// case them against user-defined closures (spec §6 calling convention).
func Register(v *vm.VM) {
	v.RegisterBuiltin("print", print)
	v.RegisterBuiltin("input", input)
	v.RegisterBuiltin("len", length)
	v.RegisterBuiltin("type", typeOf)
	v.RegisterBuiltin("clock", clock)
}

func arity(name string, args []value.Value, want int) error {
	if len(args) != want {
		return fmt.Errorf("%s expects %d argument(s), got %d", name, want, len(args))
	}
	return nil
}

// print writes one line to stdout (spec §6 "print writes to stdout with
// newline"). The compiler compiles every `print(expr)` as an ordinary call
// of this builtin (it never emits OP_PRINT), so the same name also works as
// a value (e.g. stored in a variable, passed as a callback).
func print(v *vm.VM, args []value.Value) (value.Value, error) {
	if err := arity("print", args, 1); err != nil {
		return value.Nil, err
	}
	fmt.Fprintln(v.Out(), v.Stringify(args[0]))
	return value.Nil, nil
}

// input reads one line from stdin without its trailing newline (spec §6).
// EOF is reported as an empty string rather than an exception, matching a
// REPL-less batch script's expectation that reading past the end of piped
// input degrades gracefully instead of aborting the whole run.
func input(v *vm.VM, args []value.Value) (value.Value, error) {
	if err := arity("input", args, 0); err != nil {
		return value.Nil, err
	}
	line, _ := v.ReadLine() // EOF surfaces as "" rather than an exception
	return v.Heap().Intern(line).Value(), nil
}

// length reports an array's element count, a dict's live-entry count, or a
// string's byte length (spec §3's heap object table: Array "dynamic
// element count", Dict "live entry count", String "byte length").
func length(v *vm.VM, args []value.Value) (value.Value, error) {
	if err := arity("len", args, 1); err != nil {
		return value.Nil, err
	}
	a := args[0]
	if !a.IsObj() {
		return value.Nil, fmt.Errorf("len: %s has no length", v.TypeName(a))
	}
	switch heap.HeaderOf(a).Kind {
	case heap.KindArray:
		return value.Number(float64(heap.AsArray(a).Len())), nil
	case heap.KindDict:
		return value.Number(float64(heap.AsDict(a).Len())), nil
	case heap.KindString:
		return value.Number(float64(heap.AsString(a).Len())), nil
	default:
		return value.Nil, fmt.Errorf("len: %s has no length", v.TypeName(a))
	}
}

// typeOf names a value's runtime type the same way an UndefinedField/
// TypeMismatch message does (spec §7 categories reference a value's type by
// name), as an interned string a script can branch on.
func typeOf(v *vm.VM, args []value.Value) (value.Value, error) {
	if err := arity("type", args, 1); err != nil {
		return value.Nil, err
	}
	return v.Heap().Intern(v.TypeName(args[0])).Value(), nil
}

// clock returns seconds since the Unix epoch as a float, the minimal timer
// a script needs to measure a hot loop (spec §8's scenario programs time
// JIT warm-up informally; this gives a script the same ability).
func clock(v *vm.VM, args []value.Value) (value.Value, error) {
	if err := arity("clock", args, 0); err != nil {
		return value.Nil, err
	}
	return value.Number(float64(time.Now().UnixNano()) / 1e9), nil
}
