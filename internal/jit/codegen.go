// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build amd64

package jit

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CompiledCode is the executable form of a Program: a page of real amd64
// instructions plus the register-file layout codegen assumed. Used mirrors
// Program.Used so the VM knows which frame slots the code reads or writes;
// the rest of the register file is dead weight the generated code never
// touches.
type CompiledCode struct {
	mem      []byte // mmap'd region; emitted RW, flipped to RX before first call
	size     int
	NumSlots int
	Used     []bool
	EntryPC  int
	ExitPC   int
}

// callCompiled is implemented in asm_amd64.s: it loads code's address and
// regs into registers per the System V AMD64 calling convention and jumps
// into the generated machine code, which returns normally (RET) once it hits
// its exit guard.
func callCompiled(code uintptr, regs *float64)

// Run executes the compiled loop against regs (one float64 per local slot,
// indexed the same way the interpreter's frame locals are), returning once
// the generated code's exit guard fails and falls through to its RET.
func (c *CompiledCode) Run(regs []float64) {
	callCompiled(codeAddr(c.mem), &regs[0])
}

// Compile assembles p into executable machine code. The caller
// (Engine.Compile) has already vetted p against the encoder's limits via
// regAllocatable and guardsExitOnComparisons; on any other architecture
// this function fails outright (codegen_other.go), since the encoder and
// asm_amd64.s trampoline are both arch-specific by construction.
func Compile(p *Program) (*CompiledCode, error) {
	enc := newEncoder(p)
	enc.emitProgram()
	buf, err := enc.finish()
	if err != nil {
		return nil, err
	}

	mem, err := unix.Mmap(-1, 0, len(buf), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	copy(mem, buf)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: mprotect: %w", err)
	}

	return &CompiledCode{mem: mem, size: len(buf), NumSlots: p.NumSlots, Used: p.Used, EntryPC: p.EntryPC, ExitPC: p.ExitPC}, nil
}

// Release unmaps the code's executable page. Deoptimize calls it as soon as
// the owning heap.Trace is evicted or invalidated, not when the collector
// frees the Trace; the VM never enters a Trace marked Invalid.
func (c *CompiledCode) Release() {
	if c.mem != nil {
		unix.Munmap(c.mem)
		c.mem = nil
	}
}
