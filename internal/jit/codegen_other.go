// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

//go:build !amd64

package jit

import "fmt"

// CompiledCode mirrors the amd64 type's shape so engine.go compiles
// unchanged on every architecture; Compile always fails here, so the other
// fields are never populated.
type CompiledCode struct {
	NumSlots int
	Used     []bool
	EntryPC  int
	ExitPC   int
}

// Compile reports unsupported on every non-amd64 architecture: both the
// instruction encoder (encoder_amd64.go) and the calling trampoline
// (asm_amd64.s) are amd64-specific by construction, matching spec §4.6's
// framing of the JIT as an optional, architecture-limited tier that the
// interpreter always has a correct fallback for.
func Compile(p *Program) (*CompiledCode, error) {
	return nil, fmt.Errorf("jit: unsupported architecture")
}

func (c *CompiledCode) Run(regs []float64) {
	panic("jit: CompiledCode.Run on unsupported architecture")
}

func (c *CompiledCode) Release() {}
