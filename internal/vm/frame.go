// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package vm

import (
	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
)

// frame is one call's activation record (spec §4.4 glossary: "closure,
// program counter, base pointer, exception table reference"). The exception
// table is reached through closure.Fn.Chunk rather than duplicated here.
type frame struct {
	closure *heap.Closure
	pc      int
	basePtr int // index into vm.stack where this frame's slot 0 lives
}

func (f *frame) chunk() *bytecode.Chunk { return f.closure.Fn.Chunk }
