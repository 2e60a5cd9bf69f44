// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package compiler

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
)

// Disassemble writes a tabular bytecode listing for chunk and every nested
// function chunk reachable through its constant pool, as a debug aid
// (SPEC_FULL.md §C). The CLI has no flag that calls it.
func Disassemble(w io.Writer, chunk *bytecode.Chunk) {
	seen := map[*bytecode.Chunk]bool{}
	var walk func(ch *bytecode.Chunk)
	walk = func(ch *bytecode.Chunk) {
		if seen[ch] {
			return
		}
		seen[ch] = true
		disassembleOne(w, ch)
		for _, c := range ch.Constants {
			if c.IsObj() && heap.HeaderOf(c).Kind == heap.KindFunction {
				walk(heap.AsFunction(c).Chunk)
			}
		}
	}
	walk(chunk)
}

func disassembleOne(w io.Writer, chunk *bytecode.Chunk) {
	fmt.Fprintf(w, "== %s (arity %d, %d upvalues, %d IC slots) ==\n",
		chunk.Name, chunk.Arity, chunk.UpvalueCount, chunk.NumICSlots)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"offset", "line", "op", "operands"})
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	code := chunk.Code
	i := 0
	for i < len(code) {
		off := i
		op := bytecode.Op(code[i])
		i++
		operands, width := disasmOperands(chunk, op, code, i)
		i += width
		line := "-"
		if off < len(chunk.Lines) {
			line = fmt.Sprintf("%d", chunk.Lines[off])
		}
		table.Append([]string{fmt.Sprintf("%04d", off), line, op.String(), operands})
	}
	table.Render()

	for idx, ex := range chunk.Exception {
		fmt.Fprintf(w, "  exception[%d]: try=[%d,%d) handler=%d finally=%d\n",
			idx, ex.TryStart, ex.TryEnd, ex.HandlerPC, ex.FinallyPC)
	}
}

// disasmOperands renders an instruction's operand bytes and returns how many
// bytes (beyond the opcode itself) it consumed, mirroring the decoding rules
// Verify uses to walk the same stream.
func disasmOperands(chunk *bytecode.Chunk, op bytecode.Op, code []byte, at int) (string, int) {
	u16 := func(p int) uint16 {
		if p+1 >= len(code) {
			return 0
		}
		return uint16(code[p])<<8 | uint16(code[p+1])
	}

	switch op {
	case bytecode.OpConstant, bytecode.OpLoadGlobal, bytecode.OpStoreGlobal:
		idx := u16(at)
		return fmt.Sprintf("const[%d] %s", idx, constantRepr(chunk, idx)), 2

	case bytecode.OpLoadLocal, bytecode.OpStoreLocal, bytecode.OpLoadUpvalue, bytecode.OpStoreUpvalue:
		return fmt.Sprintf("slot[%d]", u16(at)), 2

	case bytecode.OpJump, bytecode.OpJumpIfFalse, bytecode.OpLoop:
		return fmt.Sprintf("-> %04d", u16(at)), 2

	case bytecode.OpCall, bytecode.OpTailCall:
		if at >= len(code) {
			return "argc=?", 1
		}
		return fmt.Sprintf("argc=%d", code[at]), 1

	case bytecode.OpClosure:
		fnIdx := u16(at)
		n := closureUpvalCount(chunk, fnIdx)
		width := 2
		var parts []string
		for k := 0; k < n; k++ {
			p := at + width
			if p+2 >= len(code) {
				break
			}
			isLocal := code[p]
			idx := u16(p + 1)
			kind := "upvalue"
			if isLocal != 0 {
				kind = "local"
			}
			parts = append(parts, fmt.Sprintf("%s[%d]", kind, idx))
			width += 3
		}
		return fmt.Sprintf("fn[%d] {%s}", fnIdx, strings.Join(parts, ", ")), width

	case bytecode.OpNewArray, bytecode.OpNewDict:
		return fmt.Sprintf("n=%d", u16(at)), 2

	case bytecode.OpGetField, bytecode.OpSetField:
		nameIdx := u16(at)
		icSlot := u16(at + 2)
		return fmt.Sprintf("name[%d] %s ic[%d]", nameIdx, constantRepr(chunk, nameIdx), icSlot), 4

	case bytecode.OpInvoke:
		nameIdx := u16(at)
		icSlot := u16(at + 2)
		argc := byte(0)
		if at+4 < len(code) {
			argc = code[at+4]
		}
		return fmt.Sprintf("name[%d] %s ic[%d] argc=%d", nameIdx, constantRepr(chunk, nameIdx), icSlot, argc), 5

	case bytecode.OpClass, bytecode.OpMethod:
		idx := u16(at)
		return fmt.Sprintf("name[%d] %s", idx, constantRepr(chunk, idx)), 2

	case bytecode.OpGetSuper:
		nameIdx := u16(at)
		icSlot := u16(at + 2)
		return fmt.Sprintf("name[%d] %s ic[%d]", nameIdx, constantRepr(chunk, nameIdx), icSlot), 4

	case bytecode.OpJumpIfPendingReturn, bytecode.OpJumpIfNotPendingReturn:
		return fmt.Sprintf("-> %04d", u16(at)), 2

	default:
		return "", 0
	}
}

func constantRepr(chunk *bytecode.Chunk, idx uint16) string {
	if int(idx) >= len(chunk.Constants) {
		return "?"
	}
	v := chunk.Constants[idx]
	switch {
	case v.IsNumber():
		return fmt.Sprintf("(%g)", v.AsNumber())
	case v.IsObj() && heap.HeaderOf(v).Kind == heap.KindString:
		return fmt.Sprintf("(%q)", heap.AsString(v).Data)
	case v.IsObj() && heap.HeaderOf(v).Kind == heap.KindFunction:
		return fmt.Sprintf("(<fn %s>)", heap.AsFunction(v).Name)
	default:
		return ""
	}
}
