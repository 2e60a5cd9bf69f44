// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package compiler implements the single-pass Pratt-parser compiler of
// spec §4.2: it parses source directly into a bytecode.Chunk, with no
// intermediate AST, resolving locals/upvalues/globals and assigning inline
// cache slots as it goes.
package compiler

import (
	"fmt"

	"github.com/probechain/pseudocode/internal/token"
)

// Category is one of the contractual error categories of spec §4.2/§7.
type Category int

const (
	Syntax Category = iota
	UndeclaredName
	AssignToConst
	ArityMismatch
	DuplicateDefinition
	UnreachableCode
)

func (c Category) String() string {
	switch c {
	case Syntax:
		return "Syntax"
	case UndeclaredName:
		return "UndeclaredName"
	case AssignToConst:
		return "AssignToConst"
	case ArityMismatch:
		return "ArityMismatch"
	case DuplicateDefinition:
		return "DuplicateDefinition"
	case UnreachableCode:
		return "UnreachableCode"
	default:
		return "Unknown"
	}
}

// Severity distinguishes hard errors (chunk must not execute) from
// advisory diagnostics.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

// Error is one compiler diagnostic: source span, severity, and category
// (spec §4.2 "Errors"). The compiler always produces a best-effort chunk
// when it reports errors; callers must check the chunk's Valid field (false
// whenever any Error was reported) before executing it.
type Error struct {
	Pos      token.Position
	Severity Severity
	Category Category
	Msg      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Pos, e.Category, e.Msg)
}
