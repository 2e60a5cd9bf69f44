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
	"unsafe"

	"github.com/probechain/pseudocode/internal/bytecode"
	"github.com/probechain/pseudocode/internal/heap"
	"github.com/probechain/pseudocode/internal/value"
)

// stackCapacity is reserved up front so that *value.Value pointers taken by
// OP_CLOSURE's upvalue capture (see captureUpvalue) stay valid for the life
// of the open Upvalue: vm.stack never reallocates as long as it stays within
// this capacity, only the call-depth limit governs overflow (spec §4.4
// "StackOverflow (call-depth limit configurable, default 1024)").
const stackCapacity = 1 << 20

// isInt reports whether f has no fractional part and fits the range the
// compiler's integer-specialized opcodes assume (spec §9 "integer overflow
// ... the interpreter always operates on float64, so no separate int
// representation exists to overflow").
func isInt(f float64) bool { return f == float64(int64(f)) }

// run is the dispatch loop: fetch-decode-execute over the current frame
// until the frame stack empties (successful return) or an exception
// propagates past the outermost frame (spec §4.4 "Interpreter").
func (vm *VM) run() *thrown {
	for {
		if len(vm.frames) == 0 {
			return nil
		}
		f := vm.cur()
		if vm.interruptRequested() {
			t := vm.raiseInterrupt()
			if r := vm.unwind(t); r != nil {
				return r
			}
			continue
		}

		pcBefore := f.pc
		op := vm.readOp(f)
		if vm.log != nil {
			vm.log.Trace("%-20s pc=%-5d stack=%d frames=%d", op, pcBefore, len(vm.stack), len(vm.frames))
		}
		switch op {

		case bytecode.OpConstant:
			idx := vm.readU16(f)
			vm.push(f.chunk().Constants[idx])

		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.True)
		case bytecode.OpFalse:
			vm.push(value.False)
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpLoadLocal:
			slot := vm.readU16(f)
			vm.push(vm.stack[f.basePtr+int(slot)])
		case bytecode.OpStoreLocal:
			slot := vm.readU16(f)
			vm.stack[f.basePtr+int(slot)] = vm.peek(0)

		case bytecode.OpLoadGlobal:
			idx := vm.readU16(f)
			name := heap.AsString(f.chunk().Constants[idx]).Data
			v, ok := vm.globals[name]
			if !ok {
				t := vm.raise(UnhandledName, "'%s' is not defined", name)
				if r := vm.unwind(t); r != nil {
					return r
				}
				continue
			}
			vm.push(v)
		case bytecode.OpStoreGlobal:
			idx := vm.readU16(f)
			name := heap.AsString(f.chunk().Constants[idx]).Data
			if _, existed := vm.globals[name]; !existed {
				vm.globalsVersion++
				if vm.jitEngine != nil {
					vm.jitEngine.Invalidate(vm.globalsVersion)
				}
			}
			vm.globals[name] = vm.peek(0)

		case bytecode.OpLoadUpvalue:
			idx := vm.readU16(f)
			vm.push(f.closure.Upvalues[idx].Get())
		case bytecode.OpStoreUpvalue:
			idx := vm.readU16(f)
			f.closure.Upvalues[idx].Set(vm.peek(0))

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			if r := vm.arith(op); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpAddII, bytecode.OpSubII, bytecode.OpMulII:
			// The compiler never emits these forms; this handler reuses
			// the generic float64 arithmetic (spec §9: Values have no
			// separate int representation to overflow, so the specialized
			// forms are a dispatch-skip, not a different code path).
			b := vm.pop().AsNumber()
			a := vm.pop().AsNumber()
			var r float64
			switch op {
			case bytecode.OpAddII:
				r = a + b
			case bytecode.OpSubII:
				r = a - b
			case bytecode.OpMulII:
				r = a * b
			}
			vm.push(value.Number(r))
		case bytecode.OpNeg:
			v := vm.pop()
			if !v.IsNumber() {
				t := vm.raise(TypeMismatch, "cannot negate a %s", vm.typeName(v))
				if r := vm.unwind(t); r != nil {
					return r
				}
				continue
			}
			vm.push(value.Number(-v.AsNumber()))

		case bytecode.OpEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.Bool(heap.StructuralEqual(a, b)))
		case bytecode.OpNotEqual:
			b, a := vm.pop(), vm.pop()
			vm.push(value.Bool(!heap.StructuralEqual(a, b)))
		case bytecode.OpLess, bytecode.OpGreater, bytecode.OpLessEqual, bytecode.OpGreaterEqual:
			if r := vm.compare(op); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpNot:
			v := vm.pop()
			vm.push(value.Bool(v.IsFalsey()))

		case bytecode.OpJump:
			target := vm.readU16(f)
			f.pc = int(target)
		case bytecode.OpJumpIfFalse:
			// Peeks rather than pops: the compiler emits an explicit OP_POP on
			// each arm, and `and`/`or` rely on the surviving operand staying on
			// the stack (spec §4.2 short-circuit lowering).
			target := vm.readU16(f)
			if vm.peek(0).IsFalsey() {
				f.pc = int(target)
			}
		case bytecode.OpLoop:
			loopPC := f.pc - 1 // the OP_LOOP opcode byte itself, already consumed by readOp
			target := vm.readU16(f)
			f.pc = int(target)
			vm.onLoopBack(f, loopPC)

		case bytecode.OpJumpIfPendingReturn:
			target := vm.readU16(f)
			if vm.pendingReturn.set {
				f.pc = int(target)
			}
		case bytecode.OpJumpIfNotPendingReturn:
			target := vm.readU16(f)
			if !vm.pendingReturn.set {
				f.pc = int(target)
			}
		case bytecode.OpSetPendingReturn:
			vm.pendingReturn.value = vm.pop()
			vm.pendingReturn.set = true
		case bytecode.OpPushPendingReturn:
			vm.push(vm.pendingReturn.value)
		case bytecode.OpEndFinally:
			if r := vm.endFinally(); r != nil {
				return r
			}

		case bytecode.OpCall, bytecode.OpTailCall:
			argc := int(vm.readByte(f))
			if r := vm.call(argc, op == bytecode.OpTailCall); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpReturn:
			if vm.doReturn() {
				return nil
			}

		case bytecode.OpClosure:
			idx := vm.readU16(f)
			fn := heap.AsFunction(f.chunk().Constants[idx])
			upvalues := make([]*heap.Upvalue, fn.UpvalueCount)
			for i := 0; i < fn.UpvalueCount; i++ {
				isLocal := vm.readByte(f) != 0
				index := int(vm.readU16(f))
				if isLocal {
					upvalues[i] = vm.captureUpvalue(f.basePtr + index)
				} else {
					upvalues[i] = f.closure.Upvalues[index]
				}
			}
			vm.push(vm.heap.NewClosure(fn, upvalues).Value())
		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.pop()

		case bytecode.OpNewArray:
			n := int(vm.readU16(f))
			elems := make([]value.Value, n)
			copy(elems, vm.stack[len(vm.stack)-n:])
			vm.stack = vm.stack[:len(vm.stack)-n]
			vm.push(vm.heap.NewArray(elems).Value())
		case bytecode.OpNewDict:
			n := int(vm.readU16(f))
			d := vm.heap.NewDict()
			base := len(vm.stack) - 2*n
			for i := 0; i < n; i++ {
				d.Set(vm.stack[base+2*i], vm.stack[base+2*i+1])
			}
			vm.stack = vm.stack[:base]
			vm.push(d.Value())

		case bytecode.OpIndexGet:
			if r := vm.indexGet(); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpIndexFastGet:
			idx := int(vm.pop().AsNumber())
			arr := heap.AsArray(vm.pop())
			v, _ := arr.Get(idx)
			vm.push(v)
		case bytecode.OpIndexSet:
			if r := vm.indexSet(); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}

		case bytecode.OpGetField:
			if r := vm.getField(f); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpSetField:
			if r := vm.setField(f); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpInvoke:
			if r := vm.invoke(f); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}
		case bytecode.OpGetSuper:
			if r := vm.getSuper(f); r != nil {
				if r2 := vm.unwind(*r); r2 != nil {
					return r2
				}
				continue
			}

		case bytecode.OpClass:
			idx := vm.readU16(f)
			name := heap.AsString(f.chunk().Constants[idx]).Data
			vm.push(vm.heap.NewClass(name, nil).Value())
		case bytecode.OpInherit:
			super := vm.pop()
			if !super.IsObj() || heap.HeaderOf(super).Kind != heap.KindClass {
				t := vm.raise(TypeMismatch, "superclass must be a class")
				if r := vm.unwind(t); r != nil {
					return r
				}
				continue
			}
			sub := heap.AsClass(vm.peek(0))
			sub.Super = heap.AsClass(super)
			for name, fn := range sub.Super.Methods {
				sub.Methods[name] = fn
			}
		case bytecode.OpMethod:
			idx := vm.readU16(f)
			name := heap.AsString(f.chunk().Constants[idx]).Data
			method := heap.AsClosure(vm.pop())
			cls := heap.AsClass(vm.peek(0))
			cls.SetMethod(name, method)
			vm.globalsVersion++
			if vm.jitEngine != nil {
				vm.jitEngine.Invalidate(vm.globalsVersion)
			}

		case bytecode.OpThrow:
			v := vm.pop()
			if r := vm.unwind(thrown{value: v}); r != nil {
				return r
			}

		case bytecode.OpPrint:
			v := vm.pop()
			fmt.Fprintln(vm.out, vm.stringify(v))

		default:
			panic("vm: unhandled opcode " + op.String())
		}

		vm.gc.CollectIfNeeded(vm)
	}
}

func (vm *VM) typeName(v value.Value) string {
	return value.TypeName(v, heap.KindOf)
}

// captureUpvalue returns the open Upvalue for absolute stack index slot,
// creating and linking a new one (in descending-stack-depth order) if none
// exists yet (spec §3 "Upvalue ... open ... pointing into a still-live stack
// slot").
func (vm *VM) captureUpvalue(slot int) *heap.Upvalue {
	var prev *heap.Upvalue
	cur := vm.openUpvalues
	for cur != nil && vm.slotOf(cur.Location) > slot {
		prev = cur
		cur = cur.NextOpen
	}
	if cur != nil && vm.slotOf(cur.Location) == slot {
		return cur
	}
	created := vm.heap.NewUpvalue(&vm.stack[slot])
	created.NextOpen = cur
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.NextOpen = created
	}
	return created
}

// closeUpvalues closes and unlinks every open upvalue pointing at or above
// absolute stack index from (spec §3 "A closed Upvalue owns its Value").
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvalues != nil && vm.slotOf(vm.openUpvalues.Location) >= from {
		uv := vm.openUpvalues
		uv.Close()
		vm.openUpvalues = uv.NextOpen
		uv.NextOpen = nil
	}
}

// slotOf recovers the absolute stack index an open Upvalue's Location points
// at, via pointer arithmetic against the stack's (stable, see stackCapacity)
// backing array.
func (vm *VM) slotOf(loc *value.Value) int {
	base := unsafe.Pointer(&vm.stack[:1][0])
	return int((uintptr(unsafe.Pointer(loc)) - uintptr(base)) / unsafe.Sizeof(value.Value(0)))
}
