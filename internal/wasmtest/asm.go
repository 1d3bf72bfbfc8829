package wasmtest

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/wasm-bridge/wasm"
)

// Asm emits an instruction stream.
type Asm struct {
	b []byte
}

func Code() *Asm { return &Asm{} }

func (a *Asm) Bytes() []byte { return a.b }

// Op appends raw opcodes without immediates.
func (a *Asm) Op(ops ...byte) *Asm {
	a.b = append(a.b, ops...)
	return a
}

func (a *Asm) idx(op byte, i uint32) *Asm {
	a.b = wasm.AppendU32(append(a.b, op), i)
	return a
}

func (a *Asm) LocalGet(i uint32) *Asm  { return a.idx(wasm.OpLocalGet, i) }
func (a *Asm) LocalSet(i uint32) *Asm  { return a.idx(wasm.OpLocalSet, i) }
func (a *Asm) LocalTee(i uint32) *Asm  { return a.idx(wasm.OpLocalTee, i) }
func (a *Asm) GlobalGet(i uint32) *Asm { return a.idx(wasm.OpGlobalGet, i) }
func (a *Asm) GlobalSet(i uint32) *Asm { return a.idx(wasm.OpGlobalSet, i) }
func (a *Asm) Call(fn uint32) *Asm     { return a.idx(wasm.OpCall, fn) }
func (a *Asm) Br(depth uint32) *Asm    { return a.idx(wasm.OpBr, depth) }
func (a *Asm) BrIf(depth uint32) *Asm  { return a.idx(wasm.OpBrIf, depth) }

func (a *Asm) I32(v int32) *Asm {
	a.b = wasm.AppendSLEB128(append(a.b, wasm.OpI32Const), int64(v))
	return a
}

func (a *Asm) I64(v int64) *Asm {
	a.b = wasm.AppendSLEB128(append(a.b, wasm.OpI64Const), v)
	return a
}

// F64Bits emits f64.const with an exact bit pattern.
func (a *Asm) F64Bits(bits uint64) *Asm {
	a.b = binary.LittleEndian.AppendUint64(append(a.b, wasm.OpF64Const), bits)
	return a
}

func (a *Asm) F64(v float64) *Asm { return a.F64Bits(math.Float64bits(v)) }

// F32Bits emits f32.const with an exact bit pattern.
func (a *Asm) F32Bits(bits uint32) *Asm {
	a.b = binary.LittleEndian.AppendUint32(append(a.b, wasm.OpF32Const), bits)
	return a
}

// Block opens a block with no results.
func (a *Asm) Block() *Asm { return a.Op(wasm.OpBlock, wasm.BlockTypeEmpty) }
func (a *Asm) Loop() *Asm  { return a.Op(wasm.OpLoop, wasm.BlockTypeEmpty) }
func (a *Asm) If() *Asm    { return a.Op(wasm.OpIf, wasm.BlockTypeEmpty) }
func (a *Asm) Else() *Asm  { return a.Op(wasm.OpElse) }
func (a *Asm) End() *Asm   { return a.Op(wasm.OpEnd) }

// IfResult opens an if producing one value of type t.
func (a *Asm) IfResult(t wasm.ValType) *Asm { return a.Op(wasm.OpIf, byte(t)) }

func (a *Asm) memarg(op byte, align, offset uint32) *Asm {
	a.b = append(a.b, op)
	a.b = wasm.AppendU32(a.b, align)
	a.b = wasm.AppendU32(a.b, offset)
	return a
}

func (a *Asm) I32Load(offset uint32) *Asm   { return a.memarg(wasm.OpI32Load, 2, offset) }
func (a *Asm) I32Store(offset uint32) *Asm  { return a.memarg(wasm.OpI32Store, 2, offset) }
func (a *Asm) I32Store8(offset uint32) *Asm { return a.memarg(wasm.OpI32Store8, 0, offset) }

// MemoryCopy emits memory.copy within memory 0.
func (a *Asm) MemoryCopy() *Asm {
	a.b = append(a.b, wasm.OpPrefixMisc)
	a.b = wasm.AppendU32(a.b, wasm.MiscMemoryCopy)
	a.b = append(a.b, 0, 0)
	return a
}

// MemoryGrow emits memory.grow on memory 0.
func (a *Asm) MemoryGrow() *Asm { return a.Op(wasm.OpMemoryGrow, 0) }
func (a *Asm) MemorySize() *Asm { return a.Op(wasm.OpMemorySize, 0) }

// PackRef combines an i32 pointer in local ptr and an i32 length in local
// n into an i64 reference left on the stack.
func (a *Asm) PackRef(ptr, n uint32) *Asm {
	return a.LocalGet(ptr).Op(wasm.OpI64ExtendI32U).I64(32).Op(wasm.OpI64Shl).
		LocalGet(n).Op(wasm.OpI64ExtendI32U).Op(wasm.OpI64Or)
}
