package wasm

import (
	"fmt"
	"math"
)

// LocalDecl declares Count locals of one type.
type LocalDecl struct {
	Count uint32
	Type  ValType
}

// FuncBody is one entry of the code section. Code holds the instruction
// stream including the final end opcode.
type FuncBody struct {
	Locals []LocalDecl
	Code   []byte
}

// NumLocals returns the number of declared locals, excluding parameters.
func (b FuncBody) NumLocals() uint64 {
	var n uint64
	for _, l := range b.Locals {
		n += uint64(l.Count)
	}
	return n
}

// ParseCode decodes the code section. Bodies alias the payload.
func ParseCode(payload []byte) ([]FuncBody, error) {
	r := NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	bodies := make([]FuncBody, 0, min(n, 4096))
	for i := uint32(0); i < n; i++ {
		size, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("body %d: %w", i, err)
		}
		raw, err := r.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("body %d: %w", i, err)
		}
		body, err := parseBody(raw)
		if err != nil {
			return nil, fmt.Errorf("body %d: %w", i, err)
		}
		bodies = append(bodies, body)
	}
	if !r.EOF() {
		return nil, fmt.Errorf("code section: %d trailing bytes", r.Len())
	}
	return bodies, nil
}

func parseBody(raw []byte) (FuncBody, error) {
	r := NewReader(raw)
	groups, err := r.U32()
	if err != nil {
		return FuncBody{}, err
	}
	if int(groups) > r.Len() {
		return FuncBody{}, ErrUnexpectedEnd
	}
	var total uint64
	locals := make([]LocalDecl, groups)
	for i := range locals {
		if locals[i].Count, err = r.U32(); err != nil {
			return FuncBody{}, err
		}
		b, err := r.Byte()
		if err != nil {
			return FuncBody{}, err
		}
		locals[i].Type = ValType(b)
		if !locals[i].Type.simple() {
			return FuncBody{}, &UnsupportedError{What: fmt.Sprintf("local type 0x%02x", b), Offset: r.Offset() - 1}
		}
		total += uint64(locals[i].Count)
	}
	if total > math.MaxUint32 {
		return FuncBody{}, fmt.Errorf("too many locals: %d", total)
	}
	return FuncBody{Locals: locals, Code: r.Rest()}, nil
}

// AppendFuncBody appends the size-prefixed code-section encoding of b.
func AppendFuncBody(dst []byte, b FuncBody) []byte {
	inner := AppendU32(nil, uint32(len(b.Locals)))
	for _, l := range b.Locals {
		inner = AppendU32(inner, l.Count)
		inner = append(inner, byte(l.Type))
	}
	inner = append(inner, b.Code...)
	dst = AppendU32(dst, uint32(len(inner)))
	return append(dst, inner...)
}

// EncodeCode builds a code section payload.
func EncodeCode(bodies []FuncBody) []byte {
	out := AppendU32(nil, uint32(len(bodies)))
	for _, b := range bodies {
		out = AppendFuncBody(out, b)
	}
	return out
}
