package instrument

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

const (
	CanonicalNaN32 uint32 = 0x7FC00000
	CanonicalNaN64 uint64 = 0x7FF8000000000000
)

// nanResult returns the result type of a float instruction that can
// produce a NaN, or 0 if op cannot.
func nanResult(op byte) wasm.ValType {
	switch {
	case op >= wasm.OpF32Ceil && op <= wasm.OpF32Max, op == wasm.OpF32DemoteF64:
		return wasm.ValF32
	case op >= wasm.OpF64Ceil && op <= wasm.OpF64Max, op == wasm.OpF64PromoteF32:
		return wasm.ValF64
	}
	return 0
}

func canonicalizeNaNs(sections []wasm.Section) ([]wasm.Section, int, error) {
	ci, bodies, err := codeBodies(sections)
	if err != nil || ci < 0 {
		return sections, 0, err
	}
	sigs, err := wasm.Signatures(sections)
	if err != nil {
		return nil, 0, parseErr("signatures", err)
	}
	imported := len(sigs) - len(bodies)
	if imported < 0 {
		return nil, 0, errors.InvalidData(errors.PhaseInstrument, "code section has more bodies than the function section declares")
	}

	total := 0
	for i := range bodies {
		base := uint64(len(sigs[imported+i].Params)) + bodies[i].NumLocals()
		if base+2 > math.MaxUint32 {
			return nil, 0, errors.Unsupported(errors.PhaseInstrument, "too many locals to add NaN scratch slots")
		}
		code, n, err := guardBody(bodies[i].Code, uint32(base), uint32(base+1))
		if err != nil {
			return nil, 0, rewriteErr(i, err)
		}
		if n == 0 {
			continue
		}
		bodies[i].Code = code
		bodies[i].Locals = append(append([]wasm.LocalDecl(nil), bodies[i].Locals...),
			wasm.LocalDecl{Count: 1, Type: wasm.ValF32},
			wasm.LocalDecl{Count: 1, Type: wasm.ValF64})
		total += n
	}
	if total == 0 {
		return sections, 0, nil
	}
	out := append([]wasm.Section(nil), sections...)
	out[ci] = wasm.Section{ID: wasm.SectionCode, Payload: wasm.EncodeCode(bodies)}
	return out, total, nil
}

// guardBody appends a NaN guard after each NaN-producing instruction:
//
//	local.tee t; fNN.const canon; local.get t; local.get t; fNN.eq; select
func guardBody(code []byte, t32, t64 uint32) ([]byte, int, error) {
	out := make([]byte, 0, len(code)+len(code)/4)
	r := wasm.NewReader(code)
	n := 0
	for !r.EOF() {
		in, err := wasm.ReadInstr(r)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, code[in.Start:in.End]...)
		switch nanResult(in.Op) {
		case wasm.ValF32:
			out = appendGuard32(out, t32)
			n++
		case wasm.ValF64:
			out = appendGuard64(out, t64)
			n++
		}
	}
	return out, n, nil
}

func appendGuard32(dst []byte, t uint32) []byte {
	dst = wasm.AppendU32(append(dst, wasm.OpLocalTee), t)
	dst = binary.LittleEndian.AppendUint32(append(dst, wasm.OpF32Const), CanonicalNaN32)
	dst = wasm.AppendU32(append(dst, wasm.OpLocalGet), t)
	dst = wasm.AppendU32(append(dst, wasm.OpLocalGet), t)
	return append(dst, wasm.OpF32Eq, wasm.OpSelect)
}

func appendGuard64(dst []byte, t uint32) []byte {
	dst = wasm.AppendU32(append(dst, wasm.OpLocalTee), t)
	dst = binary.LittleEndian.AppendUint64(append(dst, wasm.OpF64Const), CanonicalNaN64)
	dst = wasm.AppendU32(append(dst, wasm.OpLocalGet), t)
	dst = wasm.AppendU32(append(dst, wasm.OpLocalGet), t)
	return append(dst, wasm.OpF64Eq, wasm.OpSelect)
}
