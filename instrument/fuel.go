package instrument

import (
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/wasm"
)

// accounting reports whether op closes a straight-line run. A charge is
// emitted before each such instruction.
func accounting(op byte) bool {
	switch op {
	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn,
		wasm.OpCall, wasm.OpCallIndirect, wasm.OpReturnCall, wasm.OpReturnCallIndirect,
		wasm.OpUnreachable:
		return true
	}
	return false
}

func injectFuel(sections []wasm.Section, initial uint64) ([]wasm.Section, int, error) {
	var imports []wasm.Import
	if i := wasm.FindSection(sections, wasm.SectionImport); i >= 0 {
		var err error
		if imports, err = wasm.ParseImports(sections[i].Payload); err != nil {
			return nil, 0, parseErr("import section", err)
		}
	}

	var defined uint32
	gi := wasm.FindSection(sections, wasm.SectionGlobal)
	if gi >= 0 {
		n, err := wasm.CountVec(sections[gi].Payload)
		if err != nil {
			return nil, 0, parseErr("global section", err)
		}
		defined = n
	}
	fuel := wasm.CountImports(imports, wasm.KindGlobal) + defined

	if ei := wasm.FindSection(sections, wasm.SectionExport); ei >= 0 {
		exports, err := wasm.ParseExports(sections[ei].Payload)
		if err != nil {
			return nil, 0, parseErr("export section", err)
		}
		for _, e := range exports {
			if e.Name == FuelGlobal {
				return nil, 0, errors.InvalidInput(errors.PhaseInstrument, "module already exports "+FuelGlobal)
			}
		}
	}

	ci, bodies, err := codeBodies(sections)
	if err != nil {
		return nil, 0, err
	}
	charges := 0
	for i := range bodies {
		code, n, err := meterBody(bodies[i].Code, fuel)
		if err != nil {
			return nil, 0, rewriteErr(i, err)
		}
		bodies[i].Code = code
		charges += n
	}

	out := append([]wasm.Section(nil), sections...)
	if ci >= 0 {
		out[ci] = wasm.Section{ID: wasm.SectionCode, Payload: wasm.EncodeCode(bodies)}
	}

	// the initial value only funds the start function; the host refills
	// the global before each call
	decl := wasm.AppendSLEB128([]byte{byte(wasm.ValI64), 0x01, wasm.OpI64Const}, int64(initial))
	decl = append(decl, wasm.OpEnd)
	if gi >= 0 {
		payload, err := wasm.ExtendVec(out[gi].Payload, 1, decl)
		if err != nil {
			return nil, 0, parseErr("global section", err)
		}
		out[gi] = wasm.Section{ID: wasm.SectionGlobal, Payload: payload}
	} else {
		out, _ = wasm.InsertSection(out, wasm.Section{ID: wasm.SectionGlobal, Payload: append([]byte{0x01}, decl...)})
	}

	export := wasm.AppendExport(nil, wasm.Export{Name: FuelGlobal, Kind: wasm.KindGlobal, Index: fuel})
	if ei := wasm.FindSection(out, wasm.SectionExport); ei >= 0 {
		payload, err := wasm.ExtendVec(out[ei].Payload, 1, export)
		if err != nil {
			return nil, 0, parseErr("export section", err)
		}
		out[ei] = wasm.Section{ID: wasm.SectionExport, Payload: payload}
	} else {
		out, _ = wasm.InsertSection(out, wasm.Section{ID: wasm.SectionExport, Payload: append([]byte{0x01}, export...)})
	}
	return out, charges, nil
}

// meterBody inserts charges into one instruction stream.
func meterBody(code []byte, fuel uint32) ([]byte, int, error) {
	out := make([]byte, 0, len(code)+len(code)/2)
	r := wasm.NewReader(code)
	pending := int64(0)
	charges := 0
	for !r.EOF() {
		in, err := wasm.ReadInstr(r)
		if err != nil {
			return nil, 0, err
		}
		if accounting(in.Op) {
			out = appendCharge(out, fuel, pending+1)
			pending = 0
			charges++
		} else {
			pending++
		}
		out = append(out, code[in.Start:in.End]...)
	}
	return out, charges, nil
}

// appendCharge emits a stack-neutral fuel check:
//
//	global.get fuel; i64.const cost; i64.lt_u
//	if
//	  i64.const -1; global.set fuel; unreachable
//	end
//	global.get fuel; i64.const cost; i64.sub; global.set fuel
func appendCharge(dst []byte, fuel uint32, cost int64) []byte {
	dst = wasm.AppendU32(append(dst, wasm.OpGlobalGet), fuel)
	dst = wasm.AppendSLEB128(append(dst, wasm.OpI64Const), cost)
	dst = append(dst, wasm.OpI64LtU, wasm.OpIf, wasm.BlockTypeEmpty)
	dst = wasm.AppendSLEB128(append(dst, wasm.OpI64Const), -1)
	dst = wasm.AppendU32(append(dst, wasm.OpGlobalSet), fuel)
	dst = append(dst, wasm.OpUnreachable, wasm.OpEnd)
	dst = wasm.AppendU32(append(dst, wasm.OpGlobalGet), fuel)
	dst = wasm.AppendSLEB128(append(dst, wasm.OpI64Const), cost)
	dst = append(dst, wasm.OpI64Sub)
	return wasm.AppendU32(append(dst, wasm.OpGlobalSet), fuel)
}
