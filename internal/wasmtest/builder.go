// Package wasmtest builds small WebAssembly modules for tests without an
// external toolchain.
package wasmtest

import (
	"github.com/wippyai/wasm-bridge/wasm"
)

type importFunc struct {
	module, name string
	typeIdx      uint32
}

type function struct {
	typeIdx uint32
	locals  []wasm.LocalDecl
	code    []byte
}

type global struct {
	typ     wasm.ValType
	mutable bool
	init    []byte
}

type dataSegment struct {
	offset uint32
	bytes  []byte
}

// Builder accumulates module contents. Indices returned by its methods are
// positions in the final module's index spaces.
type Builder struct {
	types   []wasm.FuncType
	imports []importFunc
	funcs   []function
	globals []global
	exports []wasm.Export
	data    []dataSegment

	memory     bool
	memMin     uint32
	memMax     uint32
	memHasMax  bool
	memExports []string
}

func New() *Builder {
	return &Builder{}
}

// Type returns the index of a signature, adding it when absent.
func (b *Builder) Type(params, results []wasm.ValType) uint32 {
	ft := wasm.FuncType{Params: params, Results: results}
	for i, t := range b.types {
		if t.Equal(ft) {
			return uint32(i)
		}
	}
	b.types = append(b.types, ft)
	return uint32(len(b.types) - 1)
}

// ImportFunc declares an imported function. Imports must be declared before
// any defined function.
func (b *Builder) ImportFunc(module, name string, params, results []wasm.ValType) uint32 {
	if len(b.funcs) > 0 {
		panic("wasmtest: ImportFunc after Func")
	}
	b.imports = append(b.imports, importFunc{module: module, name: name, typeIdx: b.Type(params, results)})
	return uint32(len(b.imports) - 1)
}

// Func defines a function. The final end opcode is appended.
func (b *Builder) Func(params, results []wasm.ValType, locals []wasm.LocalDecl, code *Asm) uint32 {
	body := append(append([]byte(nil), code.Bytes()...), wasm.OpEnd)
	b.funcs = append(b.funcs, function{typeIdx: b.Type(params, results), locals: locals, code: body})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory declares memory 0 with the given page limits and exports it as
// "memory". A max of 0 means unbounded.
func (b *Builder) Memory(minPages, maxPages uint32) *Builder {
	b.memory = true
	b.memMin = minPages
	b.memMax = maxPages
	b.memHasMax = maxPages > 0
	b.memExports = append(b.memExports, "memory")
	return b
}

// GlobalI32 defines an i32 global initialised to v.
func (b *Builder) GlobalI32(mutable bool, v int32) uint32 {
	init := wasm.AppendSLEB128([]byte{wasm.OpI32Const}, int64(v))
	b.globals = append(b.globals, global{typ: wasm.ValI32, mutable: mutable, init: append(init, wasm.OpEnd)})
	return uint32(len(b.globals) - 1)
}

// GlobalI64 defines an i64 global initialised to v.
func (b *Builder) GlobalI64(mutable bool, v int64) uint32 {
	init := wasm.AppendSLEB128([]byte{wasm.OpI64Const}, v)
	b.globals = append(b.globals, global{typ: wasm.ValI64, mutable: mutable, init: append(init, wasm.OpEnd)})
	return uint32(len(b.globals) - 1)
}

// Export exports function fn under name.
func (b *Builder) Export(name string, fn uint32) *Builder {
	b.exports = append(b.exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Index: fn})
	return b
}

// ExportGlobal exports global g under name.
func (b *Builder) ExportGlobal(name string, g uint32) *Builder {
	b.exports = append(b.exports, wasm.Export{Name: name, Kind: wasm.KindGlobal, Index: g})
	return b
}

// Data places bytes at offset in memory 0 at instantiation.
func (b *Builder) Data(offset uint32, bytes []byte) *Builder {
	b.data = append(b.data, dataSegment{offset: offset, bytes: bytes})
	return b
}

// Bytes encodes the module.
func (b *Builder) Bytes() []byte {
	var sections []wasm.Section
	add := func(id byte, payload []byte) {
		sections = append(sections, wasm.Section{ID: id, Payload: payload})
	}

	if len(b.types) > 0 {
		p := wasm.AppendU32(nil, uint32(len(b.types)))
		for _, t := range b.types {
			p = wasm.AppendFuncType(p, t)
		}
		add(wasm.SectionType, p)
	}
	if len(b.imports) > 0 {
		p := wasm.AppendU32(nil, uint32(len(b.imports)))
		for _, imp := range b.imports {
			p = wasm.AppendName(p, imp.module)
			p = wasm.AppendName(p, imp.name)
			p = append(p, wasm.KindFunc)
			p = wasm.AppendU32(p, imp.typeIdx)
		}
		add(wasm.SectionImport, p)
	}
	if len(b.funcs) > 0 {
		p := wasm.AppendU32(nil, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			p = wasm.AppendU32(p, f.typeIdx)
		}
		add(wasm.SectionFunction, p)
	}
	if b.memory {
		p := wasm.AppendU32(nil, 1)
		if b.memHasMax {
			p = append(p, 0x01)
			p = wasm.AppendU32(p, b.memMin)
			p = wasm.AppendU32(p, b.memMax)
		} else {
			p = append(p, 0x00)
			p = wasm.AppendU32(p, b.memMin)
		}
		add(wasm.SectionMemory, p)
	}
	if len(b.globals) > 0 {
		p := wasm.AppendU32(nil, uint32(len(b.globals)))
		for _, g := range b.globals {
			p = append(p, byte(g.typ))
			if g.mutable {
				p = append(p, 0x01)
			} else {
				p = append(p, 0x00)
			}
			p = append(p, g.init...)
		}
		add(wasm.SectionGlobal, p)
	}
	exports := append([]wasm.Export(nil), b.exports...)
	for _, name := range b.memExports {
		exports = append(exports, wasm.Export{Name: name, Kind: wasm.KindMemory, Index: 0})
	}
	if len(exports) > 0 {
		p := wasm.AppendU32(nil, uint32(len(exports)))
		for _, e := range exports {
			p = wasm.AppendExport(p, e)
		}
		add(wasm.SectionExport, p)
	}
	if len(b.funcs) > 0 {
		bodies := make([]wasm.FuncBody, len(b.funcs))
		for i, f := range b.funcs {
			bodies[i] = wasm.FuncBody{Locals: f.locals, Code: f.code}
		}
		add(wasm.SectionCode, wasm.EncodeCode(bodies))
	}
	if len(b.data) > 0 {
		p := wasm.AppendU32(nil, uint32(len(b.data)))
		for _, d := range b.data {
			p = append(p, 0x00, wasm.OpI32Const)
			p = wasm.AppendSLEB128(p, int64(int32(d.offset)))
			p = append(p, wasm.OpEnd)
			p = wasm.AppendU32(p, uint32(len(d.bytes)))
			p = append(p, d.bytes...)
		}
		add(wasm.SectionData, p)
	}
	return wasm.AssembleSections(sections)
}
