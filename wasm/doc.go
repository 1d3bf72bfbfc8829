// Package wasm reads and rewrites the WebAssembly binary format at the
// section and instruction level.
//
// It is not a full decoder. Sections stay raw byte slices until a caller
// asks for the parts it needs, which keeps rewriting passes byte-exact for
// everything they do not touch:
//
//	sections, err := wasm.SplitSections(bin)
//	code := sections[wasm.FindSection(sections, wasm.SectionCode)]
//	bodies, err := wasm.ParseCode(code.Payload)
//	for _, body := range bodies {
//	    r := wasm.NewReader(body.Code)
//	    for !r.EOF() {
//	        in, err := wasm.ReadInstr(r)
//	        ...
//	    }
//	}
//	out := wasm.AssembleSections(sections)
//
// Core WebAssembly 2.0 instructions are understood, along with bulk memory,
// reference types, tail calls, multi-memory memargs, and SIMD immediates.
// Exception handling, GC, typed function references, and atomics yield an
// *UnsupportedError.
package wasm
