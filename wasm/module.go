package wasm

import "fmt"

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (f FuncType) String() string {
	return fmt.Sprintf("%v -> %v", f.Params, f.Results)
}

// Equal reports whether two signatures match.
func (f FuncType) Equal(o FuncType) bool {
	if len(f.Params) != len(o.Params) || len(f.Results) != len(o.Results) {
		return false
	}
	for i := range f.Params {
		if f.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range f.Results {
		if f.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// AppendFuncType appends the type-section encoding of f.
func AppendFuncType(dst []byte, f FuncType) []byte {
	dst = append(dst, FuncTypeByte)
	dst = AppendU32(dst, uint32(len(f.Params)))
	for _, p := range f.Params {
		dst = append(dst, byte(p))
	}
	dst = AppendU32(dst, uint32(len(f.Results)))
	for _, v := range f.Results {
		dst = append(dst, byte(v))
	}
	return dst
}

// ParseTypes decodes the type section. Recursive and subtyped (GC) type
// definitions are rejected.
func ParseTypes(payload []byte) ([]FuncType, error) {
	r := NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	types := make([]FuncType, 0, min(n, 1024))
	for i := uint32(0); i < n; i++ {
		form, err := r.Byte()
		if err != nil {
			return nil, err
		}
		if form != FuncTypeByte {
			return nil, &UnsupportedError{What: fmt.Sprintf("type form 0x%02x", form), Offset: r.Offset() - 1}
		}
		params, err := readValTypes(r)
		if err != nil {
			return nil, fmt.Errorf("type %d params: %w", i, err)
		}
		results, err := readValTypes(r)
		if err != nil {
			return nil, fmt.Errorf("type %d results: %w", i, err)
		}
		types = append(types, FuncType{Params: params, Results: results})
	}
	return types, nil
}

func readValTypes(r *Reader) ([]ValType, error) {
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, ErrUnexpectedEnd
	}
	out := make([]ValType, n)
	for i := range out {
		b, err := r.Byte()
		if err != nil {
			return nil, err
		}
		v := ValType(b)
		if !v.simple() {
			return nil, &UnsupportedError{What: fmt.Sprintf("value type 0x%02x", b), Offset: r.Offset() - 1}
		}
		out[i] = v
	}
	return out, nil
}

// Import is one import entry. TypeIdx is only meaningful for functions.
type Import struct {
	Module  string
	Name    string
	Kind    byte
	TypeIdx uint32
}

// ParseImports decodes the import section.
func ParseImports(payload []byte) ([]Import, error) {
	r := NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	imports := make([]Import, 0, min(n, 1024))
	for i := uint32(0); i < n; i++ {
		var imp Import
		if imp.Module, err = r.Name(); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		if imp.Name, err = r.Name(); err != nil {
			return nil, fmt.Errorf("import %d: %w", i, err)
		}
		if imp.Kind, err = r.Byte(); err != nil {
			return nil, err
		}
		switch imp.Kind {
		case KindFunc:
			imp.TypeIdx, err = r.U32()
		case KindTable:
			var rt byte
			if rt, err = r.Byte(); err == nil {
				if !ValType(rt).simple() {
					return nil, &UnsupportedError{What: fmt.Sprintf("table element type 0x%02x", rt), Offset: r.Offset() - 1}
				}
				err = skipLimits(r)
			}
		case KindMemory:
			err = skipLimits(r)
		case KindGlobal:
			var vt byte
			if vt, err = r.Byte(); err == nil {
				if !ValType(vt).simple() {
					return nil, &UnsupportedError{What: fmt.Sprintf("global type 0x%02x", vt), Offset: r.Offset() - 1}
				}
				_, err = r.Byte()
			}
		case KindTag:
			if _, err = r.Byte(); err == nil {
				_, err = r.U32()
			}
		default:
			return nil, fmt.Errorf("import %d: unknown kind %d", i, imp.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("import %d (%s.%s): %w", i, imp.Module, imp.Name, err)
		}
		imports = append(imports, imp)
	}
	return imports, nil
}

// skipLimits consumes a limits descriptor: flags, min, and optional max.
// Flag bit 0x04 (memory64) does not change the LEB width read here.
func skipLimits(r *Reader) error {
	flags, err := r.Byte()
	if err != nil {
		return err
	}
	if flags > 0x07 {
		return fmt.Errorf("unknown limits flags 0x%02x", flags)
	}
	if _, err := r.U64(); err != nil {
		return err
	}
	if flags&0x01 != 0 {
		if _, err := r.U64(); err != nil {
			return err
		}
	}
	return nil
}

// CountImports returns the number of imported items of the given kind.
func CountImports(imports []Import, kind byte) uint32 {
	var n uint32
	for _, imp := range imports {
		if imp.Kind == kind {
			n++
		}
	}
	return n
}

// ParseFunctions decodes the function section into type indices.
func ParseFunctions(payload []byte) ([]uint32, error) {
	r := NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	if int(n) > r.Len() {
		return nil, ErrUnexpectedEnd
	}
	out := make([]uint32, n)
	for i := range out {
		if out[i], err = r.U32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Export is one export entry.
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// ParseExports decodes the export section.
func ParseExports(payload []byte) ([]Export, error) {
	r := NewReader(payload)
	n, err := r.U32()
	if err != nil {
		return nil, err
	}
	exports := make([]Export, 0, min(n, 1024))
	for i := uint32(0); i < n; i++ {
		var e Export
		if e.Name, err = r.Name(); err != nil {
			return nil, fmt.Errorf("export %d: %w", i, err)
		}
		if e.Kind, err = r.Byte(); err != nil {
			return nil, err
		}
		if e.Index, err = r.U32(); err != nil {
			return nil, err
		}
		exports = append(exports, e)
	}
	return exports, nil
}

// AppendExport appends the export-section encoding of e.
func AppendExport(dst []byte, e Export) []byte {
	dst = AppendName(dst, e.Name)
	dst = append(dst, e.Kind)
	return AppendU32(dst, e.Index)
}

// Signatures resolves the signature of every function in the module's
// index space, imports first.
func Signatures(sections []Section) ([]FuncType, error) {
	var (
		types   []FuncType
		imports []Import
		funcs   []uint32
		err     error
	)
	if i := FindSection(sections, SectionType); i >= 0 {
		if types, err = ParseTypes(sections[i].Payload); err != nil {
			return nil, err
		}
	}
	if i := FindSection(sections, SectionImport); i >= 0 {
		if imports, err = ParseImports(sections[i].Payload); err != nil {
			return nil, err
		}
	}
	if i := FindSection(sections, SectionFunction); i >= 0 {
		if funcs, err = ParseFunctions(sections[i].Payload); err != nil {
			return nil, err
		}
	}

	out := make([]FuncType, 0, len(imports)+len(funcs))
	lookup := func(idx uint32) (FuncType, error) {
		if int(idx) >= len(types) {
			return FuncType{}, fmt.Errorf("type index %d out of range (%d types)", idx, len(types))
		}
		return types[idx], nil
	}
	for _, imp := range imports {
		if imp.Kind != KindFunc {
			continue
		}
		ft, err := lookup(imp.TypeIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	for _, idx := range funcs {
		ft, err := lookup(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, ft)
	}
	return out, nil
}
