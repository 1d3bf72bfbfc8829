package wasmbridge

import "fmt"

// WasmRef packs a guest pointer and length into the single i64 returned by
// guest exports: pointer in the high 32 bits, length in the low 32 bits.
type WasmRef uint64

// NewRef packs ptr and length.
func NewRef(ptr, length uint32) WasmRef {
	return WasmRef(uint64(ptr)<<32 | uint64(length))
}

func (r WasmRef) Ptr() uint32 { return uint32(r >> 32) }

func (r WasmRef) Len() uint32 { return uint32(r) }

// Slice unpacks the reference.
func (r WasmRef) Slice() WasmSlice {
	return WasmSlice{Ptr: r.Ptr(), Len: r.Len()}
}

func (r WasmRef) String() string {
	return fmt.Sprintf("ref(ptr=%d, len=%d)", r.Ptr(), r.Len())
}

// WasmSlice is a byte range inside guest linear memory. The host never
// dereferences it; it is a coordinate owned by the guest.
type WasmSlice struct {
	Ptr uint32
	Len uint32
}

// End returns the first offset past the slice. It is computed in 64 bits
// so that ranges touching the top of the 32-bit space do not wrap.
func (s WasmSlice) End() uint64 {
	return uint64(s.Ptr) + uint64(s.Len)
}

func (s WasmSlice) IsEmpty() bool { return s.Len == 0 }

// Contains reports whether ptr falls inside the slice.
func (s WasmSlice) Contains(ptr uint32) bool {
	return ptr >= s.Ptr && uint64(ptr) < s.End()
}

// Overlaps reports whether the two ranges share at least one byte.
func (s WasmSlice) Overlaps(other WasmSlice) bool {
	if s.IsEmpty() || other.IsEmpty() {
		return false
	}
	return uint64(s.Ptr) < other.End() && uint64(other.Ptr) < s.End()
}

// Within reports whether the slice lies inside a memory of size bytes.
func (s WasmSlice) Within(size uint32) bool {
	return s.End() <= uint64(size)
}

func (s WasmSlice) Ref() WasmRef {
	return NewRef(s.Ptr, s.Len)
}
