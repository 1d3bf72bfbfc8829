//go:build wasip1

package guest

import "unsafe"

//go:wasmexport bridge_alloc
func bridgeAlloc(size uint32) uint32 {
	return Alloc(size)
}

//go:wasmexport bridge_reset
func bridgeReset() {
	Reset()
}

// Arena chunks are referenced from the package-level arena, so the
// collector keeps them alive and never moves them.
func addr(b []byte) uint32 {
	return uint32(uintptr(unsafe.Pointer(unsafe.SliceData(b)))) //nolint:gosec // wasm32 addresses fit in uint32
}

func view(ptr, length uint32) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), length) //nolint:gosec,govet // guest memory owned by the arena
}

func forget() {}
