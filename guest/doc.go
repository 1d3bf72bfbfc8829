// Package guest is the module side of the bridge: an arena allocator, the
// bridge_alloc and bridge_reset exports, and helpers that decode requests
// and encode responses in the envelope format.
//
// A guest is a Go program built as a WASI reactor:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o guest.wasm .
//
// Importing this package links the exports. Application functions take
// (ptr, len) and return a packed reference:
//
//	//go:wasmexport upper
//	func upper(ptr, length uint32) uint64 {
//	    return guest.Handle(ptr, length, func(req []byte) ([]byte, error) {
//	        return bytes.ToUpper(req), nil
//	    })
//	}
//
// The host calls bridge_reset before writing each request, so responses
// stay valid until the next call. Reactors import wasi_snapshot_preview1;
// enable WASI on the host engine.
//
// On other platforms linear memory is simulated so the package can be
// tested with the regular toolchain.
package guest
