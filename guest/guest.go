package guest

import (
	"bytes"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
)

// The arena behind bridge_alloc. The host resets it before each request,
// so everything a call allocates lives until the next call.
var (
	arena      = NewArena(DefaultChunkSize)
	transforms []transform.Transform
)

// Default returns the arena serving bridge_alloc.
func Default() *Arena { return arena }

// UseTransforms sets the transforms applied to requests, responses and
// host calls. The host must be configured with the same list in the same
// order.
func UseTransforms(ts ...transform.Transform) {
	transforms = ts
}

// Alloc reserves size bytes in the default arena and returns their
// address in linear memory. Running out of memory traps.
func Alloc(size uint32) uint32 {
	return addr(arena.Alloc(int(size)))
}

// Reset releases everything allocated in the default arena.
func Reset() {
	arena.Reset()
	forget()
}

// Args decodes the request envelope at (ptr, length) and returns its
// payload. The payload aliases arena memory.
func Args(ptr, length uint32) ([]byte, error) {
	env, err := transform.Open(view(ptr, length), transforms...)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// Handle is the body of an exported application function:
//
//	//go:wasmexport greet
//	func greet(ptr, length uint32) uint64 {
//	    return guest.Handle(ptr, length, func(req []byte) ([]byte, error) {
//	        return append([]byte("hello, "), req...), nil
//	    })
//	}
func Handle(ptr, length uint32, h Handler) uint64 {
	return ref(Serve(arena, view(ptr, length), h, transforms...))
}

// ReturnOK encodes payload as a success response and returns its
// reference. Encoding failures are reported as a serialization failure.
func ReturnOK(payload []byte) uint64 {
	out, err := EncodeOK(arena, payload, transforms...)
	if err != nil {
		return ReturnErr(envelope.CodeSerialization, err.Error())
	}
	return ref(out)
}

// ReturnErr encodes an application failure and returns its reference.
func ReturnErr(code envelope.Code, message string) uint64 {
	return ref(EncodeErr(arena, code, message))
}

func ref(out []byte) uint64 {
	return uint64(wasmbridge.NewRef(addr(out), uint32(len(out))))
}

// HostFunc is the shape of a host import:
//
//	//go:wasmimport env lookup
//	func lookup(ptr, length uint32) uint64
type HostFunc func(ptr, length uint32) uint64

// CallHost sends payload to fn and returns the host's response payload,
// copied out of the arena. A host failure is returned as an
// envelope.Failure.
func CallHost(fn HostFunc, payload []byte) ([]byte, error) {
	req, err := transform.Seal(payload, envelope.FlagExpectsResponse, transforms...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "seal host request")
	}
	in := arena.Copy(req)

	r := wasmbridge.WasmRef(fn(addr(in), uint32(len(in))))
	return hostResponse(view(r.Ptr(), r.Len()))
}

func hostResponse(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.InvalidData(errors.PhaseDecode, "empty host response")
	}
	env, err := transform.Open(data, transforms...)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "host response")
	}
	if env.IsError() {
		return nil, envelope.ParseFailure(env.Payload)
	}
	return bytes.Clone(env.Payload), nil
}
