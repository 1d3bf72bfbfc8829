package runtime

import (
	"context"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/errors"
)

// guestArena reaches the guest allocator through its exports. It lives for
// one call, so it carries that call's context.
type guestArena struct {
	ctx  context.Context
	inst engine.Instance
}

var _ wasmbridge.Allocator = guestArena{}

// Alloc calls bridge_alloc. A zero pointer for a non-empty request is an
// allocation failure.
func (a guestArena) Alloc(size uint32) (uint32, error) {
	if !a.inst.HasFunction(allocExport) {
		return 0, errors.NotFound(errors.PhaseEncode, "export", allocExport)
	}
	res, err := a.inst.Call(a.ctx, allocExport, uint64(size))
	if err != nil {
		return 0, err
	}
	if len(res) != 1 {
		return 0, errors.InvalidData(errors.PhaseEncode, allocExport+" must return one i32")
	}
	ptr := uint32(res[0])
	if ptr == 0 && size > 0 {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, nil)
	}
	return ptr, nil
}

// Reset calls bridge_reset when the guest exports it. Guests without it
// manage their own memory.
func (a guestArena) Reset() error {
	if !a.inst.HasFunction(resetExport) {
		return nil
	}
	_, err := a.inst.Call(a.ctx, resetExport)
	return err
}
