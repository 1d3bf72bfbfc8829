package runtime

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/cache"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/instrument"
)

// Instance is one instantiation of a module. Calls through it are
// serialized; use one instance per goroutine for parallelism.
type Instance struct {
	engine *Engine
	key    string
	handle *cache.Handle[engine.Module]

	mu   sync.Mutex
	inst engine.Instance
}

// Key returns the cache key of the instance's module.
func (i *Instance) Key() string { return i.key }

// Call performs one host-to-guest call:
//
//  1. refill the fuel counter with the metering limit
//  2. call bridge_reset if the guest exports it
//  3. seal payload into a request envelope in a region from bridge_alloc
//  4. call function(ptr, len) and read the returned WasmRef
//  5. copy the response out of guest memory and open it
//
// Traps, fuel exhaustion and protocol violations are returned as
// *errors.Error. A guest that answers with an is-error envelope succeeds
// with Result.IsError set.
func (i *Instance) Call(ctx context.Context, function string, payload []byte, opts ...CallOption) (*Result, error) {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	e := i.engine

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.inst == nil {
		return nil, errors.New(errors.PhaseCall, errors.KindClosed).
			Call(i.key, function).Detail("instance is closed").Build()
	}
	fn, ok := i.inst.Function(function)
	if !ok {
		return nil, errors.New(errors.PhaseCall, errors.KindNotFound).
			Call(i.key, function).Detail("export %q not found", function).Build()
	}
	if !fn.IsBridge() {
		e.counters.violations.Add(1)
		return nil, errors.ProtocolViolation(i.key, function,
			fmt.Sprintf("export has signature %s, want (i32, i32) -> i64", fn.Signature()), nil)
	}

	req, err := transform.Seal(payload, o.Flags, e.transforms...)
	if err != nil {
		return nil, errors.New(errors.PhaseEncode, errors.KindInvalidInput).
			Call(i.key, function).Cause(err).Detail("seal request").Build()
	}

	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}

	e.counters.calls.Add(1)
	limit := e.cfg.MeteringLimit
	metered := e.cfg.Metered() && i.inst.SetFuel(limit)

	res, err := i.handoff(ctx, function, req)
	var consumed uint64
	if metered {
		if left, ok := i.inst.Fuel(); ok && left <= limit {
			consumed = limit - left
		} else {
			consumed = limit
		}
	}
	if err != nil {
		var trap *engine.Trap
		if errors.As(err, &trap) && trap.ExitCode != nil {
			// wazero closed the module: the guest exited or its context ended.
			if cerr := i.discard(ctx); cerr != nil {
				e.log.Warn("close exited instance", zap.String("module", i.key), zap.Error(cerr))
			}
		}
		return nil, i.classify(ctx, function, err)
	}
	res.FuelConsumed = consumed
	if res.IsError() {
		e.counters.appErrors.Add(1)
	}
	return res, nil
}

// violation marks a guest that broke the memory contract.
type violation struct {
	detail string
	cause  error
}

func (v *violation) Error() string {
	if v.cause == nil {
		return v.detail
	}
	return v.detail + ": " + v.cause.Error()
}

func (v *violation) Unwrap() error { return v.cause }

func (i *Instance) handoff(ctx context.Context, function string, req []byte) (*Result, error) {
	if err := (guestArena{ctx: ctx, inst: i.inst}).Reset(); err != nil {
		return nil, err
	}

	ref, err := writeGuest(ctx, i.inst, req)
	if err != nil {
		var trap *engine.Trap
		if errors.As(err, &trap) {
			return nil, err
		}
		return nil, &violation{detail: "write request", cause: err}
	}

	out, err := i.inst.Call(ctx, function, uint64(ref.Ptr()), uint64(ref.Len()))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, &violation{detail: fmt.Sprintf("export returned %d values, want one i64", len(out))}
	}

	resp := wasmbridge.WasmRef(out[0])
	mem := i.inst.Memory()
	view, err := mem.Read(resp.Ptr(), resp.Len())
	if err != nil {
		return nil, &violation{detail: "response " + resp.String(), cause: err}
	}
	// Guest memory is reused by the next allocation.
	data := bytes.Clone(view)

	env, err := transform.Open(data, i.engine.transforms...)
	if err != nil {
		return nil, &violation{detail: "decode response", cause: err}
	}
	if env.Size() != len(data) {
		return nil, &violation{detail: fmt.Sprintf("response reference covers %d bytes, envelope is %d", len(data), env.Size())}
	}
	return &Result{Payload: env.Payload, Flags: env.Flags()}, nil
}

func (i *Instance) classify(ctx context.Context, function string, err error) error {
	e := i.engine
	log := e.log.With(zap.String("module", i.key), zap.String("function", function))

	var v *violation
	if errors.As(err, &v) {
		e.counters.violations.Add(1)
		log.Info("protocol violation", zap.Error(err))
		return errors.ProtocolViolation(i.key, function, v.detail, v.cause)
	}

	var trap *engine.Trap
	if errors.As(err, &trap) {
		if trap.Exhausted {
			e.counters.exhausted.Add(1)
			log.Info("metering exceeded", zap.Uint64("fuel_limit", e.cfg.MeteringLimit))
			return errors.MeteringExceeded(i.key, function, e.cfg.MeteringLimit)
		}
		e.counters.traps.Add(1)
		var cause error = trap
		if ctxErr := ctx.Err(); ctxErr != nil {
			cause = fmt.Errorf("%w: %w", ctxErr, trap)
		}
		log.Info("guest trap", zap.Uint64("fuel_limit", e.cfg.MeteringLimit), zap.Error(cause))
		return errors.GuestTrap(i.key, function, cause)
	}

	return errors.WithCall(err, errors.PhaseCall, i.key, function)
}

// Fuel returns the fuel left after the last call.
func (i *Instance) Fuel() (uint64, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inst == nil {
		return 0, false
	}
	left, ok := i.inst.Fuel()
	if ok && left == instrument.Exhausted {
		return 0, true
	}
	return left, ok
}

// Close releases the instance and its module reference.
func (i *Instance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.inst == nil {
		return nil
	}
	return i.discard(ctx)
}

// discard closes the provider instance. The caller holds i.mu.
func (i *Instance) discard(ctx context.Context) error {
	err := i.inst.Close(context.WithoutCancel(ctx))
	i.inst = nil
	i.handle.Release()
	return err
}
