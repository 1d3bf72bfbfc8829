// Package engine is the module-execution provider layer.
//
// Everything above this package talks to a Provider, so another backend can
// be substituted without touching the envelope, cache or runtime code. The
// only implementation is WazeroEngine.
//
// # Architecture
//
//	WazeroEngine   - owns the wazero runtime, host modules and WASI
//	WazeroModule   - a compiled (and optionally instrumented) module
//	WazeroInstance - an instantiated module with its memory and fuel counter
//
// # Metering
//
// With Config.Metering set, Compile rewrites the binary through the
// instrument package before handing it to wazero. Instances then expose the
// injected fuel global through SetFuel and Fuel. A call that runs out of
// fuel fails with a *Trap whose Exhausted field is set:
//
//	inst.SetFuel(limit)
//	_, err := inst.Call(ctx, "handle", ptr, n)
//	var trap *engine.Trap
//	if errors.As(err, &trap) && trap.Exhausted {
//	    // stopped by the budget
//	}
//
// # Host Functions
//
// DefineHostModule exports Go functions with the bridge signature
// (ptr i32, len i32) -> i64. Each invocation receives a non-owning view of
// the calling instance so the handler can read the request and allocate the
// response in guest memory.
//
// # Memory Limits
//
// Config.MemoryLimitPages caps the linear memory of every instance. Use
// PagesForBytes to convert a byte bound.
package engine
