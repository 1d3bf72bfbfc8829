// Package runtime is the metered execution engine.
//
// # Quick Start
//
//	ctx := context.Background()
//	eng, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	// Compile once, keyed by name or content hash
//	mod, err := eng.CompileCached(ctx, "echo", wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer mod.Release()
//
//	// Create an instance
//	inst, err := eng.Instantiate(ctx, mod)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Close(ctx)
//
//	res, err := eng.CallRaw(ctx, inst, "echo", []byte("ping"))
//
// # Outcomes
//
// A call ends in exactly one of:
//
//	success              err == nil, !res.IsError()
//	application failure  err == nil, res.IsError(); res.Failure() has the code
//	metering exceeded    errors.IsKind(err, errors.KindMeteringExceeded)
//	guest trap           errors.IsKind(err, errors.KindGuestTrap)
//	protocol violation   errors.IsKind(err, errors.KindProtocolViolation)
//
// Every call starts with a full budget of Config.MeteringLimit fuel; nothing
// carries over between calls on the same instance.
//
// # Host Functions
//
// Guests call back into the host through imports with the same
// (ptr, len) -> i64 shape as their exports:
//
//	eng, err := runtime.New(ctx, cfg,
//	    runtime.WithHostFunc("lookup", func(ctx context.Context, req []byte) ([]byte, error) {
//	        return db.Get(req)
//	    }))
//
// Host functions are fixed when the engine is built.
package runtime
