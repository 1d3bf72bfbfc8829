// Package wasmbridge is a host/guest execution bridge for sandboxed
// WebAssembly modules running under tight resource budgets.
//
// A host process loads a module, invokes its exported functions with
// binary payloads, bounds each call with a fuel budget, and gets back
// either a result payload or a structured error. The guest decodes its
// input and encodes its output through a small framed envelope, with no
// general-purpose serialization runtime on either side.
//
// # Architecture Overview
//
//	wasmbridge/          Root package: Memory interface, WasmRef and WasmSlice
//	├── envelope/        Wire header, flags, checksummed codec, wire primitives
//	│   └── transform/   Compression and encryption payload transforms
//	├── errors/          Structured error types with call context
//	├── wasm/            Binary module primitives (LEB128, sections, immediates)
//	├── instrument/      Fuel metering and NaN canonicalization passes
//	├── cache/           LRU module cache with single-flight compiles
//	├── engine/          Provider interface and the wazero provider
//	├── runtime/         Metered execution engine
//	├── guest/           Guest-side arena and exports
//	├── config/          Configuration loading
//	├── store/           Persistent module registry
//	└── cmd/bridge/      Command-line runner
//
// # Quick Start
//
//	eng, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	res, err := eng.Run(ctx, "echo", wasmBytes, "echo", []byte("ping"))
//	if err != nil {
//	    log.Fatal(err) // metering exceeded, trap, protocol violation
//	}
//	if res.IsError() {
//	    f, _ := res.Failure()
//	    log.Printf("guest failed: %s", f.Message)
//	}
//	fmt.Printf("%s\n", res.Payload)
//
// # Calling Convention
//
// Every application export has the signature (ptr i32, len i32) -> i64.
// The host writes a request envelope into a region obtained from the
// guest's bridge_alloc export and passes its coordinates as two scalars.
// The guest answers with a WasmRef: the pointer in the high 32 bits and the
// length in the low 32 bits of the returned i64. The response envelope's
// is-error flag, not the scalar, tells success from application failure.
//
// # Thread Safety
//
// Engine and cached modules are safe for concurrent use. An Instance
// serializes calls made through it; use one instance per goroutine for
// parallelism.
package wasmbridge
