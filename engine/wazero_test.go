package engine

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"

	"github.com/tetratelabs/wazero/api"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/instrument"
	"github.com/wippyai/wasm-bridge/internal/wasmtest"
)

func newEngine(t *testing.T, cfg Config) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := NewWazeroEngine(ctx, cfg)
	if err != nil {
		t.Fatalf("NewWazeroEngine failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func instantiate(t *testing.T, e *WazeroEngine, bin []byte) Instance {
	t.Helper()
	ctx := context.Background()
	mod, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })
	return inst
}

// writeRequest places data in guest memory through bridge_alloc.
func writeRequest(t *testing.T, inst Instance, data []byte) uint32 {
	t.Helper()
	ctx := context.Background()
	if _, err := inst.Call(ctx, "bridge_reset"); err != nil {
		t.Fatalf("bridge_reset failed: %v", err)
	}
	res, err := inst.Call(ctx, "bridge_alloc", uint64(len(data)))
	if err != nil {
		t.Fatalf("bridge_alloc failed: %v", err)
	}
	ptr := api.DecodeU32(res[0])
	if err := inst.Memory().Write(ptr, data); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return ptr
}

func TestNewWazeroEngine(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"default config", Config{}},
		{"16MB limit", Config{MemoryLimitPages: 256}},
		{"metered", Config{Metering: true, CanonicalizeNaNs: true}},
		{"interpreter", Config{Interpreter: true}},
		{"wasi", Config{WASI: true}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := newEngine(t, tc.cfg)
			if e.runtime == nil {
				t.Error("engine runtime should not be nil")
			}
		})
	}
}

func TestNewWazeroEngine_RejectsMemoryLimit(t *testing.T) {
	_, err := NewWazeroEngine(context.Background(), Config{MemoryLimitPages: MaxMemoryPages + 1})
	if !errors.IsKind(err, errors.KindInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPagesForBytes(t *testing.T) {
	tests := []struct {
		bytes uint64
		want  uint32
	}{
		{0, 0},
		{1, 1},
		{65536, 1},
		{65537, 2},
		{16 << 20, 256},
		{1 << 32, MaxMemoryPages},
		{1 << 40, MaxMemoryPages},
	}
	for _, tc := range tests {
		if got := PagesForBytes(tc.bytes); got != tc.want {
			t.Errorf("PagesForBytes(%d) = %d, want %d", tc.bytes, got, tc.want)
		}
	}
}

func TestWazeroInstance_Echo(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Guest())

	req, err := envelope.Encode([]byte("ping"), 0)
	if err != nil {
		t.Fatal(err)
	}
	ptr := writeRequest(t, inst, req)

	res, err := inst.Call(ctx, "echo", uint64(ptr), uint64(len(req)))
	if err != nil {
		t.Fatalf("echo failed: %v", err)
	}
	ref := wasmbridge.WasmRef(res[0])
	if ref.Len() != uint32(len(req)) {
		t.Fatalf("ref length = %d, want %d", ref.Len(), len(req))
	}
	if ref.Ptr() == ptr {
		t.Error("echo should answer from a fresh allocation")
	}

	out, err := inst.Memory().Read(ref.Ptr(), ref.Len())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, req) {
		t.Errorf("echo returned %x, want %x", out, req)
	}
}

func TestWazeroInstance_NotFound(t *testing.T) {
	e := newEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Guest())

	if inst.HasFunction("missing") {
		t.Error("HasFunction reported a missing export")
	}
	_, err := inst.Call(context.Background(), "missing")
	if !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWazeroInstance_Function(t *testing.T) {
	e := newEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Guest())

	echo, ok := inst.Function("echo")
	if !ok || !echo.IsBridge() {
		t.Errorf("echo = %+v, %v", echo, ok)
	}
	alloc, ok := inst.Function("bridge_alloc")
	if !ok {
		t.Fatal("bridge_alloc not found")
	}
	if alloc.IsBridge() || alloc.Signature() != "(i32) -> i32" {
		t.Errorf("bridge_alloc signature %s", alloc.Signature())
	}
	if _, ok := inst.Function("missing"); ok {
		t.Error("Function reported a missing export")
	}
}

func TestWazeroInstance_Trap(t *testing.T) {
	e := newEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Guest())

	_, err := inst.Call(context.Background(), "trap", 0, 0)
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected *Trap, got %T: %v", err, err)
	}
	if trap.Function != "trap" || trap.Exhausted || trap.ExitCode != nil {
		t.Errorf("unexpected trap %+v", trap)
	}
	if trap.Cause == nil {
		t.Error("trap should carry the provider error")
	}
}

func TestWazeroInstance_FuelExhaustion(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{Metering: true})
	inst := instantiate(t, e, wasmtest.Guest())

	if !inst.SetFuel(10_000) {
		t.Fatal("metered instance should accept fuel")
	}
	_, err := inst.Call(ctx, "spin", 0, 0)
	var trap *Trap
	if !errors.As(err, &trap) || !trap.Exhausted {
		t.Fatalf("expected exhaustion trap, got %v", err)
	}
	if fuel, ok := inst.Fuel(); !ok || fuel != instrument.Exhausted {
		t.Errorf("Fuel() = %d, %v", fuel, ok)
	}

	// Refilling makes the instance usable again.
	inst.SetFuel(10_000)
	req, _ := envelope.Encode([]byte("x"), 0)
	ptr := writeRequest(t, inst, req)
	if _, err := inst.Call(ctx, "echo", uint64(ptr), uint64(len(req))); err != nil {
		t.Fatalf("echo after refill failed: %v", err)
	}
	fuel, _ := inst.Fuel()
	if fuel >= 10_000 {
		t.Errorf("echo consumed no fuel: %d left", fuel)
	}
}

func TestWazeroInstance_Unmetered(t *testing.T) {
	e := newEngine(t, Config{})
	mod, err := e.Compile(context.Background(), wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}
	if mod.Metered() {
		t.Error("module compiled without metering reports Metered")
	}
	inst := instantiate(t, e, wasmtest.Guest())
	if inst.SetFuel(1) {
		t.Error("SetFuel succeeded on an unmetered instance")
	}
	if _, ok := inst.Fuel(); ok {
		t.Error("Fuel reported a counter on an unmetered instance")
	}
}

func TestWazeroInstance_MemoryLimit(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{MemoryLimitPages: 1})
	inst := instantiate(t, e, wasmtest.Guest())

	req, _ := envelope.Encode([]byte("x"), 0)
	ptr := writeRequest(t, inst, req)
	_, err := inst.Call(ctx, "grow", uint64(ptr), uint64(len(req)))
	var trap *Trap
	if !errors.As(err, &trap) {
		t.Fatalf("expected trap when growing past the limit, got %v", err)
	}
}

func TestWazeroMemory_Bounds(t *testing.T) {
	e := newEngine(t, Config{})
	inst := instantiate(t, e, wasmtest.Guest())
	mem := inst.Memory()

	if mem.Size() != 65536 {
		t.Fatalf("Size() = %d, want 65536", mem.Size())
	}
	if _, err := mem.Read(65530, 16); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("Read past end: %v", err)
	}
	if err := mem.Write(65535, []byte{1, 2}); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("Write past end: %v", err)
	}
	if _, err := mem.ReadU32(65534); !errors.IsKind(err, errors.KindOutOfBounds) {
		t.Errorf("ReadU32 past end: %v", err)
	}
	if err := mem.WriteU32(100, 0xDEADBEEF); err != nil {
		t.Fatal(err)
	}
	v, err := mem.ReadU32(100)
	if err != nil || v != 0xDEADBEEF {
		t.Errorf("ReadU32 = %#x, %v", v, err)
	}
}

func TestWazeroModule_Exports(t *testing.T) {
	e := newEngine(t, Config{})
	mod, err := e.Compile(context.Background(), wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}

	byName := map[string]FunctionInfo{}
	for _, f := range mod.Exports() {
		byName[f.Name] = f
	}
	for _, name := range []string{"echo", "fail", "spin", "trap"} {
		f, ok := byName[name]
		if !ok {
			t.Fatalf("missing export %q", name)
		}
		if !f.IsBridge() {
			t.Errorf("%s: %s is not a bridge signature", name, f.Signature())
		}
	}
	alloc := byName["bridge_alloc"]
	if alloc.IsBridge() {
		t.Error("bridge_alloc should not look like an application export")
	}
	if got := alloc.Signature(); got != "(i32) -> i32" {
		t.Errorf("bridge_alloc signature = %q", got)
	}
	if len(mod.Imports()) != 0 {
		t.Errorf("guest has no imports, got %v", mod.Imports())
	}
}

func TestWazeroEngine_HostModule(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{Metering: true})

	var calls atomic.Int32
	err := e.DefineHostModule(ctx, "env", map[string]HostFunc{
		"lookup": func(ctx context.Context, caller Instance, ptr, length uint32) uint64 {
			calls.Add(1)
			if _, ok := caller.Fuel(); !ok {
				t.Error("caller view should see the fuel counter")
			}
			// Hand the request straight back.
			return uint64(wasmbridge.NewRef(ptr, length))
		},
	})
	if err != nil {
		t.Fatalf("DefineHostModule failed: %v", err)
	}

	bin := wasmtest.GuestWithHost("env", "lookup")
	mod, err := e.Compile(ctx, bin)
	if err != nil {
		t.Fatal(err)
	}
	imports := mod.Imports()
	if len(imports) != 1 || imports[0].Module != "env" || imports[0].Name != "lookup" || !imports[0].IsBridge() {
		t.Fatalf("unexpected imports %+v", imports)
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer inst.Close(ctx)
	inst.SetFuel(100_000)

	req, _ := envelope.Encode([]byte("hello"), 0)
	ptr := writeRequest(t, inst, req)
	res, err := inst.Call(ctx, "call_host", uint64(ptr), uint64(len(req)))
	if err != nil {
		t.Fatalf("call_host failed: %v", err)
	}
	if got := wasmbridge.WasmRef(res[0]); got != wasmbridge.NewRef(ptr, uint32(len(req))) {
		t.Errorf("call_host returned %s", got)
	}
	if calls.Load() != 1 {
		t.Errorf("host function called %d times", calls.Load())
	}

	if err := e.DefineHostModule(ctx, "env", nil); !errors.IsKind(err, errors.KindInvalidInput) {
		t.Errorf("redefining env: %v", err)
	}
}

func TestWazeroEngine_MissingImport(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})

	mod, err := e.Compile(ctx, wasmtest.GuestWithHost("env", "absent"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mod.Instantiate(ctx); err == nil {
		t.Fatal("expected instantiation to fail without the host module")
	}
}

func TestWazeroEngine_CompileInvalid(t *testing.T) {
	e := newEngine(t, Config{})
	if _, err := e.Compile(context.Background(), []byte("not wasm")); err == nil {
		t.Fatal("expected compile error")
	}

	metered := newEngine(t, Config{Metering: true})
	_, err := metered.Compile(context.Background(), []byte("not wasm"))
	if !errors.IsKind(err, errors.KindInvalidData) {
		t.Fatalf("expected instrumentation to reject the binary, got %v", err)
	}
}

func TestWazeroInstance_CloseTwice(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})
	mod, err := e.Compile(ctx, wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := inst.Call(ctx, "echo", 0, 0); !errors.IsKind(err, errors.KindClosed) {
		t.Errorf("Call after Close: %v", err)
	}
}

func TestWazeroEngine_MultipleInstances(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, Config{})
	mod, err := e.Compile(ctx, wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}

	// Anonymous instances of the same module must not collide.
	for i := 0; i < 3; i++ {
		inst, err := mod.Instantiate(ctx)
		if err != nil {
			t.Fatalf("instance %d: %v", i, err)
		}
		defer inst.Close(ctx)
	}
}
