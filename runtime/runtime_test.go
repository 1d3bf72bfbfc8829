package runtime

import (
	"bytes"
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/wasm-bridge/cache"
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/internal/wasmtest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MeteringLimit = 1_000_000
	return cfg
}

func newEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, cfg, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func newInstance(t *testing.T, e *Engine, key string, wasm []byte) *Instance {
	t.Helper()
	ctx := context.Background()
	mod, err := e.CompileCached(ctx, key, wasm)
	if err != nil {
		t.Fatalf("CompileCached failed: %v", err)
	}
	defer mod.Release()
	inst, err := e.Instantiate(ctx, mod)
	if err != nil {
		t.Fatalf("Instantiate failed: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })
	return inst
}

func requireKind(t *testing.T, err error, kind errors.Kind) *errors.Error {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != kind {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	return e
}

func TestRun_Echo(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())

	for _, payload := range []string{"x", "ping", "", strings.Repeat("payload ", 4096)} {
		res, err := e.Run(ctx, "guest", wasmtest.Guest(), "echo", []byte(payload))
		if err != nil {
			t.Fatalf("Run(%d bytes) failed: %v", len(payload), err)
		}
		if res.IsError() {
			t.Fatalf("echo reported an application error")
		}
		if string(res.Payload) != payload {
			t.Errorf("echo returned %d bytes, want %d", len(res.Payload), len(payload))
		}
		if res.FuelConsumed == 0 {
			t.Error("metered call consumed no fuel")
		}
	}
}

func TestRun_ApplicationFailure(t *testing.T) {
	e := newEngine(t, testConfig())

	res, err := e.Run(context.Background(), "guest", wasmtest.Guest(), "fail", []byte("req"))
	if err != nil {
		t.Fatalf("application failure must not be a host error: %v", err)
	}
	if !res.IsError() {
		t.Fatal("expected is-error result")
	}
	f, ok := res.Failure()
	if !ok {
		t.Fatal("Failure() reported no failure")
	}
	if f.Code != envelope.CodeValidation || f.Message != wasmtest.FailMessage {
		t.Errorf("Failure() = %+v", f)
	}
	if e.Stats().ApplicationErrors != 1 {
		t.Errorf("ApplicationErrors = %d", e.Stats().ApplicationErrors)
	}
}

func TestRun_MeteringExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MeteringLimit = 100_000
	e := newEngine(t, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := e.Run(context.Background(), "guest", wasmtest.Guest(), "spin", nil)
		done <- err
	}()

	select {
	case err := <-done:
		xe := requireKind(t, err, errors.KindMeteringExceeded)
		if xe.Module != "guest" || xe.Function != "spin" {
			t.Errorf("missing call context: %v", xe)
		}
		if xe.Value != uint64(100_000) {
			t.Errorf("limit = %v", xe.Value)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("metered infinite loop did not terminate")
	}
	if e.Stats().MeteringExceeded != 1 {
		t.Errorf("MeteringExceeded = %d", e.Stats().MeteringExceeded)
	}
}

func TestCall_BudgetDoesNotCarryOver(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	if _, err := inst.Call(ctx, "spin", nil); !errors.IsKind(err, errors.KindMeteringExceeded) {
		t.Fatalf("spin: %v", err)
	}
	if left, ok := inst.Fuel(); !ok || left != 0 {
		t.Errorf("Fuel() after exhaustion = %d, %v", left, ok)
	}

	first, err := e.CallRaw(ctx, inst, "echo", []byte("again"))
	if err != nil {
		t.Fatalf("echo after exhaustion: %v", err)
	}
	second, err := e.CallRaw(ctx, inst, "echo", []byte("again"))
	if err != nil {
		t.Fatal(err)
	}
	if first.FuelConsumed != second.FuelConsumed {
		t.Errorf("identical calls consumed %d and %d fuel", first.FuelConsumed, second.FuelConsumed)
	}
}

func TestRun_GuestTrap(t *testing.T) {
	e := newEngine(t, testConfig())

	_, err := e.Run(context.Background(), "guest", wasmtest.Guest(), "trap", nil)
	xe := requireKind(t, err, errors.KindGuestTrap)
	if xe.Cause == nil {
		t.Error("trap should carry the provider diagnostic")
	}
}

func TestRun_ProtocolViolations(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())

	tests := []struct {
		function string
		wasm     []byte
		cause    error
	}{
		{"bad_ref", wasmtest.Guest(), nil},
		{"garbage", wasmtest.Guest(), envelope.ErrBadMagic},
		{"long_ref", wasmtest.Guest(), nil},
		{"echo", wasmtest.NoAlloc(), nil},
	}
	for _, tc := range tests {
		t.Run(tc.function, func(t *testing.T) {
			_, err := e.Run(ctx, "", tc.wasm, tc.function, []byte("x"))
			requireKind(t, err, errors.KindProtocolViolation)
			if tc.cause != nil && !stderrors.Is(err, tc.cause) {
				t.Errorf("expected cause %v in %v", tc.cause, err)
			}
		})
	}
	if got := e.Stats().ProtocolViolations; got != uint64(len(tests)) {
		t.Errorf("ProtocolViolations = %d", got)
	}
}

func TestCall_NotFound(t *testing.T) {
	e := newEngine(t, testConfig())
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	_, err := inst.Call(context.Background(), "missing", nil)
	xe := requireKind(t, err, errors.KindNotFound)
	if xe.Function != "missing" {
		t.Errorf("Function = %q", xe.Function)
	}
}

func TestCall_WrongSignature(t *testing.T) {
	e := newEngine(t, testConfig())
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	for _, name := range []string{"bridge_alloc", "bridge_reset"} {
		_, err := e.CallRaw(context.Background(), inst, name, []byte("x"))
		xe := requireKind(t, err, errors.KindProtocolViolation)
		if xe.Function != name {
			t.Errorf("Function = %q, want %q", xe.Function, name)
		}
	}

	st := e.Stats()
	if st.GuestTraps != 0 || st.ProtocolViolations != 2 {
		t.Errorf("GuestTraps = %d, ProtocolViolations = %d", st.GuestTraps, st.ProtocolViolations)
	}

	// the instance is still usable
	res, err := inst.Call(context.Background(), "echo", []byte("ok"))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Payload) != "ok" {
		t.Errorf("Payload = %q", res.Payload)
	}
}

func TestCall_Closed(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	if err := inst.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, err := inst.Call(ctx, "echo", nil)
	requireKind(t, err, errors.KindClosed)
}

func TestCall_Flags(t *testing.T) {
	e := newEngine(t, testConfig())
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	// echo clears the flags it received
	res, err := inst.Call(context.Background(), "echo", []byte("x"), WithFlags(envelope.FlagExpectsResponse))
	if err != nil {
		t.Fatal(err)
	}
	if res.Flags != 0 {
		t.Errorf("Flags = %s", res.Flags)
	}
}

func TestCall_Timeout(t *testing.T) {
	cfg := testConfig()
	cfg.MeteringLimit = 0
	cfg.CallTimeout = 50 * time.Millisecond
	e := newEngine(t, cfg)

	start := time.Now()
	_, err := e.Run(context.Background(), "guest", wasmtest.Guest(), "spin", nil)
	requireKind(t, err, errors.KindGuestTrap)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline in cause chain: %v", err)
	}
	if time.Since(start) > 20*time.Second {
		t.Error("timeout did not stop the guest promptly")
	}
}

func TestCall_ClosedAfterTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.MeteringLimit = 0
	cfg.CallTimeout = 50 * time.Millisecond
	e := newEngine(t, cfg)
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	_, err := inst.Call(ctx, "spin", nil)
	requireKind(t, err, errors.KindGuestTrap)

	_, err = inst.Call(ctx, "echo", []byte("x"))
	requireKind(t, err, errors.KindClosed)
	if got := e.Stats().GuestTraps; got != 1 {
		t.Errorf("GuestTraps = %d, want 1", got)
	}
	if err := inst.Close(ctx); err != nil {
		t.Errorf("Close after exit: %v", err)
	}
}

func TestStaticMemoryBound(t *testing.T) {
	cfg := testConfig()
	cfg.StaticMemoryBound = 64 << 10
	e := newEngine(t, cfg)
	inst := newInstance(t, e, "guest", wasmtest.Guest())

	_, err := inst.Call(context.Background(), "grow", []byte("x"))
	requireKind(t, err, errors.KindGuestTrap)
}

func TestCompileCached(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())

	a, err := e.CompileCached(ctx, "guest", wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := e.CompileCached(ctx, "guest", wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()

	st := e.Stats().Cache
	if st.Compiles != 1 || st.Hits != 1 || st.Entries != 1 {
		t.Errorf("cache stats = %+v", st)
	}
	if !a.Metered() {
		t.Error("module should be metered")
	}

	c, err := e.CompileCached(ctx, "", wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release()
	if c.Key() != cache.ContentKey(wasmtest.Guest()) {
		t.Errorf("empty key resolved to %q", c.Key())
	}
}

func TestCompileCached_Errors(t *testing.T) {
	ctx := context.Background()

	metered := newEngine(t, testConfig())
	_, err := metered.CompileCached(ctx, "junk", []byte("not wasm"))
	xe := requireKind(t, err, errors.KindInvalidData)
	if xe.Module != "junk" {
		t.Errorf("Module = %q", xe.Module)
	}

	cfg := testConfig()
	cfg.MeteringLimit = 0
	cfg.CanonicalizeNaNs = false
	plain := newEngine(t, cfg)
	_, err = plain.CompileCached(ctx, "junk", []byte("not wasm"))
	xe = requireKind(t, err, errors.KindCompilation)
	if xe.Cause == nil {
		t.Error("provider error should be kept as the cause")
	}
	if plain.Stats().Cache.Entries != 0 {
		t.Error("failed compile was cached")
	}
}

func TestInstantiate_MissingImport(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())

	mod, err := e.CompileCached(ctx, "host", wasmtest.GuestWithHost("env", "absent"))
	if err != nil {
		t.Fatal(err)
	}
	defer mod.Release()
	_, err = e.Instantiate(ctx, mod)
	requireKind(t, err, errors.KindInstantiation)
}

func TestInstantiate_ReleasedModule(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())

	mod, err := e.CompileCached(ctx, "guest", wasmtest.Guest())
	if err != nil {
		t.Fatal(err)
	}
	mod.Release()
	mod.Release()
	_, err = e.Instantiate(ctx, mod)
	requireKind(t, err, errors.KindClosed)
}

func TestHostFunc(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig(),
		WithHostFunc("upper", func(ctx context.Context, req []byte) ([]byte, error) {
			return bytes.ToUpper(req), nil
		}),
		WithHostFunc("deny", func(ctx context.Context, req []byte) ([]byte, error) {
			return nil, envelope.Failure{Code: envelope.CodePermissionDenied, Message: "no"}
		}),
		WithHostFunc("broken", func(ctx context.Context, req []byte) ([]byte, error) {
			return nil, stderrors.New("backend down")
		}),
	)

	res, err := e.Run(ctx, "", wasmtest.GuestWithHost("env", "upper"), "call_host", []byte("abc"))
	if err != nil {
		t.Fatal(err)
	}
	if res.IsError() || string(res.Payload) != "ABC" {
		t.Errorf("upper returned %q (error=%v)", res.Payload, res.IsError())
	}

	tests := []struct {
		name string
		code envelope.Code
		msg  string
	}{
		{"deny", envelope.CodePermissionDenied, "no"},
		{"broken", envelope.CodeHostCall, "backend down"},
	}
	for _, tc := range tests {
		res, err := e.Run(ctx, "", wasmtest.GuestWithHost("env", tc.name), "call_host", []byte("abc"))
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		f, ok := res.Failure()
		if !ok || f.Code != tc.code || f.Message != tc.msg {
			t.Errorf("%s: Failure() = %+v, %v", tc.name, f, ok)
		}
	}
}

type kvHost struct {
	mu   sync.Mutex
	data map[string]string
}

func (h *kvHost) Namespace() string { return "kv" }

func (h *kvHost) GetValue(ctx context.Context, req []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.data[string(req)]
	if !ok {
		return nil, envelope.Failure{Code: envelope.CodeValidation, Message: "unknown key"}
	}
	return []byte(v), nil
}

// Helper has the wrong shape and is not exported to guests.
func (h *kvHost) Helper() string { return "" }

func TestHost_Struct(t *testing.T) {
	ctx := context.Background()
	host := &kvHost{data: map[string]string{"k": "v"}}
	e := newEngine(t, testConfig(), WithHost(host))

	if _, ok := e.Hosts().Lookup("kv", "get_value"); !ok {
		t.Fatal("GetValue not registered as get_value")
	}
	if _, ok := e.Hosts().Lookup("kv", "helper"); ok {
		t.Error("Helper should not be registered")
	}

	res, err := e.Run(ctx, "", wasmtest.GuestWithHost("kv", "get_value"), "call_host", []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Payload) != "v" {
		t.Errorf("get_value returned %q", res.Payload)
	}

	if err := e.Hosts().RegisterFunc("kv", "late", func(context.Context, []byte) ([]byte, error) { return nil, nil }); !errors.IsKind(err, errors.KindClosed) {
		t.Errorf("late registration: %v", err)
	}
}

func TestTransforms(t *testing.T) {
	ctx := context.Background()
	z, err := transform.NewZstd(zstd.SpeedFastest, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	defer z.Close()

	var seen []byte
	e := newEngine(t, testConfig(),
		WithTransforms(z),
		WithHostFunc("upper", func(ctx context.Context, req []byte) ([]byte, error) {
			seen = append([]byte(nil), req...)
			return bytes.ToUpper(req), nil
		}))

	payload := []byte(strings.Repeat("compressible ", 64))
	res, err := e.Run(ctx, "", wasmtest.GuestWithHost("env", "upper"), "call_host", payload)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(seen, payload) {
		t.Error("host function did not see the restored request")
	}
	if !res.Flags.Has(envelope.FlagCompressed) {
		t.Errorf("response flags = %s, want compressed", res.Flags)
	}
	if !bytes.Equal(res.Payload, bytes.ToUpper(payload)) {
		t.Error("response payload was not restored")
	}
}

func TestConcurrentRun(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t, testConfig())
	wasm := wasmtest.Guest()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			payload := []byte{byte(w)}
			res, err := e.Run(ctx, "guest", wasm, "echo", payload)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(res.Payload, payload) {
				errs <- stderrors.New("payload mixed up between instances")
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if st := e.Stats(); st.Cache.Compiles != 1 || st.Calls != workers {
		t.Errorf("stats = %+v", st)
	}
}

type mapStore map[string][]byte

func (s mapStore) Load(name string) (string, []byte, error) {
	wasm, ok := s[name]
	if !ok {
		return "", nil, errors.NotFound(errors.PhaseStore, "module", name)
	}
	return cache.ContentKey(wasm), wasm, nil
}

func TestCompileStored(t *testing.T) {
	ctx := context.Background()
	store := mapStore{"a": wasmtest.Guest(), "b": wasmtest.Guest()}
	e := newEngine(t, testConfig(), WithStore(store))

	a, err := e.CompileStored(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := e.CompileStored(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	if a.Key() != b.Key() || e.Stats().Cache.Compiles != 1 {
		t.Error("identical stored modules should share one compilation")
	}

	_, err = e.CompileStored(ctx, "missing")
	requireKind(t, err, errors.KindNotFound)

	bare := newEngine(t, testConfig())
	_, err = bare.CompileStored(ctx, "a")
	requireKind(t, err, errors.KindInvalidInput)
}

func TestEngine_Close(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, testConfig())
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(ctx); err != nil {
		t.Errorf("second Close: %v", err)
	}
	_, err = e.CompileCached(ctx, "guest", wasmtest.Guest())
	requireKind(t, err, errors.KindClosed)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"metering disabled", func(c *Config) { c.MeteringLimit = 0 }, true},
		{"sentinel limit", func(c *Config) { c.MeteringLimit = ^uint64(0) }, false},
		{"zero cache", func(c *Config) { c.CacheSize = 0 }, false},
		{"bad unit", func(c *Config) { c.CacheUnit = "pages" }, false},
		{"byte unit", func(c *Config) { c.CacheUnit = cache.UnitBytes; c.CacheSize = 1 << 20 }, true},
		{"memory over 4GiB", func(c *Config) { c.StaticMemoryBound = 1<<32 + 1 }, false},
		{"negative timeout", func(c *Config) { c.CallTimeout = -time.Second }, false},
		{"no host module", func(c *Config) { c.HostModule = "" }, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.IsKind(err, errors.KindInvalidInput) {
				t.Errorf("expected invalid input, got %v", err)
			}
		})
	}
}

func TestToSnakeCase(t *testing.T) {
	tests := map[string]string{
		"GetValue":        "get_value",
		"GetHTTPResponse": "get_http_response",
		"GetHTTPURL":      "get_httpurl",
		"Lookup":          "lookup",
		"ParseJSON":       "parse_json",
		"":                "",
	}
	for in, want := range tests {
		if got := toSnakeCase(in); got != want {
			t.Errorf("toSnakeCase(%q) = %q, want %q", in, got, want)
		}
	}
}
