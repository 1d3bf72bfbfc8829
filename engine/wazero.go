package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/errors"
	"github.com/wippyai/wasm-bridge/instrument"
)

// MaxMemoryPages is the page limit of a 32-bit linear memory (4 GiB).
const MaxMemoryPages = 65536

// initializeExport is run at instantiation by reactor modules, including
// Go programs built with -buildmode=c-shared for wasip1.
const initializeExport = "_initialize"

// WazeroEngine implements Provider using wazero runtime
type WazeroEngine struct {
	runtime      wazero.Runtime
	cfg          Config
	ccache       wazero.CompilationCache
	wasiInitMu   sync.Mutex
	wasiInitDone atomic.Bool
}

// Config holds configuration for engine creation
type Config struct {
	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// Metering injects a fuel counter into every compiled module.
	Metering bool

	// InitialFuel funds start functions run during instantiation.
	InitialFuel uint64

	// CanonicalizeNaNs rewrites float results so NaN bit patterns are
	// identical on every host.
	CanonicalizeNaNs bool

	// CompilationCacheDir persists compiled machine code across processes.
	CompilationCacheDir string

	// CloseOnContextDone stops running guests when the call context ends.
	CloseOnContextDone bool

	// Interpreter selects wazero's interpreter instead of the compiler.
	Interpreter bool

	// WASI instantiates wasi_snapshot_preview1 so wasip1 guests link.
	WASI bool
}

// PagesForBytes converts a byte bound to whole pages, capped at MaxMemoryPages.
func PagesForBytes(n uint64) uint32 {
	pages := (n + 65535) / 65536
	if pages > MaxMemoryPages {
		return MaxMemoryPages
	}
	return uint32(pages)
}

// NewWazeroEngine creates a new wazero-based engine
func NewWazeroEngine(ctx context.Context, cfg Config) (*WazeroEngine, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.Interpreter {
		runtimeCfg = wazero.NewRuntimeConfigInterpreter()
	}

	if cfg.MemoryLimitPages > MaxMemoryPages {
		return nil, errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("memory limit of %d pages exceeds %d", cfg.MemoryLimitPages, MaxMemoryPages))
	}
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	runtimeCfg = runtimeCfg.WithCloseOnContextDone(cfg.CloseOnContextDone)

	var ccache wazero.CompilationCache
	if cfg.CompilationCacheDir != "" {
		var err error
		ccache, err = wazero.NewCompilationCacheWithDir(cfg.CompilationCacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "open compilation cache")
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(ccache)
	}

	e := &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     cfg,
		ccache:  ccache,
	}
	if cfg.WASI {
		if err := e.InitWASI(ctx); err != nil {
			_ = e.Close(ctx)
			return nil, err
		}
	}
	Logger().Debug("wazero engine created",
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.Bool("metering", cfg.Metering),
		zap.Bool("canonicalize_nans", cfg.CanonicalizeNaNs),
		zap.Bool("interpreter", cfg.Interpreter))
	return e, nil
}

// Compile instruments wasm according to the engine configuration and
// compiles it. Instrumentation failures are *errors.Error values; wazero
// compile failures are returned unwrapped.
func (e *WazeroEngine) Compile(ctx context.Context, wasm []byte) (Module, error) {
	bin := wasm
	var fuel string
	if e.cfg.Metering || e.cfg.CanonicalizeNaNs {
		res, err := instrument.Apply(wasm, instrument.Options{
			Fuel:             e.cfg.Metering,
			CanonicalizeNaNs: e.cfg.CanonicalizeNaNs,
			InitialFuel:      e.cfg.InitialFuel,
		})
		if err != nil {
			return nil, err
		}
		bin, fuel = res.Binary, res.FuelGlobal
		debugf("instrumented module: %d charges, %d NaN guards", res.Charges, res.Canonicalized)
	}

	compiled, err := e.runtime.CompileModule(ctx, bin)
	if err != nil {
		return nil, err
	}
	return &WazeroModule{engine: e, compiled: compiled, fuelGlobal: fuel}, nil
}

// DefineHostModule instantiates a host module exporting funcs with the
// bridge signature.
func (e *WazeroEngine) DefineHostModule(ctx context.Context, name string, funcs map[string]HostFunc) error {
	if e.runtime.Module(name) != nil {
		return errors.InvalidInput(errors.PhaseInstantiate, fmt.Sprintf("host module %q already defined", name))
	}

	names := make([]string, 0, len(funcs))
	for n := range funcs {
		names = append(names, n)
	}
	sort.Strings(names)

	builder := e.runtime.NewHostModuleBuilder(name)
	params := []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}
	results := []api.ValueType{api.ValueTypeI64}
	for _, n := range names {
		fn := funcs[n]
		builder = builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				caller := newInstance(mod, mod.ExportedGlobal(instrument.FuelGlobal) != nil, false)
				stack[0] = fn(ctx, caller, api.DecodeU32(stack[0]), api.DecodeU32(stack[1]))
			}), params, results).
			WithName(n).
			Export(n)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Wrap(errors.PhaseInstantiate, errors.KindInstantiation, err, fmt.Sprintf("host module %q", name))
	}
	Logger().Debug("host module defined", zap.String("module", name), zap.Strings("functions", names))
	return nil
}

func (e *WazeroEngine) Close(ctx context.Context) error {
	err := e.runtime.Close(ctx)
	if e.ccache != nil {
		if cerr := e.ccache.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// WazeroModule is a compiled WASM module
type WazeroModule struct {
	engine     *WazeroEngine
	compiled   wazero.CompiledModule
	fuelGlobal string
}

// Instantiate creates an anonymous instance. Reactor modules have their
// _initialize export run first.
func (m *WazeroModule) Instantiate(ctx context.Context) (Instance, error) {
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions(initializeExport)

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, err
	}
	return newInstance(mod, m.fuelGlobal != "", true), nil
}

func (m *WazeroModule) Exports() []FunctionInfo {
	return functionInfos(m.compiled.ExportedFunctions(), false)
}

func (m *WazeroModule) Imports() []FunctionInfo {
	defs := m.compiled.ImportedFunctions()
	byName := make(map[string]api.FunctionDefinition, len(defs))
	for _, d := range defs {
		mod, name, _ := d.Import()
		byName[mod+"\x00"+name] = d
	}
	return functionInfos(byName, true)
}

func functionInfos(defs map[string]api.FunctionDefinition, imports bool) []FunctionInfo {
	out := make([]FunctionInfo, 0, len(defs))
	for name, d := range defs {
		info := FunctionInfo{Name: name, Params: d.ParamTypes(), Results: d.ResultTypes()}
		if imports {
			info.Module, info.Name, _ = d.Import()
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Module != out[j].Module {
			return out[i].Module < out[j].Module
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (m *WazeroModule) Metered() bool { return m.fuelGlobal != "" }

func (m *WazeroModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// WazeroInstance is an instantiated module. Host functions receive a view
// of the calling module that does not own it.
type WazeroInstance struct {
	mod    api.Module
	memory *WazeroMemory
	fuel   api.MutableGlobal
	owned  bool
}

func newInstance(mod api.Module, metered, owned bool) *WazeroInstance {
	inst := &WazeroInstance{mod: mod, owned: owned}
	if mem := mod.ExportedMemory("memory"); mem != nil {
		inst.memory = &WazeroMemory{mem: mem}
	}
	if metered {
		if g, ok := mod.ExportedGlobal(instrument.FuelGlobal).(api.MutableGlobal); ok {
			inst.fuel = g
		}
	}
	return inst
}

// Call invokes an export. Abnormal termination is reported as *Trap.
func (i *WazeroInstance) Call(ctx context.Context, name string, args ...uint64) ([]uint64, error) {
	if i.mod == nil {
		return nil, errors.Closed(errors.PhaseCall, "instance")
	}
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "function", name)
	}
	res, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, i.trap(name, err)
	}
	return res, nil
}

func (i *WazeroInstance) trap(name string, err error) *Trap {
	t := &Trap{Function: name, Cause: err}
	if i.fuel != nil && i.fuel.Get() == instrument.Exhausted {
		t.Exhausted = true
	}
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		code := exit.ExitCode()
		t.ExitCode = &code
	}
	return t
}

func (i *WazeroInstance) Function(name string) (FunctionInfo, bool) {
	if i.mod == nil {
		return FunctionInfo{}, false
	}
	fn := i.mod.ExportedFunction(name)
	if fn == nil {
		return FunctionInfo{}, false
	}
	d := fn.Definition()
	return FunctionInfo{Name: name, Params: d.ParamTypes(), Results: d.ResultTypes()}, true
}

func (i *WazeroInstance) HasFunction(name string) bool {
	return i.mod != nil && i.mod.ExportedFunction(name) != nil
}

func (i *WazeroInstance) Memory() wasmbridge.Memory {
	if i.memory == nil {
		return nil
	}
	return i.memory
}

func (i *WazeroInstance) SetFuel(fuel uint64) bool {
	if i.fuel == nil {
		return false
	}
	i.fuel.Set(fuel)
	return true
}

func (i *WazeroInstance) Fuel() (uint64, bool) {
	if i.fuel == nil {
		return 0, false
	}
	return i.fuel.Get(), true
}

// Close closes an owned instance. Views handed to host functions are not
// closed.
func (i *WazeroInstance) Close(ctx context.Context) error {
	if !i.owned || i.mod == nil {
		return nil
	}
	err := i.mod.Close(ctx)
	i.mod = nil
	i.memory = nil
	i.fuel = nil
	return err
}

// Compile-time checks
var (
	_ Provider = (*WazeroEngine)(nil)
	_ Module   = (*WazeroModule)(nil)
	_ Instance = (*WazeroInstance)(nil)
)
