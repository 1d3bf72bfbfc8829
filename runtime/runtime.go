package runtime

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/cache"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
)

const (
	allocExport = "bridge_alloc"
	resetExport = "bridge_reset"
)

// Store resolves named modules to their bytes and content key.
type Store interface {
	Load(name string) (key string, wasm []byte, err error)
}

// Engine drives metered guest calls. It owns one provider context and one
// module cache and is safe for concurrent use.
type Engine struct {
	cfg        Config
	provider   engine.Provider
	ownsProv   bool
	cache      *cache.Cache[engine.Module]
	hosts      *HostRegistry
	store      Store
	transforms []transform.Transform
	log        *zap.Logger
	closed     atomic.Bool
	counters   counters
}

type counters struct {
	calls      atomic.Uint64
	appErrors  atomic.Uint64
	exhausted  atomic.Uint64
	traps      atomic.Uint64
	violations atomic.Uint64
}

// Stats is a snapshot of engine and cache counters.
type Stats struct {
	Cache              cache.Stats
	Calls              uint64
	ApplicationErrors  uint64
	MeteringExceeded   uint64
	GuestTraps         uint64
	ProtocolViolations uint64
}

type options struct {
	logger     *zap.Logger
	provider   engine.Provider
	store      Store
	hosts      []Host
	funcs      map[string]HostFunc
	transforms []transform.Transform
}

type Option func(*options)

// WithLogger scopes the engine's logging. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithProvider substitutes the module-execution provider. The provider is
// not closed by Engine.Close, and its metering configuration must match
// Config.MeteringLimit.
func WithProvider(p engine.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithStore enables CompileStored.
func WithStore(s Store) Option {
	return func(o *options) { o.store = s }
}

// WithHostFunc exports fn to guests as Config.HostModule.name.
func WithHostFunc(name string, fn HostFunc) Option {
	return func(o *options) {
		if o.funcs == nil {
			o.funcs = make(map[string]HostFunc)
		}
		o.funcs[name] = fn
	}
}

// WithHost registers the methods of h under h.Namespace().
func WithHost(h Host) Option {
	return func(o *options) { o.hosts = append(o.hosts, h) }
}

// WithTransforms seals requests and host responses with ts and opens
// responses and host requests with them. Guests must use the same list.
func WithTransforms(ts ...transform.Transform) Option {
	return func(o *options) { o.transforms = append(o.transforms, ts...) }
}

// New builds an Engine. Host functions are bound to the provider here, so
// every module instantiated later can import them.
func New(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("runtime")

	e := &Engine{
		cfg:        cfg,
		provider:   o.provider,
		store:      o.store,
		hosts:      NewHostRegistry(),
		transforms: o.transforms,
		log:        log,
	}

	if e.provider == nil {
		var pages uint32
		if cfg.StaticMemoryBound > 0 {
			pages = engine.PagesForBytes(cfg.StaticMemoryBound)
		}
		p, err := engine.NewWazeroEngine(ctx, engine.Config{
			MemoryLimitPages:    pages,
			Metering:            cfg.Metered(),
			InitialFuel:         cfg.MeteringLimit,
			CanonicalizeNaNs:    cfg.CanonicalizeNaNs,
			CompilationCacheDir: cfg.CompilationCacheDir,
			CloseOnContextDone:  cfg.CloseOnContextDone || cfg.CallTimeout > 0,
			Interpreter:         cfg.Interpreter,
			WASI:                cfg.WASI,
		})
		if err != nil {
			return nil, errors.Load("create engine", err)
		}
		e.provider = p
		e.ownsProv = true
	}

	c, err := cache.New[engine.Module](cache.Options{
		Capacity: cfg.CacheSize,
		Unit:     cfg.CacheUnit,
		Logger:   log,
	}, e.provider.Compile)
	if err != nil {
		e.closeProvider(ctx)
		return nil, err
	}
	e.cache = c

	if err := e.registerHosts(o); err != nil {
		e.closeProvider(ctx)
		return nil, err
	}
	if err := e.hosts.bind(ctx, e.provider, e.hostAdapter); err != nil {
		e.closeProvider(ctx)
		return nil, errors.Wrap(errors.PhaseHost, errors.KindInstantiation, err, "bind host functions")
	}

	log.Info("engine ready",
		zap.Uint64("metering_limit", cfg.MeteringLimit),
		zap.Bool("canonicalize_nans", cfg.CanonicalizeNaNs),
		zap.Uint64("cache_size", cfg.CacheSize),
		zap.String("cache_unit", string(cfg.CacheUnit)),
		zap.Uint64("static_memory_bound", cfg.StaticMemoryBound),
		zap.Strings("host_modules", e.hosts.Namespaces()))
	return e, nil
}

func (e *Engine) registerHosts(o options) error {
	for name, fn := range o.funcs {
		if err := e.hosts.RegisterFunc(e.cfg.HostModule, name, fn); err != nil {
			return err
		}
	}
	for _, h := range o.hosts {
		if err := e.hosts.RegisterHost(h); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) closeProvider(ctx context.Context) {
	if !e.ownsProv {
		return
	}
	if err := e.provider.Close(ctx); err != nil {
		e.log.Warn("close provider", zap.Error(err))
	}
}

// Config returns the configuration the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// Hosts returns the host function registry. It is read-only after New.
func (e *Engine) Hosts() *HostRegistry { return e.hosts }

// CompileCached returns the module cached under key, compiling wasm on a
// miss. An empty key uses the content hash of wasm. The caller must
// Release the module.
func (e *Engine) CompileCached(ctx context.Context, key string, wasm []byte) (*Module, error) {
	if e.closed.Load() {
		return nil, errors.Closed(errors.PhaseCompile, "engine")
	}
	if key == "" {
		key = cache.ContentKey(wasm)
	}
	h, err := e.cache.GetOrCompile(ctx, key, wasm)
	if err != nil {
		return nil, e.compileError(ctx, key, err)
	}
	return &Module{key: key, handle: h}, nil
}

func (e *Engine) compileError(ctx context.Context, key string, err error) error {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return err
	}
	if _, ok := errors.KindOf(err); ok {
		return errors.WithCall(err, errors.PhaseCompile, key, "")
	}
	return errors.Compilation(key, err)
}

// CompileStored compiles the module registered under name in the store,
// keyed by its content so renamed copies share one compilation.
func (e *Engine) CompileStored(ctx context.Context, name string) (*Module, error) {
	if e.store == nil {
		return nil, errors.InvalidInput(errors.PhaseLoad, "engine has no module store")
	}
	key, wasm, err := e.store.Load(name)
	if err != nil {
		return nil, err
	}
	return e.CompileCached(ctx, key, wasm)
}

// Instantiate creates an instance of m with host imports wired. The
// instance keeps m's compiled module alive until it is closed.
func (e *Engine) Instantiate(ctx context.Context, m *Module) (*Instance, error) {
	if e.closed.Load() {
		return nil, errors.Closed(errors.PhaseInstantiate, "engine")
	}
	if m.released.Load() {
		return nil, errors.Closed(errors.PhaseInstantiate, "module "+m.key)
	}
	h, ok := m.handle.Acquire()
	if !ok {
		return nil, errors.Closed(errors.PhaseInstantiate, "module "+m.key)
	}
	mod := h.Module()
	if e.cfg.Metered() && !mod.Metered() {
		h.Release()
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "provider does not meter modules but a metering limit is set")
	}

	inst, err := mod.Instantiate(ctx)
	if err != nil {
		h.Release()
		e.log.Warn("instantiate failed", zap.String("module", m.key), zap.Error(err))
		return nil, errors.Instantiation(m.key, err)
	}
	return &Instance{engine: e, key: m.key, inst: inst, handle: h}, nil
}

// CallRaw runs function on inst with payload and classifies the outcome.
// See Instance.Call.
func (e *Engine) CallRaw(ctx context.Context, inst *Instance, function string, payload []byte, opts ...CallOption) (*Result, error) {
	return inst.Call(ctx, function, payload, opts...)
}

// Run compiles (or reuses) wasm under key, calls function on a fresh
// instance and tears the instance down.
func (e *Engine) Run(ctx context.Context, key string, wasm []byte, function string, payload []byte, opts ...CallOption) (*Result, error) {
	m, err := e.CompileCached(ctx, key, wasm)
	if err != nil {
		return nil, err
	}
	defer m.Release()

	inst, err := e.Instantiate(ctx, m)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := inst.Close(ctx); err != nil {
			e.log.Warn("close instance", zap.String("module", m.key), zap.Error(err))
		}
	}()
	return inst.Call(ctx, function, payload, opts...)
}

func (e *Engine) Stats() Stats {
	return Stats{
		Cache:              e.cache.Stats(),
		Calls:              e.counters.calls.Load(),
		ApplicationErrors:  e.counters.appErrors.Load(),
		MeteringExceeded:   e.counters.exhausted.Load(),
		GuestTraps:         e.counters.traps.Load(),
		ProtocolViolations: e.counters.violations.Load(),
	}
}

// Close tears down the cache and, unless supplied by WithProvider, the
// provider. Instances should be closed first.
func (e *Engine) Close(ctx context.Context) error {
	if e.closed.Swap(true) {
		return nil
	}
	err := e.cache.Close(ctx)
	if e.ownsProv {
		if perr := e.provider.Close(ctx); perr != nil && err == nil {
			err = perr
		}
	}
	e.log.Info("engine closed")
	return err
}
