package runtime

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wippyai/wasm-bridge/cache"
	"github.com/wippyai/wasm-bridge/errors"
)

const (
	// DefaultMeteringLimit is the fuel granted to each call.
	DefaultMeteringLimit uint64 = 100_000_000_000
	// DefaultCacheSize is the module cache capacity in DefaultCacheUnit.
	DefaultCacheSize uint64 = 64
	// DefaultStaticMemoryBound caps linear memory per instance at 1 GiB.
	DefaultStaticMemoryBound uint64 = 1 << 30
	// DefaultHostModule is the import module host functions are exported under.
	DefaultHostModule = "env"
)

// DefaultCacheUnit counts cache entries.
const DefaultCacheUnit = cache.UnitModules

// Config is read once by New. It is never reconfigured live.
type Config struct {
	// MeteringLimit is the fuel each call starts with. 0 disables metering.
	// The value 2^64-1 is reserved as the exhaustion sentinel.
	MeteringLimit uint64 `koanf:"metering_limit" json:"metering_limit" validate:"lt=18446744073709551615" jsonschema:"description=Fuel granted to each call; 0 disables metering"`

	// CanonicalizeNaNs makes float results bit-identical across hosts.
	CanonicalizeNaNs bool `koanf:"canonicalize_nans" json:"canonicalize_nans"`

	CacheSize uint64     `koanf:"cache_size" json:"cache_size" validate:"gt=0" jsonschema:"minimum=1"`
	CacheUnit cache.Unit `koanf:"cache_unit" json:"cache_unit" validate:"oneof=modules bytes" jsonschema:"enum=modules,enum=bytes"`

	// StaticMemoryBound caps each instance's linear memory in bytes, rounded
	// up to whole pages. 0 leaves the 4 GiB architectural limit.
	StaticMemoryBound uint64 `koanf:"static_memory_bound" json:"static_memory_bound" validate:"lte=4294967296" jsonschema:"maximum=4294967296"`

	// CallTimeout bounds wall-clock time per call. An overrun is reported as
	// a guest trap. 0 means no timeout.
	CallTimeout time.Duration `koanf:"call_timeout" json:"call_timeout" validate:"gte=0"`

	// CloseOnContextDone lets context cancellation stop a running guest.
	// It is implied by CallTimeout.
	CloseOnContextDone bool `koanf:"close_on_context_done" json:"close_on_context_done"`

	// CompilationCacheDir persists compiled machine code across processes.
	CompilationCacheDir string `koanf:"compilation_cache_dir" json:"compilation_cache_dir,omitempty"`

	// Interpreter runs guests in wazero's interpreter.
	Interpreter bool `koanf:"interpreter" json:"interpreter"`

	// WASI links wasi_snapshot_preview1 so wasip1 guests instantiate.
	WASI bool `koanf:"wasi" json:"wasi"`

	// HostModule names the import module of registered host functions
	// added with WithHostFunc.
	HostModule string `koanf:"host_module" json:"host_module" validate:"required"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MeteringLimit:     DefaultMeteringLimit,
		CanonicalizeNaNs:  true,
		CacheSize:         DefaultCacheSize,
		CacheUnit:         DefaultCacheUnit,
		StaticMemoryBound: DefaultStaticMemoryBound,
		HostModule:        DefaultHostModule,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "engine config")
	}
	return nil
}

// Metered reports whether calls run under a fuel budget.
func (c Config) Metered() bool { return c.MeteringLimit > 0 }
