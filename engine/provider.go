package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	wasmbridge "github.com/wippyai/wasm-bridge"
)

// Provider compiles modules and owns the host modules they import.
type Provider interface {
	Compile(ctx context.Context, wasm []byte) (Module, error)
	// DefineHostModule exports funcs under a host module name. It must run
	// before instantiating guests that import them.
	DefineHostModule(ctx context.Context, name string, funcs map[string]HostFunc) error
	Close(ctx context.Context) error
}

// Module is a compiled module. It is immutable and may be instantiated
// concurrently.
type Module interface {
	Instantiate(ctx context.Context) (Instance, error)
	Exports() []FunctionInfo
	Imports() []FunctionInfo
	// Metered reports whether instances carry a fuel counter.
	Metered() bool
	Close(ctx context.Context) error
}

// Instance is one instantiation of a Module. It is not safe for concurrent
// calls.
type Instance interface {
	Call(ctx context.Context, name string, args ...uint64) ([]uint64, error)
	HasFunction(name string) bool
	// Function describes an export, or reports false if there is none.
	Function(name string) (FunctionInfo, bool)
	// Memory returns the exported linear memory, or nil if there is none.
	Memory() wasmbridge.Memory
	// SetFuel refills the fuel counter. It reports false for unmetered
	// instances.
	SetFuel(fuel uint64) bool
	Fuel() (uint64, bool)
	Close(ctx context.Context) error
}

// HostFunc implements an imported bridge function with the signature
// (ptr i32, len i32) -> i64. caller is a view of the calling instance.
// Panicking aborts the guest call with the panic value as its error.
type HostFunc func(ctx context.Context, caller Instance, ptr, length uint32) uint64

// FunctionInfo describes an exported or imported function.
type FunctionInfo struct {
	Module  string // import module, empty for exports
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
}

// IsBridge reports whether the function has the (i32, i32) -> i64 shape
// of the bridge calling convention.
func (f FunctionInfo) IsBridge() bool {
	return len(f.Params) == 2 && f.Params[0] == api.ValueTypeI32 && f.Params[1] == api.ValueTypeI32 &&
		len(f.Results) == 1 && f.Results[0] == api.ValueTypeI64
}

// Signature renders the function type, e.g. "(i32, i32) -> i64".
func (f FunctionInfo) Signature() string {
	return fmt.Sprintf("(%s) -> %s", typeList(f.Params), typeList(f.Results))
}

func typeList(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	if len(names) == 1 {
		return names[0]
	}
	return strings.Join(names, ", ")
}

// Trap is a guest call that stopped abnormally.
type Trap struct {
	Function string
	Cause    error
	// Exhausted is set when the trap was raised by fuel exhaustion.
	Exhausted bool
	// ExitCode is set when the guest called proc_exit.
	ExitCode *uint32
}

func (t *Trap) Error() string {
	switch {
	case t.Exhausted:
		return fmt.Sprintf("fuel exhausted in %s", t.Function)
	case t.ExitCode != nil:
		return fmt.Sprintf("%s exited with code %d", t.Function, *t.ExitCode)
	default:
		return fmt.Sprintf("trap in %s: %v", t.Function, t.Cause)
	}
}

func (t *Trap) Unwrap() error { return t.Cause }
