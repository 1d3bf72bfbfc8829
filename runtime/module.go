package runtime

import (
	"sync/atomic"

	"github.com/wippyai/wasm-bridge/cache"
	"github.com/wippyai/wasm-bridge/engine"
)

// Module is a counted reference to a cached compiled module.
type Module struct {
	key      string
	handle   *cache.Handle[engine.Module]
	released atomic.Bool
}

// Key returns the cache key the module was compiled under.
func (m *Module) Key() string { return m.key }

// Exports lists exported functions. Application exports satisfy
// FunctionInfo.IsBridge.
func (m *Module) Exports() []engine.FunctionInfo {
	return m.handle.Module().Exports()
}

// Imports lists imported functions.
func (m *Module) Imports() []engine.FunctionInfo {
	return m.handle.Module().Imports()
}

// Metered reports whether instances run under a fuel budget.
func (m *Module) Metered() bool {
	return m.handle.Module().Metered()
}

// Release drops the reference. Instances already created stay usable.
func (m *Module) Release() {
	if m.released.Swap(true) {
		return
	}
	m.handle.Release()
}
