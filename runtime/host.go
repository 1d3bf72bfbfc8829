package runtime

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	wasmbridge "github.com/wippyai/wasm-bridge"
	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
)

// HostFunc handles a guest-to-host call. req is the request payload with
// transforms removed. A returned error travels back to the guest as an
// is-error envelope; return an envelope.Failure to choose its code.
type HostFunc func(ctx context.Context, req []byte) ([]byte, error)

// Host is the interface for struct-based host modules.
// Exported methods with the HostFunc signature are registered.
type Host interface {
	// Namespace returns the import module name, e.g. "env".
	Namespace() string
}

// ExplicitRegistrar allows hosts to provide exact import names when
// automatic PascalCase-to-snake_case conversion doesn't apply.
type ExplicitRegistrar interface {
	Register() map[string]HostFunc
}

type HostRegistry struct {
	funcs map[string]map[string]HostFunc
	mu    sync.RWMutex
	bound bool
}

func NewHostRegistry() *HostRegistry {
	return &HostRegistry{
		funcs: make(map[string]map[string]HostFunc),
	}
}

var hostFuncType = reflect.TypeOf(HostFunc(nil))

func (r *HostRegistry) RegisterHost(h Host) error {
	ns := h.Namespace()
	if ns == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}

	if er, ok := h.(ExplicitRegistrar); ok {
		for name, fn := range er.Register() {
			if err := r.RegisterFunc(ns, name, fn); err != nil {
				return err
			}
		}
		return nil
	}

	rv := reflect.ValueOf(h)
	rt := rv.Type()
	registered := 0
	for i := 0; i < rt.NumMethod(); i++ {
		method := rt.Method(i)
		if !method.IsExported() || method.Name == "Namespace" {
			continue
		}
		bound := rv.Method(i)
		if !bound.Type().ConvertibleTo(hostFuncType) {
			continue
		}
		fn := bound.Convert(hostFuncType).Interface().(HostFunc)
		if err := r.RegisterFunc(ns, toSnakeCase(method.Name), fn); err != nil {
			return err
		}
		registered++
	}
	if registered == 0 {
		return errors.InvalidInput(errors.PhaseHost, "host "+ns+" has no methods with the HostFunc signature")
	}
	return nil
}

func (r *HostRegistry) RegisterFunc(namespace, name string, fn HostFunc) error {
	if namespace == "" {
		return errors.InvalidInput(errors.PhaseHost, "namespace cannot be empty")
	}
	if name == "" {
		return errors.InvalidInput(errors.PhaseHost, "function name cannot be empty")
	}
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, "handler cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bound {
		return errors.New(errors.PhaseHost, errors.KindClosed).
			Call(namespace, name).
			Detail("host functions are fixed once the engine is built").
			Build()
	}
	if r.funcs[namespace] == nil {
		r.funcs[namespace] = make(map[string]HostFunc)
	}
	r.funcs[namespace][name] = fn
	return nil
}

// Namespaces returns the registered import module names, sorted.
func (r *HostRegistry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.funcs))
	for ns := range r.funcs {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the handler registered for namespace.name.
func (r *HostRegistry) Lookup(namespace, name string) (HostFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[namespace][name]
	return fn, ok
}

// bind defines one host module per namespace. Registration closes afterwards.
func (r *HostRegistry) bind(ctx context.Context, p engine.Provider, adapt func(ns, name string, fn HostFunc) engine.HostFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bound = true

	for ns, funcs := range r.funcs {
		adapted := make(map[string]engine.HostFunc, len(funcs))
		for name, fn := range funcs {
			adapted[name] = adapt(ns, name, fn)
		}
		if err := p.DefineHostModule(ctx, ns, adapted); err != nil {
			return err
		}
	}
	return nil
}

// hostAdapter implements the bridge signature on top of a HostFunc: read
// the request envelope from the caller, run the handler and return a
// reference to the response allocated in the caller's arena.
//
// Handler failures and unreadable requests become is-error envelopes. Only
// a failure to hand the response back panics, which aborts the guest call.
func (e *Engine) hostAdapter(ns, name string, fn HostFunc) engine.HostFunc {
	log := e.log.With(zap.String("host_module", ns), zap.String("host_function", name))
	return func(ctx context.Context, caller engine.Instance, ptr, length uint32) uint64 {
		resp := e.serveHost(ctx, caller, fn, log, ptr, length)
		ref, err := writeGuest(ctx, caller, resp)
		if err != nil {
			log.Warn("host response not delivered", zap.Error(err))
			panic(errors.WithCall(err, errors.PhaseHost, ns, name))
		}
		return uint64(ref)
	}
}

func (e *Engine) serveHost(ctx context.Context, caller engine.Instance, fn HostFunc, log *zap.Logger, ptr, length uint32) []byte {
	mem := caller.Memory()
	if mem == nil {
		return failureEnvelope(envelope.CodeMemory, "guest exports no memory")
	}
	data, err := mem.Read(ptr, length)
	if err != nil {
		return failureEnvelope(envelope.CodeMemory, err.Error())
	}
	req, err := transform.Open(data, e.transforms...)
	if err != nil {
		return failureEnvelope(envelope.CodeDeserialization, err.Error())
	}
	// The payload may alias guest memory that the handler's own work
	// could invalidate.
	payload := append([]byte(nil), req.Payload...)

	out, err := fn(ctx, payload)
	if err != nil {
		log.Debug("host function failed", zap.Error(err))
		var f envelope.Failure
		if errors.As(err, &f) {
			return failureEnvelope(f.Code, f.Message)
		}
		return failureEnvelope(envelope.CodeHostCall, err.Error())
	}
	sealed, err := transform.Seal(out, 0, e.transforms...)
	if err != nil {
		return failureEnvelope(envelope.CodeSerialization, err.Error())
	}
	return sealed
}

// writeGuest copies data into a region obtained from the guest's
// bridge_alloc export.
func writeGuest(ctx context.Context, inst engine.Instance, data []byte) (wasmbridge.WasmRef, error) {
	mem := inst.Memory()
	if mem == nil {
		return 0, errors.InvalidData(errors.PhaseEncode, "guest exports no memory")
	}
	n := uint32(len(data))
	ptr, err := guestArena{ctx: ctx, inst: inst}.Alloc(n)
	if err != nil {
		return 0, err
	}
	if err := mem.Write(ptr, data); err != nil {
		return 0, err
	}
	return wasmbridge.NewRef(ptr, n), nil
}

func failureEnvelope(code envelope.Code, msg string) []byte {
	env, err := envelope.EncodeFailure(code, msg)
	if err != nil {
		// unreachable: failure payloads are far below MaxPayloadLen
		panic(err)
	}
	return env
}

// toSnakeCase converts PascalCase to snake_case.
// Handles acronyms: GetHTTPResponse -> get_http_response
func toSnakeCase(s string) string {
	if len(s) == 0 {
		return ""
	}

	runes := []rune(s)
	var result strings.Builder

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if unicode.IsUpper(r) {
			acronymEnd := i + 1
			for acronymEnd < len(runes) && unicode.IsUpper(runes[acronymEnd]) {
				acronymEnd++
			}

			if acronymEnd > i+1 {
				// Last uppercase before lowercase starts next word, not part of acronym
				if acronymEnd < len(runes) && unicode.IsLower(runes[acronymEnd]) {
					acronymEnd--
				}
			}

			if i > 0 {
				result.WriteByte('_')
			}

			for j := i; j < acronymEnd; j++ {
				result.WriteRune(unicode.ToLower(runes[j]))
			}
			i = acronymEnd - 1 // -1 because loop will increment
		} else {
			result.WriteRune(r)
		}
	}
	return result.String()
}
