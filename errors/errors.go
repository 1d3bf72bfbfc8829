package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // module compilation
	PhaseInstrument  Phase = "instrument"  // bytecode rewriting
	PhaseInstantiate Phase = "instantiate" // instance creation, import wiring
	PhaseCall        Phase = "call"        // guest invocation
	PhaseHost        Phase = "host"        // host function dispatch
	PhaseEncode      Phase = "encode"      // host to guest
	PhaseDecode      Phase = "decode"      // guest to host
	PhaseLoad        Phase = "load"        // module loading
	PhaseConfig      Phase = "config"      // configuration
	PhaseStore       Phase = "store"       // module persistence
)

// Kind categorizes the error
type Kind string

const (
	KindMeteringExceeded  Kind = "metering_exceeded"
	KindGuestTrap         Kind = "guest_trap"
	KindProtocolViolation Kind = "protocol_violation"
	KindCompilation       Kind = "compilation"
	KindInstantiation     Kind = "instantiation"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindInvalidData       Kind = "invalid_data"
	KindUnsupported       Kind = "unsupported"
	KindAllocation        Kind = "allocation"
	KindNotFound          Kind = "not_found"
	KindInvalidInput      Kind = "invalid_input"
	KindCapacity          Kind = "capacity"
	KindClosed            Kind = "closed"
)

// Error is the structured error type used throughout the bridge.
// Module and Function carry call context when the error belongs to a call.
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Module   string
	Function string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Module != "" || e.Function != "" {
		b.WriteString(" in ")
		if e.Module != "" {
			b.WriteString(e.Module)
		}
		if e.Function != "" {
			b.WriteString("#")
			b.WriteString(e.Function)
		}
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Call sets the module key and function name
func (b *Builder) Call(module, function string) *Builder {
	b.err.Module = module
	b.err.Function = function
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether any *Error in err's chain has the given kind,
// regardless of phase.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// WithCall tags err with call context. A top-level *Error is copied with
// empty context fields filled in; any other error is wrapped.
func WithCall(err error, phase Phase, module, function string) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		tagged := *e
		if tagged.Module == "" {
			tagged.Module = module
		}
		if tagged.Function == "" {
			tagged.Function = function
		}
		return &tagged
	}
	return &Error{
		Phase:    phase,
		Kind:     KindInvalidData,
		Module:   module,
		Function: function,
		Cause:    err,
	}
}

// Host outcome constructors

// MeteringExceeded reports a call stopped because its fuel ran out.
func MeteringExceeded(module, function string, limit uint64) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindMeteringExceeded,
		Module:   module,
		Function: function,
		Detail:   fmt.Sprintf("fuel limit %d exhausted", limit),
		Value:    limit,
	}
}

// GuestTrap reports a trap raised by the guest for any reason other than
// fuel exhaustion.
func GuestTrap(module, function string, cause error) *Error {
	return &Error{
		Phase:    PhaseCall,
		Kind:     KindGuestTrap,
		Module:   module,
		Function: function,
		Detail:   "guest trapped",
		Cause:    cause,
	}
}

// ProtocolViolation reports a guest that did not honor the memory contract.
func ProtocolViolation(module, function, detail string, cause error) *Error {
	return &Error{
		Phase:    PhaseDecode,
		Kind:     KindProtocolViolation,
		Module:   module,
		Function: function,
		Detail:   detail,
		Cause:    cause,
	}
}

// Compilation wraps a provider compile failure.
func Compilation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindCompilation,
		Module: module,
		Detail: "compile module",
		Cause:  cause,
	}
}

// Instantiation wraps a provider instantiation failure.
func Instantiation(module string, cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiation,
		Module: module,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Convenience constructors for common error patterns

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// OutOfBounds creates an out of bounds error for a guest memory range
func OutOfBounds(phase Phase, offset, length, size uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside memory of %d bytes", offset, uint64(offset)+uint64(length), size),
		Value:  offset,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed reports use of a released resource
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: what + " is closed",
	}
}

// Load creates a module loading error
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidData,
		Detail: detail,
		Cause:  cause,
	}
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }
