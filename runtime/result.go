package runtime

import "github.com/wippyai/wasm-bridge/envelope"

// Result is a call that completed the protocol. Payload is host-owned and
// has had transforms removed. An application failure is a Result with
// IsError set, never a Go error.
type Result struct {
	Payload []byte
	// Flags are the response header flags as stored.
	Flags envelope.Flags
	// FuelConsumed is the fuel spent by the call, 0 when unmetered.
	FuelConsumed uint64
}

// IsError reports whether the guest answered with an is-error envelope.
func (r *Result) IsError() bool { return r.Flags.Has(envelope.FlagIsError) }

// Failure decodes the diagnostic of an is-error result.
func (r *Result) Failure() (envelope.Failure, bool) {
	if !r.IsError() {
		return envelope.Failure{}, false
	}
	return envelope.ParseFailure(r.Payload), true
}

// CallOptions tunes a single call.
type CallOptions struct {
	// Flags are set on the request envelope in addition to transform bits.
	Flags envelope.Flags
}

type CallOption func(*CallOptions)

// WithFlags sets request envelope flags, e.g. envelope.FlagExpectsResponse.
func WithFlags(f envelope.Flags) CallOption {
	return func(o *CallOptions) { o.Flags |= f }
}
