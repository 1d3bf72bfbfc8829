// Package transform provides the payload transforms signalled by the
// envelope's compressed and encrypted flag bits.
//
// Transforms run on the payload before framing, so the envelope checksum
// covers the transformed bytes. Open validates the checksum first and only
// then reverses the transforms whose flag bit is set.
package transform

import (
	"fmt"

	"github.com/wippyai/wasm-bridge/envelope"
)

// Transform is a reversible payload rewrite owning one flag bit.
type Transform interface {
	Flag() envelope.Flags
	Apply(payload []byte) ([]byte, error)
	Reverse(payload []byte) ([]byte, error)
}

// transformBits are the flag bits a transform may own.
const transformBits = envelope.FlagCompressed | envelope.FlagEncrypted

// Seal applies ts in order, sets their flag bits and frames the result.
func Seal(payload []byte, flags envelope.Flags, ts ...Transform) ([]byte, error) {
	var err error
	for _, t := range ts {
		if flags.Has(t.Flag()) {
			return nil, fmt.Errorf("transform: flag %s applied twice", t.Flag())
		}
		payload, err = t.Apply(payload)
		if err != nil {
			return nil, fmt.Errorf("transform %s: %w", t.Flag(), err)
		}
		flags = flags.With(t.Flag())
	}
	return envelope.Encode(payload, flags)
}

// Open decodes data and reverses the transforms flagged in its header, in
// the reverse of the order given. ts should list the same transforms, in
// the same order, as the Seal call that produced data. The returned
// envelope keeps the stored header; its payload is the restored bytes.
func Open(data []byte, ts ...Transform) (envelope.Envelope, error) {
	env, err := envelope.Decode(data)
	if err != nil {
		return envelope.Envelope{}, err
	}

	pending := env.Flags() & transformBits
	payload := env.Payload
	for i := len(ts) - 1; i >= 0; i-- {
		t := ts[i]
		if !pending.Has(t.Flag()) {
			continue
		}
		payload, err = t.Reverse(payload)
		if err != nil {
			return envelope.Envelope{}, fmt.Errorf("transform %s: %w", t.Flag(), err)
		}
		pending = pending.Without(t.Flag())
	}
	if pending != 0 {
		return envelope.Envelope{}, fmt.Errorf("transform: no transform registered for %s", pending)
	}

	env.Payload = payload
	return env, nil
}
