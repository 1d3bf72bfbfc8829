package guest

import (
	"github.com/wippyai/wasm-bridge/envelope"
	"github.com/wippyai/wasm-bridge/envelope/transform"
	"github.com/wippyai/wasm-bridge/errors"
)

// Handler processes one request payload. A returned envelope.Failure
// selects the failure code; any other error is reported as
// envelope.CodeGuestCall.
type Handler func(payload []byte) ([]byte, error)

// Serve decodes input, runs h and returns the encoded response, allocated
// in a. The result is always a complete envelope: decode errors, handler
// errors and encode errors become is-error envelopes.
func Serve(a *Arena, input []byte, h Handler, ts ...transform.Transform) []byte {
	req, err := transform.Open(input, ts...)
	if err != nil {
		return EncodeErr(a, envelope.CodeDeserialization, err.Error())
	}

	out, err := h(req.Payload)
	if err != nil {
		f := failureOf(err)
		return EncodeErr(a, f.Code, f.Message)
	}

	resp, err := EncodeOK(a, out, ts...)
	if err != nil {
		return EncodeErr(a, envelope.CodeSerialization, err.Error())
	}
	return resp
}

// EncodeOK frames payload in a success envelope allocated in a, applying
// ts first.
func EncodeOK(a *Arena, payload []byte, ts ...transform.Transform) ([]byte, error) {
	if len(ts) > 0 {
		sealed, err := transform.Seal(payload, 0, ts...)
		if err != nil {
			return nil, err
		}
		return a.Copy(sealed), nil
	}
	if uint64(len(payload)) > envelope.MaxPayloadLen {
		return nil, errors.InvalidInput(errors.PhaseEncode, "response payload exceeds the envelope length field")
	}
	buf := a.Alloc(envelope.EncodedSize(len(payload)))
	return envelope.AppendEncode(buf[:0], payload, 0)
}

// EncodeErr frames a failure payload in an is-error envelope allocated
// in a. Failure payloads are never transformed.
func EncodeErr(a *Arena, code envelope.Code, message string) []byte {
	f := envelope.Failure{Code: code, Message: message}
	payload := f.AppendTo(make([]byte, 0, 4+len(message)))
	buf := a.Alloc(envelope.EncodedSize(len(payload)))
	out, err := envelope.AppendEncode(buf[:0], payload, envelope.FlagIsError)
	if err != nil {
		// Only a message near 4 GiB gets here; drop it and keep the code.
		out, _ = envelope.AppendEncode(buf[:0], envelope.Failure{Code: code}.Bytes(), envelope.FlagIsError)
	}
	return out
}

func failureOf(err error) envelope.Failure {
	var f envelope.Failure
	if errors.As(err, &f) {
		return f
	}
	var fp *envelope.Failure
	if errors.As(err, &fp) && fp != nil {
		return *fp
	}
	return envelope.Failure{Code: envelope.CodeGuestCall, Message: err.Error()}
}
