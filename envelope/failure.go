package envelope

import (
	"strconv"
)

// Code is the diagnostic code carried by an is-error payload.
type Code uint32

const (
	CodeUnknown Code = iota
	CodeSerialization
	CodeDeserialization
	CodeMemory
	CodeHostCall
	CodeGuestCall
	CodeValidation
	CodeTimeout
	CodePermissionDenied
)

var codeNames = [...]string{
	CodeUnknown:          "unknown",
	CodeSerialization:    "serialization",
	CodeDeserialization:  "deserialization",
	CodeMemory:           "memory",
	CodeHostCall:         "host_call",
	CodeGuestCall:        "guest_call",
	CodeValidation:       "validation",
	CodeTimeout:          "timeout",
	CodePermissionDenied: "permission_denied",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "code_" + strconv.FormatUint(uint64(c), 10)
}

// Failure is the payload of an is-error envelope: a u32 little-endian code
// followed by a UTF-8 message.
type Failure struct {
	Code    Code
	Message string
}

func (f Failure) Error() string {
	if f.Message == "" {
		return f.Code.String()
	}
	return f.Code.String() + ": " + f.Message
}

// Bytes encodes the failure payload.
func (f Failure) Bytes() []byte {
	return f.AppendTo(make([]byte, 0, 4+len(f.Message)))
}

func (f Failure) AppendTo(dst []byte) []byte {
	w := NewWriter(dst)
	w.U32(uint32(f.Code))
	w.buf = append(w.buf, f.Message...)
	return w.Bytes()
}

// ParseFailure decodes a failure payload. Payloads too short to hold a
// code are read as CodeUnknown with the raw bytes as the message.
func ParseFailure(payload []byte) Failure {
	r := NewReader(payload)
	code := r.U32()
	if r.Err() != nil {
		return Failure{Code: CodeUnknown, Message: string(payload)}
	}
	return Failure{Code: Code(code), Message: string(r.Raw(r.Remaining()))}
}

// EncodeFailure frames a failure payload in an is-error envelope.
func EncodeFailure(code Code, message string) ([]byte, error) {
	return Encode(Failure{Code: code, Message: message}.Bytes(), FlagIsError)
}
