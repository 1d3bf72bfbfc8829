package envelope

import "fmt"

// ErrorKind classifies codec failures.
type ErrorKind uint8

const (
	KindBadMagic ErrorKind = iota + 1
	KindUnsupportedVersion
	KindTruncated
	KindChecksumMismatch
	KindPayloadTooLarge
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadMagic:
		return "bad magic"
	case KindUnsupportedVersion:
		return "unsupported version"
	case KindTruncated:
		return "truncated"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindPayloadTooLarge:
		return "payload too large"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DecodeError is returned by every codec operation. Compare with the
// sentinel values using errors.Is; the match is on Kind only.
type DecodeError struct {
	Kind   ErrorKind
	Detail string
}

var (
	ErrBadMagic           = &DecodeError{Kind: KindBadMagic}
	ErrUnsupportedVersion = &DecodeError{Kind: KindUnsupportedVersion}
	ErrTruncated          = &DecodeError{Kind: KindTruncated}
	ErrChecksumMismatch   = &DecodeError{Kind: KindChecksumMismatch}
	ErrPayloadTooLarge    = &DecodeError{Kind: KindPayloadTooLarge}
)

func newDecodeError(kind ErrorKind, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return "envelope: " + e.Kind.String()
	}
	return "envelope: " + e.Kind.String() + ": " + e.Detail
}

func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}
