package wasm

import "errors"

// LEB128 encoding/decoding over byte slices

var (
	// ErrOverflow is returned when a LEB128 value exceeds the maximum bit width.
	ErrOverflow = errors.New("leb128: overflow")

	// ErrUnexpectedEnd is returned when input ends inside a value.
	ErrUnexpectedEnd = errors.New("wasm: unexpected end of input")
)

// DecodeULEB128 decodes an unsigned value of at most bits bits from the
// start of b and returns it with the number of bytes consumed.
func DecodeULEB128(b []byte, bits uint) (uint64, int, error) {
	var result uint64
	var shift uint
	for i, c := range b {
		if shift >= bits {
			return 0, 0, ErrOverflow
		}
		result |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			if bits < 64 && result>>bits != 0 {
				return 0, 0, ErrOverflow
			}
			return result, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrUnexpectedEnd
}

// DecodeSLEB128 decodes a signed value of at most bits bits from the start
// of b and returns it with the number of bytes consumed.
func DecodeSLEB128(b []byte, bits uint) (int64, int, error) {
	var result int64
	var shift uint
	for i, c := range b {
		if shift >= bits {
			return 0, 0, ErrOverflow
		}
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			// Sign extend
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
	}
	return 0, 0, ErrUnexpectedEnd
}

// AppendULEB128 appends the unsigned LEB128 encoding of v.
func AppendULEB128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// AppendSLEB128 appends the signed LEB128 encoding of v.
func AppendSLEB128(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendU32 is AppendULEB128 for 32-bit indices and counts.
func AppendU32(dst []byte, v uint32) []byte {
	return AppendULEB128(dst, uint64(v))
}

// AppendName appends a length-prefixed UTF-8 name.
func AppendName(dst []byte, name string) []byte {
	dst = AppendU32(dst, uint32(len(name)))
	return append(dst, name...)
}
