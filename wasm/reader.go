package wasm

import (
	"fmt"
	"unicode/utf8"
)

// Reader walks a byte slice holding binary-format data. Results that are
// slices alias the input.
type Reader struct {
	b   []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

// Len returns the number of unread bytes.
func (r *Reader) Len() int { return len(r.b) - r.off }

func (r *Reader) EOF() bool { return r.off >= len(r.b) }

// Rest returns the unread bytes without consuming them.
func (r *Reader) Rest() []byte { return r.b[r.off:] }

func (r *Reader) Byte() (byte, error) {
	if r.off >= len(r.b) {
		return 0, ErrUnexpectedEnd
	}
	c := r.b[r.off]
	r.off++
	return c, nil
}

func (r *Reader) Peek() (byte, error) {
	if r.off >= len(r.b) {
		return 0, ErrUnexpectedEnd
	}
	return r.b[r.off], nil
}

func (r *Reader) U32() (uint32, error) {
	v, n, err := DecodeULEB128(r.b[r.off:], 32)
	if err != nil {
		return 0, r.wrap(err)
	}
	r.off += n
	return uint32(v), nil
}

func (r *Reader) U64() (uint64, error) {
	v, n, err := DecodeULEB128(r.b[r.off:], 64)
	if err != nil {
		return 0, r.wrap(err)
	}
	r.off += n
	return v, nil
}

func (r *Reader) S32() (int32, error) {
	v, n, err := DecodeSLEB128(r.b[r.off:], 32)
	if err != nil {
		return 0, r.wrap(err)
	}
	r.off += n
	return int32(v), nil
}

// S33 reads the signed 33-bit encoding used by block types.
func (r *Reader) S33() (int64, error) {
	v, n, err := DecodeSLEB128(r.b[r.off:], 33)
	if err != nil {
		return 0, r.wrap(err)
	}
	r.off += n
	return v, nil
}

func (r *Reader) S64() (int64, error) {
	v, n, err := DecodeSLEB128(r.b[r.off:], 64)
	if err != nil {
		return 0, r.wrap(err)
	}
	r.off += n
	return v, nil
}

// Bytes consumes n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Len() < n {
		return nil, fmt.Errorf("at offset %d: need %d bytes, have %d: %w", r.off, n, r.Len(), ErrUnexpectedEnd)
	}
	v := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return v, nil
}

func (r *Reader) Skip(n int) error {
	_, err := r.Bytes(n)
	return err
}

// Name reads a length-prefixed UTF-8 name.
func (r *Reader) Name() (string, error) {
	n, err := r.U32()
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(r.Len()) {
		return "", fmt.Errorf("at offset %d: name of %d bytes: %w", r.off, n, ErrUnexpectedEnd)
	}
	b, _ := r.Bytes(int(n))
	if !utf8.Valid(b) {
		return "", fmt.Errorf("at offset %d: name is not valid UTF-8", r.off-int(n))
	}
	return string(b), nil
}

func (r *Reader) wrap(err error) error {
	return fmt.Errorf("at offset %d: %w", r.off, err)
}
