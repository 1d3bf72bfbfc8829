package envelope

import (
	"fmt"
	"hash/crc32"
)

// Envelope is a decoded header and its payload. Payload aliases the buffer
// passed to Decode; copy it before that buffer is reused.
type Envelope struct {
	Header  Header
	Payload []byte
}

// Flags returns the header flags.
func (e Envelope) Flags() Flags { return e.Header.Flags }

// IsError reports whether the envelope carries an application failure.
func (e Envelope) IsError() bool { return e.Header.Flags.Has(FlagIsError) }

// Size returns the encoded size of the envelope.
func (e Envelope) Size() int { return HeaderSize + int(e.Header.PayloadLen) }

// Checksum computes the integrity code stored in the header.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// EncodedSize returns the size of an envelope carrying n payload bytes.
func EncodedSize(n int) int { return HeaderSize + n }

// Encode frames payload with a version 1 header. Reserved flag bits are
// cleared. It fails only when payload exceeds MaxPayloadLen.
func Encode(payload []byte, flags Flags) ([]byte, error) {
	return AppendEncode(make([]byte, 0, EncodedSize(len(payload))), payload, flags)
}

// AppendEncode is Encode writing into dst.
func AppendEncode(dst, payload []byte, flags Flags) ([]byte, error) {
	if uint64(len(payload)) > MaxPayloadLen {
		return dst, &DecodeError{
			Kind:   KindPayloadTooLarge,
			Detail: fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), uint64(MaxPayloadLen)),
		}
	}
	h := Header{
		Version:    Version,
		Flags:      flags &^ ReservedMask,
		PayloadLen: uint32(len(payload)),
		Checksum:   Checksum(payload),
	}
	dst = h.AppendTo(dst)
	return append(dst, payload...), nil
}

// Decode validates magic, version, length and checksum, in that order.
// Bytes after the payload are ignored. Flags are exposed as stored; undoing
// transforms is up to the caller.
func Decode(b []byte) (Envelope, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return Envelope{}, err
	}
	end := uint64(HeaderSize) + uint64(h.PayloadLen)
	if uint64(len(b)) < end {
		return Envelope{}, newDecodeError(KindTruncated, "payload_len %d, have %d bytes", h.PayloadLen, len(b)-HeaderSize)
	}
	payload := b[HeaderSize:end:end]
	if sum := Checksum(payload); sum != h.Checksum {
		return Envelope{}, newDecodeError(KindChecksumMismatch, "header 0x%08x, computed 0x%08x", h.Checksum, sum)
	}
	return Envelope{Header: h, Payload: payload}, nil
}
