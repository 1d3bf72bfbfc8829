package envelope

import (
	"encoding/binary"
	"strings"
)

const (
	// Magic is the two-byte signature that opens every envelope, "AI" on the wire.
	Magic uint16 = 0x4149

	// Version is the wire format revision this codec writes and the highest
	// one it accepts.
	Version uint8 = 1

	// HeaderSize is the fixed size of the encoded header.
	HeaderSize = 12

	// MaxPayloadLen is the largest payload the 32-bit length field can describe.
	MaxPayloadLen = 1<<32 - 1
)

// Flags is the header bitset.
type Flags uint8

const (
	FlagCompressed      Flags = 1 << 0
	FlagEncrypted       Flags = 1 << 1
	FlagExpectsResponse Flags = 1 << 2
	FlagIsError         Flags = 1 << 3

	// ReservedMask covers bits 4-7. They are written as zero and preserved
	// when decoding.
	ReservedMask Flags = 0xF0
)

// Has reports whether every bit of f2 is set in f.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) With(f2 Flags) Flags { return f | f2 }

func (f Flags) Without(f2 Flags) Flags { return f &^ f2 }

// Reserved returns the reserved bits as received.
func (f Flags) Reserved() Flags { return f & ReservedMask }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	if f.Has(FlagCompressed) {
		parts = append(parts, "compressed")
	}
	if f.Has(FlagEncrypted) {
		parts = append(parts, "encrypted")
	}
	if f.Has(FlagExpectsResponse) {
		parts = append(parts, "expects-response")
	}
	if f.Has(FlagIsError) {
		parts = append(parts, "is-error")
	}
	if r := f.Reserved(); r != 0 {
		parts = append(parts, "reserved:"+hexByte(byte(r)))
	}
	return strings.Join(parts, "|")
}

func hexByte(b byte) string {
	const digits = "0123456789abcdef"
	return "0x" + string([]byte{digits[b>>4], digits[b&0x0f]})
}

// Header is the fixed 12-byte envelope prefix.
//
//	offset size field
//	0      2    magic "AI"
//	2      1    version
//	3      1    flags
//	4      4    payload_len (little-endian)
//	8      4    checksum    (little-endian CRC-32 of the stored payload)
type Header struct {
	Version    uint8
	Flags      Flags
	PayloadLen uint32
	Checksum   uint32
}

// AppendTo appends the encoded header to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, Magic)
	dst = append(dst, h.Version, byte(h.Flags))
	dst = binary.LittleEndian.AppendUint32(dst, h.PayloadLen)
	return binary.LittleEndian.AppendUint32(dst, h.Checksum)
}

// ParseHeader decodes and validates the header at the start of b. It
// checks magic and version as soon as enough bytes are present to do so,
// then requires the full header.
func ParseHeader(b []byte) (Header, error) {
	if len(b) >= 2 {
		if got := binary.BigEndian.Uint16(b); got != Magic {
			return Header{}, newDecodeError(KindBadMagic, "got 0x%04x, want 0x%04x", got, Magic)
		}
	}
	if len(b) >= 3 && b[2] > Version {
		return Header{}, newDecodeError(KindUnsupportedVersion, "version %d, supported up to %d", b[2], Version)
	}
	if len(b) < HeaderSize {
		return Header{}, newDecodeError(KindTruncated, "header needs %d bytes, have %d", HeaderSize, len(b))
	}
	return Header{
		Version:    b[2],
		Flags:      Flags(b[3]),
		PayloadLen: binary.LittleEndian.Uint32(b[4:8]),
		Checksum:   binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}
