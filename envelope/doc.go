// Package envelope implements the framed wire unit exchanged across the
// host/guest boundary.
//
// An envelope is a 12-byte header followed by the payload:
//
//	"AI" | version | flags | payload_len (u32 LE) | crc32 (u32 LE) | payload
//
// Decode checks magic, version, length and checksum, and reports every
// malformed input as a *DecodeError; it never panics or reads past the
// buffer. Flags are exposed as stored. Compression and encryption are
// applied to the payload before framing, so the checksum covers the stored
// bytes; see the transform subpackage.
//
// Writer and Reader provide little-endian primitives for building payloads
// without a serialization runtime, and Failure is the payload layout used
// by is-error envelopes.
package envelope
