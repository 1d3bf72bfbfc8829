package transform

import (
	"github.com/klauspost/compress/zstd"

	"github.com/wippyai/wasm-bridge/envelope"
)

// DefaultMaxDecoded bounds the size of a decompressed payload.
const DefaultMaxDecoded = 64 << 20

// Zstd compresses payloads with zstandard. It is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd creates a compressor. maxDecoded caps decompressed output; zero
// selects DefaultMaxDecoded.
func NewZstd(level zstd.EncoderLevel, maxDecoded uint64) (*Zstd, error) {
	if maxDecoded == 0 {
		maxDecoded = DefaultMaxDecoded
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecoded), zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Flag() envelope.Flags { return envelope.FlagCompressed }

func (z *Zstd) Apply(payload []byte) ([]byte, error) {
	return z.enc.EncodeAll(payload, make([]byte, 0, len(payload)/2+16)), nil
}

func (z *Zstd) Reverse(payload []byte) ([]byte, error) {
	return z.dec.DecodeAll(payload, nil)
}

// Close releases encoder and decoder resources.
func (z *Zstd) Close() error {
	z.dec.Close()
	return z.enc.Close()
}
