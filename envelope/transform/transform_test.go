package transform

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-bridge/envelope"
)

func newZstd(t *testing.T) *Zstd {
	t.Helper()
	z, err := NewZstd(zstd.SpeedDefault, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = z.Close() })
	return z
}

func newAEAD(t *testing.T) *ChaCha20Poly1305 {
	t.Helper()
	c, err := NewChaCha20Poly1305(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	return c
}

func TestSealOpenCompressed(t *testing.T) {
	z := newZstd(t)
	payload := bytes.Repeat([]byte("telemetry-sample;"), 200)

	sealed, err := Seal(payload, envelope.FlagExpectsResponse, z)
	require.NoError(t, err)
	assert.Less(t, len(sealed), len(payload))

	raw, err := envelope.Decode(sealed)
	require.NoError(t, err)
	assert.True(t, raw.Flags().Has(envelope.FlagCompressed|envelope.FlagExpectsResponse))

	env, err := Open(sealed, z)
	require.NoError(t, err)
	assert.Equal(t, payload, env.Payload)
	assert.True(t, env.Flags().Has(envelope.FlagCompressed))
}

func TestSealOpenCompressedAndEncrypted(t *testing.T) {
	z, c := newZstd(t), newAEAD(t)
	payload := []byte("sensor=42;sensor=43;sensor=44")

	sealed, err := Seal(payload, 0, z, c)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "sensor")

	env, err := Open(sealed, z, c)
	require.NoError(t, err)
	assert.Equal(t, payload, env.Payload)
}

func TestOpenChecksumBeforeTransforms(t *testing.T) {
	c := newAEAD(t)
	sealed, err := Seal([]byte("secret"), 0, c)
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0x01
	_, err = Open(sealed, c)
	assert.ErrorIs(t, err, envelope.ErrChecksumMismatch)
}

func TestOpenMissingTransform(t *testing.T) {
	z := newZstd(t)
	sealed, err := Seal([]byte("data"), 0, z)
	require.NoError(t, err)

	_, err = Open(sealed)
	assert.ErrorContains(t, err, "no transform registered for compressed")
}

func TestOpenSkipsUnflaggedTransforms(t *testing.T) {
	z := newZstd(t)
	plain, err := envelope.Encode([]byte("plain"), 0)
	require.NoError(t, err)

	env, err := Open(plain, z)
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), env.Payload)
}

func TestSealRejectsDoubleFlag(t *testing.T) {
	z := newZstd(t)
	_, err := Seal([]byte("x"), envelope.FlagCompressed, z)
	assert.Error(t, err)
}

func TestAEADWrongKey(t *testing.T) {
	c := newAEAD(t)
	other, err := NewChaCha20Poly1305(bytes.Repeat([]byte{0x07}, 32))
	require.NoError(t, err)

	sealed, err := Seal([]byte("secret"), 0, c)
	require.NoError(t, err)

	_, err = Open(sealed, other)
	assert.Error(t, err)
}

func TestAEADShortCiphertext(t *testing.T) {
	c := newAEAD(t)
	_, err := c.Reverse([]byte("tiny"))
	assert.ErrorIs(t, err, ErrShortCiphertext)

	_, err = NewChaCha20Poly1305([]byte("short key"))
	assert.Error(t, err)
}

func TestAEADNonceIsRandom(t *testing.T) {
	c := newAEAD(t)
	a, err := c.Apply([]byte("same"))
	require.NoError(t, err)
	b, err := c.Apply([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
