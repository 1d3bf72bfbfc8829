package transform

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/wippyai/wasm-bridge/envelope"
)

// ErrShortCiphertext is returned when an encrypted payload cannot hold a
// nonce and tag.
var ErrShortCiphertext = errors.New("ciphertext too short")

// ChaCha20Poly1305 encrypts payloads with XChaCha20-Poly1305. The random
// 24-byte nonce is prepended to the sealed payload.
type ChaCha20Poly1305 struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305 creates an encryptor from a 32-byte key.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &ChaCha20Poly1305{aead: aead}, nil
}

func (c *ChaCha20Poly1305) Flag() envelope.Flags { return envelope.FlagEncrypted }

func (c *ChaCha20Poly1305) Apply(payload []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	out := make([]byte, ns, ns+len(payload)+c.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, err
	}
	return c.aead.Seal(out, out[:ns], payload, nil), nil
}

func (c *ChaCha20Poly1305) Reverse(payload []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(payload) < ns+c.aead.Overhead() {
		return nil, ErrShortCiphertext
	}
	return c.aead.Open(nil, payload[:ns], payload[ns:], nil)
}
