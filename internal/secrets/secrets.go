// Package secrets encrypts and decrypts PBX credentials at rest.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryption is wrapped into every failed Open so callers can tell a bad
// ciphertext apart from a credential the PBX itself rejects.
var ErrDecryption = fmt.Errorf("decryption failed")

// Box seals and opens small secrets with XChaCha20-Poly1305. The nonce is
// prepended to the ciphertext.
type Box struct {
	key []byte
}

// NewBox expects a base64-encoded 32-byte key.
func NewBox(b64Key string) (*Box, error) {
	key, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes", chacha20poly1305.KeySize)
	}
	return &Box{key: key}, nil
}

func (b *Box) Seal(plain string) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, []byte(plain), nil), nil
}

func (b *Box) Open(data []byte) (string, error) {
	aead, err := chacha20poly1305.NewX(b.key)
	if err != nil {
		return "", err
	}
	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short: %w", ErrDecryption)
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrDecryption)
	}
	return string(plain), nil
}
