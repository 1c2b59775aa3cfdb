package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// GCM is the authenticated codec: raw base64 over nonce||ciphertext. It
// seals the temporary password at rest and is the intended replacement for
// the ECB transport once clients migrate.
type GCM struct {
	aead cipher.AEAD
}

var _ Codec = (*GCM)(nil)

// NewGCM builds an AES-GCM codec from a raw AES key (16/24/32 bytes).
func NewGCM(key []byte) (*GCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &GCM{aead: aead}, nil
}

// Encode encrypts one plaintext value under a fresh nonce.
func (c *GCM) Encode(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("codec is not configured")
	}

	// GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	payload := append(nonce, ciphertext...)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Decode authenticates and decrypts a previously encoded value. Tampered
// payloads fail with a DecodeError.
func (c *GCM) Decode(opaque string) (string, error) {
	if c == nil || c.aead == nil {
		return "", fmt.Errorf("codec is not configured")
	}

	payload, err := base64.RawStdEncoding.DecodeString(opaque)
	if err != nil {
		return "", decodeErrf("malformed base64")
	}
	nonceSize := c.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", decodeErrf("payload is too short")
	}
	plaintext, err := c.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return "", decodeErrf("authentication failed")
	}
	return string(plaintext), nil
}
