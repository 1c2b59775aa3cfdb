package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
)

// ECB implements the legacy invite-form wire format: standard base64 over
// raw AES-ECB blocks with PKCS#7 padding. ECB leaks plaintext structure and
// carries no integrity; it obfuscates form fields in transit and nothing
// more. New transports should use GCM.
type ECB struct {
	block cipher.Block
}

var _ Codec = (*ECB)(nil)

// NewECB builds the legacy codec from a raw AES key (16/24/32 bytes).
func NewECB(key []byte) (*ECB, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	return &ECB{block: block}, nil
}

// Encode encrypts plaintext block by block and returns standard base64.
func (c *ECB) Encode(plaintext string) (string, error) {
	if c == nil || c.block == nil {
		return "", fmt.Errorf("codec is not configured")
	}
	padded := padPKCS7([]byte(plaintext), c.block.BlockSize())
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += c.block.BlockSize() {
		c.block.Encrypt(out[i:], padded[i:])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decode reverses Encode. Malformed base64 and ciphertext whose length is
// not a multiple of the block size fail with a DecodeError.
func (c *ECB) Decode(opaque string) (string, error) {
	if c == nil || c.block == nil {
		return "", fmt.Errorf("codec is not configured")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", decodeErrf("malformed base64")
	}
	size := c.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%size != 0 {
		return "", decodeErrf("ciphertext length %d is not a multiple of the block size", len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += size {
		c.block.Decrypt(out[i:], ciphertext[i:])
	}
	return string(unpad(out, size)), nil
}

func padPKCS7(b []byte, size int) []byte {
	n := size - len(b)%size
	padded := make([]byte, len(b)+n)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(n)
	}
	return padded
}

// unpad strips PKCS#7 padding. Legacy producers zero-pad instead, so when
// the trailing byte is not valid PKCS#7 the trailing NUL bytes are trimmed.
func unpad(b []byte, size int) []byte {
	if len(b) == 0 {
		return b
	}
	n := int(b[len(b)-1])
	if n > 0 && n <= size && n <= len(b) {
		valid := true
		for _, p := range b[len(b)-n:] {
			if int(p) != n {
				valid = false
				break
			}
		}
		if valid {
			return b[:len(b)-n]
		}
	}
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
