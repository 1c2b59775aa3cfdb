// Package codec obfuscates and recovers the form fields that clients submit
// to the onboarding endpoints. Two implementations exist behind one
// interface: the legacy AES-ECB wire format that existing invite forms
// still produce, and an AES-GCM format that also seals the temporary
// password at rest.
package codec

import "fmt"

// Codec encodes a plaintext value into an opaque string and back.
type Codec interface {
	Encode(plaintext string) (string, error)
	Decode(opaque string) (string, error)
}

// DecodeError reports a malformed opaque value. It is always a client
// error: a payload that fails to decode never reaches validation.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode payload: %s", e.Reason)
}

func decodeErrf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}
