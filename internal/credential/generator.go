// Package credential produces the temporary passwords, OTP codes, and
// expiry timestamps consumed by the onboarding flow.
package credential

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	// PasswordLength is the fixed length of issued temporary passwords.
	PasswordLength = 10

	// OTP codes are 8-digit integers in [OTPMin, OTPMax).
	OTPMin int64 = 10_000_000
	OTPMax int64 = 100_000_000
)

const passwordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-"

// Generator draws credentials from a cryptographically secure source.
// Source and Now are overridable so tests can run deterministically;
// zero values fall back to crypto/rand and the wall clock.
type Generator struct {
	Source io.Reader
	TTL    time.Duration
	Now    func() time.Time
}

// NewGenerator returns a production generator issuing credentials that
// expire ttl after issuance.
func NewGenerator(ttl time.Duration) *Generator {
	return &Generator{Source: rand.Reader, TTL: ttl, Now: time.Now}
}

func (g *Generator) source() io.Reader {
	if g != nil && g.Source != nil {
		return g.Source
	}
	return rand.Reader
}

// TemporaryPassword returns a fixed-length password over [A-Za-z0-9-].
func (g *Generator) TemporaryPassword() (string, error) {
	buf := make([]byte, PasswordLength)
	if _, err := io.ReadFull(g.source(), buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}

	var b strings.Builder
	b.Grow(PasswordLength)
	for _, c := range buf {
		b.WriteByte(passwordAlphabet[int(c)%len(passwordAlphabet)])
	}

	password := sanitizePassword(b.String())
	if password == "" {
		return "", fmt.Errorf("generated password is empty after sanitization")
	}
	return password, nil
}

// OTP returns an 8-digit challenge code drawn from the secure source.
func (g *Generator) OTP() (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(g.source(), buf[:]); err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	span := OTPMax - OTPMin
	n := int64(binary.BigEndian.Uint64(buf[:]) % uint64(span))
	return OTPMin + n, nil
}

// ExpiryFrom returns the expiry timestamp for a credential issued at now.
func (g *Generator) ExpiryFrom(now time.Time) time.Time {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return now.Add(ttl)
}

// Clock returns the generator's notion of current time.
func (g *Generator) Clock() time.Time {
	if g != nil && g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

func sanitizePassword(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
