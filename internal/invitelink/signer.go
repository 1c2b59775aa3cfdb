// Package invitelink mints and verifies the signed, expiring URLs that
// carry an invited administrator into the onboarding flow.
package invitelink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Validation failure reasons.
var (
	ErrBadSignature = fmt.Errorf("invite link: signature mismatch")
	ErrExpired      = fmt.Errorf("invite link: link expired")
)

// Signer signs the (domain, expires) query pair with a server-held secret.
// Tampering with either parameter invalidates the signature.
type Signer struct {
	secret  []byte
	baseURL string
	now     func() time.Time
}

// NewSigner builds a signer. baseURL is the externally reachable origin of
// the validation endpoint, injected from configuration.
func NewSigner(secret []byte, baseURL string) *Signer {
	return &Signer{secret: secret, baseURL: baseURL, now: time.Now}
}

// NewSignerAt is NewSigner with an injected clock, for tests.
func NewSignerAt(secret []byte, baseURL string, now func() time.Time) *Signer {
	return &Signer{secret: secret, baseURL: baseURL, now: now}
}

// Mint returns the signed invite URL for a domain, valid for ttl.
func (s *Signer) Mint(domainName string, ttl time.Duration) string {
	expires := s.now().Add(ttl).Unix()
	signature := s.sign(domainName, expires)

	q := url.Values{}
	q.Set("domain", domainName)
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", signature)
	return s.baseURL + "/invite/validate?" + q.Encode()
}

// Verify checks the presented signature and expiry. Both checks always
// run; an expired link with a bad signature reports the signature first.
func (s *Signer) Verify(domainName string, expires int64, signature string) error {
	if !hmac.Equal([]byte(s.sign(domainName, expires)), []byte(signature)) {
		return ErrBadSignature
	}
	if s.now().Unix() > expires {
		return ErrExpired
	}
	return nil
}

func (s *Signer) sign(domainName string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "domain=%s&expires=%d", domainName, expires)
	return hex.EncodeToString(mac.Sum(nil))
}
