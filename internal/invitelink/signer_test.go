package invitelink_test

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/valora-onboarding/internal/invitelink"
)

var (
	secret  = []byte("invite-signing-secret")
	baseURL = "http://localhost:3000"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mintParams(t *testing.T, link string) (domain string, expires int64, signature string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	expires, err = strconv.ParseInt(q.Get("expires"), 10, 64)
	require.NoError(t, err)
	return q.Get("domain"), expires, q.Get("signature")
}

func TestMintAndVerify(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := invitelink.NewSignerAt(secret, baseURL, fixedClock(now))

	link := signer.Mint("acmecorp", time.Hour)
	require.Contains(t, link, baseURL+"/invite/validate?")

	domain, expires, signature := mintParams(t, link)
	require.Equal(t, "acmecorp", domain)
	require.Equal(t, now.Add(time.Hour).Unix(), expires)
	require.NoError(t, signer.Verify(domain, expires, signature))
}

func TestVerifyRejectsTamperedDomain(t *testing.T) {
	now := time.Now()
	signer := invitelink.NewSignerAt(secret, baseURL, fixedClock(now))

	_, expires, signature := mintParams(t, signer.Mint("acmecorp", time.Hour))
	require.ErrorIs(t, signer.Verify("evilcorp", expires, signature), invitelink.ErrBadSignature)
}

func TestVerifyRejectsTamperedExpiry(t *testing.T) {
	now := time.Now()
	signer := invitelink.NewSignerAt(secret, baseURL, fixedClock(now))

	domain, expires, signature := mintParams(t, signer.Mint("acmecorp", time.Hour))
	require.ErrorIs(t, signer.Verify(domain, expires+3600, signature), invitelink.ErrBadSignature)
}

func TestVerifyRejectsExpiredLink(t *testing.T) {
	minted := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := invitelink.NewSignerAt(secret, baseURL, fixedClock(minted))
	domain, expires, signature := mintParams(t, signer.Mint("acmecorp", time.Hour))

	late := invitelink.NewSignerAt(secret, baseURL, fixedClock(minted.Add(2*time.Hour)))
	require.ErrorIs(t, late.Verify(domain, expires, signature), invitelink.ErrExpired)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	now := time.Now()
	signer := invitelink.NewSignerAt(secret, baseURL, fixedClock(now))
	domain, expires, signature := mintParams(t, signer.Mint("acmecorp", time.Hour))

	other := invitelink.NewSignerAt([]byte("other-secret"), baseURL, fixedClock(now))
	require.ErrorIs(t, other.Verify(domain, expires, signature), invitelink.ErrBadSignature)
}
