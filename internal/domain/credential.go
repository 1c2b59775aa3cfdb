package domain

import "time"

// OTPVerifiedSentinel replaces the OTP code once a challenge has been
// consumed. It is never a valid issuable code (issued codes are 8 digits)
// and must never be accepted as a verification match.
const OTPVerifiedSentinel int64 = 1

// TemporaryCredential is the short-lived credential issued at invite time.
// The password is sealed with reversible encryption because the exchange
// compares it in plaintext. The OTP challenge lives on this record: a
// credential is per-invitation, so the challenge it gates is too.
type TemporaryCredential struct {
	ID                int64
	UserID            int64
	OrgID             int64
	SealedPassword    string
	PasswordExpiresAt time.Time

	// OTP challenge state. OTPCode == 0 means no challenge has been
	// issued; OTPCode == OTPVerifiedSentinel means the challenge was
	// consumed and OTPExpiresAt is nil.
	OTPCode      int64
	OTPExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PasswordExpired reports whether the temporary password window has closed.
func (c TemporaryCredential) PasswordExpired(now time.Time) bool {
	return now.After(c.PasswordExpiresAt)
}

// OTPPending reports whether an unconsumed challenge exists on the record.
func (c TemporaryCredential) OTPPending() bool {
	return c.OTPCode != 0 && c.OTPCode != OTPVerifiedSentinel
}

// OTPVerified reports whether the challenge was already consumed.
func (c TemporaryCredential) OTPVerified() bool {
	return c.OTPCode == OTPVerifiedSentinel
}

// OTPExpired reports whether a pending challenge's window has closed.
// A consumed challenge has no expiry and never reports expired.
func (c TemporaryCredential) OTPExpired(now time.Time) bool {
	return c.OTPExpiresAt != nil && now.After(*c.OTPExpiresAt)
}
