package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-onboarding/internal/codec"
	"github.com/smallbiznis/valora-onboarding/internal/credential"
	"github.com/smallbiznis/valora-onboarding/internal/domain"
	outmail "github.com/smallbiznis/valora-onboarding/internal/mail"
	"github.com/smallbiznis/valora-onboarding/internal/repository"
)

// VerifyResult is the outcome of a successful or idempotent verification.
type VerifyResult struct {
	OrganizationID  int64
	AlreadyVerified bool
}

// LoginService implements the temporary-password exchange and the OTP
// challenge lifecycle.
type LoginService struct {
	users     repository.UserRepository
	creds     repository.CredentialRepository
	transport codec.Codec
	storage   codec.Codec
	gen       *credential.Generator
	mailer    outmail.Mailer
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewLoginService wires dependencies.
func NewLoginService(
	users repository.UserRepository,
	creds repository.CredentialRepository,
	transport codec.Codec,
	storage codec.Codec,
	gen *credential.Generator,
	mailer outmail.Mailer,
	logger *zap.Logger,
) *LoginService {
	return &LoginService{
		users:     users,
		creds:     creds,
		transport: transport,
		storage:   storage,
		gen:       gen,
		mailer:    mailer,
		logger:    logger,
		tracer:    otel.Tracer("github.com/smallbiznis/valora-onboarding/internal/service"),
	}
}

// TemporaryLogin exchanges a temporary password for a fresh OTP challenge.
// Both inputs arrive in the transport codec's opaque form. A wrong
// password and a wrong email produce the same outcome so callers cannot
// enumerate accounts. The challenge is persisted only after its mail has
// been dispatched: a delivery failure leaves no half-issued challenge.
func (s *LoginService) TemporaryLogin(ctx context.Context, encodedEmail, encodedPassword string) error {
	ctx, span := s.startSpan(ctx, "LoginService.TemporaryLogin")
	defer span.End()

	var errs fieldErrors
	email := s.decodeLoginField(&errs, "email", encodedEmail)
	password := s.decodeLoginField(&errs, "password", encodedPassword)
	if email != "" && !validEmail(email) {
		errs.add("email", "The email must be a valid email address.")
	}
	if err := errs.err(); err != nil {
		return err
	}

	user, cred, err := s.lookup(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Indistinguishable from a wrong password.
			return errInvalidCredentials
		}
		span.RecordError(err)
		s.log().Error("load credential failed", zap.Error(err))
		return serverError(lookupFailureMessage)
	}

	now := s.gen.Clock()
	if cred.PasswordExpired(now) {
		return errInviteExpired
	}

	stored, err := s.storage.Decode(cred.SealedPassword)
	if err != nil {
		span.RecordError(err)
		s.log().Error("unseal temporary password failed", zap.Int64("credential_id", cred.ID), zap.Error(err))
		return serverError(lookupFailureMessage)
	}

	passwordMatch := subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1
	if !passwordMatch || email != user.Email {
		return errInvalidCredentials
	}

	code, err := s.gen.OTP()
	if err != nil {
		s.log().Error("generate otp failed", zap.Error(err))
		return serverError(lookupFailureMessage)
	}

	msg, err := outmail.OTPNotice(code)
	if err == nil {
		err = s.mailer.Send(ctx, user.Email, msg)
	}
	if err != nil {
		span.RecordError(err)
		s.log().Error("send otp mail failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return notificationError("We were unable to send the OTP. Please check your email or try again later.")
	}

	if err := s.creds.SetOTP(ctx, cred.ID, code, s.gen.ExpiryFrom(now)); err != nil {
		span.RecordError(err)
		s.log().Error("persist otp failed", zap.Int64("credential_id", cred.ID), zap.Error(err))
		return serverError(lookupFailureMessage)
	}

	s.audit("otp.issued", "org_id", cred.OrgID, "user_id", user.ID)
	return nil
}

// ResendOTP re-dispatches the pending challenge code without rotating it.
// Resend is gated on the temporary-password window, not the OTP's own
// expiry: it is only meaningful while the invitation itself is open.
func (s *LoginService) ResendOTP(ctx context.Context, email string) error {
	ctx, span := s.startSpan(ctx, "LoginService.ResendOTP")
	defer span.End()

	var errs fieldErrors
	switch {
	case email == "":
		errs.add("email", "The email field is required.")
	case !validEmail(email):
		errs.add("email", "The email must be a valid email address.")
	}
	if err := errs.err(); err != nil {
		return err
	}

	user, cred, err := s.lookup(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return errNoCredentials
		}
		span.RecordError(err)
		s.log().Error("load credential failed", zap.Error(err))
		return serverError(lookupFailureMessage)
	}

	if !cred.OTPPending() {
		return errNoCredentials
	}
	if cred.PasswordExpired(s.gen.Clock()) {
		return errPasswordExpired
	}

	msg, err := outmail.OTPNotice(cred.OTPCode)
	if err == nil {
		err = s.mailer.Send(ctx, user.Email, msg)
	}
	if err != nil {
		span.RecordError(err)
		s.log().Error("resend otp mail failed", zap.Int64("user_id", user.ID), zap.Error(err))
		return notificationError("We were unable to resend the OTP. Please check your email or try again later.")
	}

	s.audit("otp.resent", "org_id", cred.OrgID, "user_id", user.ID)
	return nil
}

// VerifyOTP consumes a pending challenge. Expiry is checked before the
// code comparison, so the right code after the window still reports
// expired. The sentinel transition is a compare-and-set: under concurrent
// duplicate submissions exactly one caller verifies and the rest observe
// AlreadyVerified.
func (s *LoginService) VerifyOTP(ctx context.Context, email string, code int64) (VerifyResult, error) {
	ctx, span := s.startSpan(ctx, "LoginService.VerifyOTP")
	defer span.End()

	var errs fieldErrors
	switch {
	case email == "":
		errs.add("email", "The email field is required.")
	case !validEmail(email):
		errs.add("email", "The email must be a valid email address.")
	}
	if code < credential.OTPMin || code >= credential.OTPMax {
		errs.add("otp", "The otp must be 8 digits.")
	}
	if err := errs.err(); err != nil {
		return VerifyResult{}, err
	}

	user, cred, err := s.lookup(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return VerifyResult{}, errNoCredentials
		}
		span.RecordError(err)
		s.log().Error("load credential failed", zap.Error(err))
		return VerifyResult{}, serverError(lookupFailureMessage)
	}

	if cred.OTPExpired(s.gen.Clock()) {
		return VerifyResult{}, errOTPExpired
	}

	if cred.OTPPending() && cred.OTPCode == code {
		consumed, err := s.creds.ConsumeOTP(ctx, cred.ID, code)
		if err != nil {
			span.RecordError(err)
			s.log().Error("consume otp failed", zap.Int64("credential_id", cred.ID), zap.Error(err))
			return VerifyResult{}, serverError(lookupFailureMessage)
		}
		if consumed {
			s.audit("otp.verified", "org_id", cred.OrgID, "user_id", user.ID)
			return VerifyResult{OrganizationID: cred.OrgID}, nil
		}
		// Lost the race: re-read to tell a concurrent verification apart
		// from a challenge that was replaced underneath us.
		fresh, err := s.creds.GetByUserID(ctx, user.ID)
		if err == nil && fresh.OTPVerified() {
			return VerifyResult{OrganizationID: cred.OrgID, AlreadyVerified: true}, nil
		}
		return VerifyResult{}, errInvalidOTP
	}

	if cred.OTPVerified() {
		return VerifyResult{OrganizationID: cred.OrgID, AlreadyVerified: true}, nil
	}

	return VerifyResult{}, errInvalidOTP
}

func (s *LoginService) lookup(ctx context.Context, email string) (domain.User, domain.TemporaryCredential, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return domain.User{}, domain.TemporaryCredential{}, err
	}
	cred, err := s.creds.GetByUserID(ctx, user.ID)
	if err != nil {
		return domain.User{}, domain.TemporaryCredential{}, err
	}
	return user, cred, nil
}

func (s *LoginService) decodeLoginField(errs *fieldErrors, field, opaque string) string {
	if opaque == "" {
		errs.add(field, "The "+field+" field is required.")
		return ""
	}
	plaintext, err := s.transport.Decode(opaque)
	if err != nil {
		errs.add(field, "The "+field+" field could not be decoded.")
		return ""
	}
	trimmed := strings.TrimSpace(plaintext)
	if trimmed == "" {
		errs.add(field, "The "+field+" field is required.")
	}
	return trimmed
}

func (s *LoginService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *LoginService) audit(event string, attrs ...any) {
	auditLog(s.log(), event, attrs...)
}

func (s *LoginService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}
