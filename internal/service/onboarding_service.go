package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-onboarding/internal/codec"
	"github.com/smallbiznis/valora-onboarding/internal/credential"
	"github.com/smallbiznis/valora-onboarding/internal/domain"
	"github.com/smallbiznis/valora-onboarding/internal/invitelink"
	outmail "github.com/smallbiznis/valora-onboarding/internal/mail"
	"github.com/smallbiznis/valora-onboarding/internal/repository"
)

const maxFieldLength = 255

// InviteRequest carries the six invite fields as submitted, each still in
// the transport codec's opaque form.
type InviteRequest struct {
	Name        string
	DomainName  string
	AdminName   string
	AdminEmail  string
	LoginType   string
	SSOProvider string
}

// OnboardingService provisions organizations and validates invite links.
type OnboardingService struct {
	onboardings repository.OnboardingRepository
	orgs        repository.OrgRepository
	users       repository.UserRepository
	creds       repository.CredentialRepository
	transport   codec.Codec
	storage     codec.Codec
	gen         *credential.Generator
	links       *invitelink.Signer
	mailer      outmail.Mailer
	snowflake   *snowflake.Node
	inviteTTL   time.Duration
	logger      *zap.Logger
	tracer      trace.Tracer
}

// NewOnboardingService wires dependencies.
func NewOnboardingService(
	onboardings repository.OnboardingRepository,
	orgs repository.OrgRepository,
	users repository.UserRepository,
	creds repository.CredentialRepository,
	transport codec.Codec,
	storage codec.Codec,
	gen *credential.Generator,
	links *invitelink.Signer,
	mailer outmail.Mailer,
	node *snowflake.Node,
	inviteTTL time.Duration,
	logger *zap.Logger,
) *OnboardingService {
	return &OnboardingService{
		onboardings: onboardings,
		orgs:        orgs,
		users:       users,
		creds:       creds,
		transport:   transport,
		storage:     storage,
		gen:         gen,
		links:       links,
		mailer:      mailer,
		snowflake:   node,
		inviteTTL:   inviteTTL,
		logger:      logger,
		tracer:      otel.Tracer("github.com/smallbiznis/valora-onboarding/internal/service"),
	}
}

// Invite provisions an organization, its admin user, a temporary
// credential, and a login type as one atomic unit, then mints the invite
// link and dispatches the invitation mail. Mail dispatch runs strictly
// after commit: its failure surfaces as a notification error while the
// created records stand.
func (s *OnboardingService) Invite(ctx context.Context, req InviteRequest) (domain.Organization, error) {
	ctx, span := s.startSpan(ctx, "OnboardingService.Invite")
	defer span.End()

	fields, err := s.decodeInvite(req)
	if err != nil {
		return domain.Organization{}, err
	}

	if err := s.validateInviteFields(ctx, fields); err != nil {
		return domain.Organization{}, err
	}

	name := normalize(fields.name)
	domainName := normalize(fields.domainName)
	adminName := normalize(fields.adminName)

	password, err := s.gen.TemporaryPassword()
	if err != nil {
		s.log().Error("generate temporary password failed", zap.Error(err))
		return domain.Organization{}, serverError(inviteFailureMessage)
	}
	sealed, err := s.storage.Encode(password)
	if err != nil {
		s.log().Error("seal temporary password failed", zap.Error(err))
		return domain.Organization{}, serverError(inviteFailureMessage)
	}

	now := s.gen.Clock()
	rec := repository.OnboardingRecord{
		Org: domain.Organization{
			ID:         s.snowflake.Generate().Int64(),
			Name:       name,
			DomainName: domainName,
		},
		User: domain.User{
			ID:    s.snowflake.Generate().Int64(),
			Name:  adminName,
			Email: fields.adminEmail,
		},
		Credential: domain.TemporaryCredential{
			ID:                s.snowflake.Generate().Int64(),
			SealedPassword:    sealed,
			PasswordExpiresAt: s.gen.ExpiryFrom(now),
		},
		Login: domain.LoginType{
			ID:          s.snowflake.Generate().Int64(),
			LoginType:   fields.loginType,
			SSOProvider: fields.ssoProvider,
		},
	}

	org, err := s.onboardings.CreateOnboarding(ctx, rec)
	if err != nil {
		span.RecordError(err)
		return domain.Organization{}, s.mapOnboardingError(err)
	}

	inviteURL := s.links.Mint(org.DomainName, s.inviteTTL)
	msg, err := outmail.Invitation(inviteURL, password, adminName)
	if err == nil {
		err = s.mailer.Send(ctx, fields.adminEmail, msg)
	}
	if err != nil {
		s.log().Error("send invitation mail failed",
			zap.Int64("org_id", org.ID),
			zap.String("domain_name", org.DomainName),
			zap.Error(err))
		return org, notificationError("Organization was created but the invitation could not be delivered. Please retry the notification later.")
	}

	s.audit("organization.invited", "org_id", org.ID, "domain_name", org.DomainName)
	return org, nil
}

// ValidateInvite checks a presented invite link. The signature check and
// the organization/credential-expiry check both always run; link validity
// is the tighter of the signature TTL and the credential's own expiry.
func (s *OnboardingService) ValidateInvite(ctx context.Context, domainName, expiresRaw, signature string) error {
	ctx, span := s.startSpan(ctx, "OnboardingService.ValidateInvite")
	defer span.End()

	expires, parseErr := strconv.ParseInt(expiresRaw, 10, 64)
	if parseErr != nil {
		return errInvalidLink
	}
	sigErr := s.links.Verify(domainName, expires, signature)

	var credErr error
	org, err := s.orgs.GetByDomain(ctx, domainName)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		credErr = errNoCredentials
	case err != nil:
		span.RecordError(err)
		s.log().Error("load organization failed", zap.String("domain_name", domainName), zap.Error(err))
		return serverError(lookupFailureMessage)
	default:
		cred, err := s.creds.GetByOrgID(ctx, org.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			credErr = errNoCredentials
		case err != nil:
			span.RecordError(err)
			s.log().Error("load temporary credential failed", zap.Int64("org_id", org.ID), zap.Error(err))
			return serverError(lookupFailureMessage)
		case cred.PasswordExpired(s.gen.Clock()):
			credErr = errInviteExpired
		}
	}

	switch {
	case errors.Is(sigErr, invitelink.ErrBadSignature):
		return errInvalidLink
	case credErr != nil:
		return credErr
	case errors.Is(sigErr, invitelink.ErrExpired):
		return errInviteExpired
	}
	return nil
}

// Organizations lists every organization with its users and role names.
func (s *OnboardingService) Organizations(ctx context.Context) ([]domain.OrganizationSummary, error) {
	ctx, span := s.startSpan(ctx, "OnboardingService.Organizations")
	defer span.End()

	summaries, err := s.orgs.List(ctx)
	if err != nil {
		span.RecordError(err)
		s.log().Error("list organizations failed", zap.Error(err))
		return nil, serverError(lookupFailureMessage)
	}
	return summaries, nil
}

const (
	inviteFailureMessage = "Unable to invite the organization at this time. Please try again later."
	lookupFailureMessage = "Unable to fetch organizations at this time. Please try again later."
)

type inviteFields struct {
	name        string
	domainName  string
	adminName   string
	adminEmail  string
	loginType   string
	ssoProvider string
}

func (s *OnboardingService) decodeInvite(req InviteRequest) (inviteFields, error) {
	var (
		fields inviteFields
		errs   fieldErrors
	)
	fields.name = s.decodeField(&errs, "name", req.Name)
	fields.domainName = s.decodeField(&errs, "domain_name", req.DomainName)
	fields.adminName = s.decodeField(&errs, "admin_name", req.AdminName)
	fields.adminEmail = s.decodeField(&errs, "admin_email", req.AdminEmail)
	fields.loginType = s.decodeField(&errs, "login_type", req.LoginType)
	fields.ssoProvider = s.decodeField(&errs, "sso_provider", req.SSOProvider)
	return fields, errs.err()
}

// decodeField runs a non-empty opaque value through the transport codec.
// An absent field stays empty so the required-field validation reports it
// cleanly instead of decoding garbage.
func (s *OnboardingService) decodeField(errs *fieldErrors, field, opaque string) string {
	if opaque == "" {
		return ""
	}
	plaintext, err := s.transport.Decode(opaque)
	if err != nil {
		errs.add(field, fmt.Sprintf("The %s field could not be decoded.", field))
		return ""
	}
	return strings.TrimSpace(plaintext)
}

func (s *OnboardingService) validateInviteFields(ctx context.Context, fields inviteFields) error {
	var errs fieldErrors
	requireBounded(&errs, "name", fields.name)
	requireBounded(&errs, "domain_name", fields.domainName)
	requireBounded(&errs, "admin_name", fields.adminName)
	requireBounded(&errs, "login_type", fields.loginType)

	switch {
	case fields.adminEmail == "":
		errs.add("admin_email", "The admin_email field is required.")
	case !validEmail(fields.adminEmail):
		errs.add("admin_email", "The admin_email must be a valid email address.")
	}

	// Pre-checks only smooth the error message; the unique constraints
	// inside the onboarding transaction stay authoritative.
	if fields.domainName != "" {
		taken, err := s.orgs.DomainExists(ctx, normalize(fields.domainName))
		if err != nil {
			s.log().Error("check domain uniqueness failed", zap.Error(err))
			return serverError(inviteFailureMessage)
		}
		if taken {
			errs.add("domain_name", "The domain_name has already been taken.")
		}
	}
	if validEmail(fields.adminEmail) {
		taken, err := s.users.EmailExists(ctx, fields.adminEmail)
		if err != nil {
			s.log().Error("check email uniqueness failed", zap.Error(err))
			return serverError(inviteFailureMessage)
		}
		if taken {
			errs.add("admin_email", "The admin_email has already been taken.")
		}
	}
	return errs.err()
}

func (s *OnboardingService) mapOnboardingError(err error) error {
	switch {
	case errors.Is(err, repository.ErrDomainTaken):
		return &ValidationError{Fields: []FieldError{{Field: "domain_name", Message: "The domain_name has already been taken."}}}
	case errors.Is(err, repository.ErrEmailTaken):
		return &ValidationError{Fields: []FieldError{{Field: "admin_email", Message: "The admin_email has already been taken."}}}
	case errors.Is(err, repository.ErrRoleNotFound):
		s.log().Error("admin role is not configured", zap.Error(err))
		return serverError(inviteFailureMessage)
	default:
		s.log().Error("persist onboarding failed", zap.Error(err))
		return serverError(inviteFailureMessage)
	}
}

func requireBounded(errs *fieldErrors, field, value string) {
	switch {
	case value == "":
		errs.add(field, fmt.Sprintf("The %s field is required.", field))
	case len(value) > maxFieldLength:
		errs.add(field, fmt.Sprintf("The %s may not be greater than %d characters.", field, maxFieldLength))
	}
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxFieldLength {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// normalize lowercases and strips everything outside [a-z0-9].
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *OnboardingService) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if s == nil || s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return s.tracer.Start(ctx, name)
}

func (s *OnboardingService) audit(event string, attrs ...any) {
	auditLog(s.log(), event, attrs...)
}

func (s *OnboardingService) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func auditLog(logger *zap.Logger, event string, attrs ...any) {
	if logger == nil {
		return
	}
	fields := make([]zap.Field, 0, len(attrs)/2+2)
	fields = append(fields, zap.String("event", event), zap.Time("timestamp", time.Now().UTC()))
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, attrs[i+1]))
	}
	logger.Info("audit", fields...)
}
