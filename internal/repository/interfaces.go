package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/valora-onboarding/internal/domain"
)

// Sentinel errors surfaced by implementations. Services translate these
// into the client-facing taxonomy.
var (
	ErrNotFound     = errors.New("repository: not found")
	ErrDomainTaken  = errors.New("repository: domain name already registered")
	ErrEmailTaken   = errors.New("repository: email already registered")
	ErrRoleNotFound = errors.New("repository: role not found")
)

// OnboardingRecord is the unit persisted by CreateOnboarding. IDs are
// assigned by the caller; RoleID on the user is resolved inside the
// transaction from domain.AdminRoleName.
type OnboardingRecord struct {
	Org        domain.Organization
	User       domain.User
	Credential domain.TemporaryCredential
	Login      domain.LoginType
}

// OnboardingRepository persists the invite unit atomically: either every
// row of the record exists afterwards, or none do.
type OnboardingRepository interface {
	CreateOnboarding(ctx context.Context, rec OnboardingRecord) (domain.Organization, error)
}

// OrgRepository reads organizations.
type OrgRepository interface {
	GetByDomain(ctx context.Context, domainName string) (domain.Organization, error)
	DomainExists(ctx context.Context, domainName string) (bool, error)
	List(ctx context.Context) ([]domain.OrganizationSummary, error)
}

// UserRepository reads users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
}

// RoleRepository reads and seeds roles.
type RoleRepository interface {
	GetByName(ctx context.Context, name string) (domain.Role, error)
	Ensure(ctx context.Context, id int64, name string) (domain.Role, error)
}

// CredentialRepository reads temporary credentials and mutates the OTP
// challenge that lives on them.
type CredentialRepository interface {
	GetByUserID(ctx context.Context, userID int64) (domain.TemporaryCredential, error)
	GetByOrgID(ctx context.Context, orgID int64) (domain.TemporaryCredential, error)
	SetOTP(ctx context.Context, credentialID, code int64, expiresAt time.Time) error

	// ConsumeOTP transitions a pending challenge holding code to the
	// verified sentinel and clears its expiry. It reports false when the
	// stored code no longer matches, which is how a concurrent duplicate
	// submission observes that another caller won the transition.
	ConsumeOTP(ctx context.Context, credentialID, code int64) (bool, error)
}
