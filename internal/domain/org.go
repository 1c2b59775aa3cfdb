package domain

import "time"

// Organization represents a tenant created through the invite flow.
// Name and DomainName are stored normalized (lowercase, [a-z0-9] only);
// DomainName is unique across the platform.
type Organization struct {
	ID         int64
	Name       string
	DomainName string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Role is a platform-level role reference. The onboarding flow only ever
// resolves the "admin" role, which bootstrap seeds at startup.
type Role struct {
	ID   int64
	Name string
}

// AdminRoleName is the role assigned to the invited administrator.
const AdminRoleName = "admin"

// LoginType records the login mechanism chosen for an org's admin user,
// e.g. "password" or a federated provider.
type LoginType struct {
	ID          int64
	UserID      int64
	OrgID       int64
	DomainName  string
	LoginType   string
	SSOProvider string
	CreatedAt   time.Time
}

// OrganizationSummary is the read model for organization listings.
type OrganizationSummary struct {
	ID         int64         `json:"id"`
	Name       string        `json:"organization_name"`
	DomainName string        `json:"domain_name"`
	Users      []UserSummary `json:"users"`
}

// UserSummary is the per-user projection inside OrganizationSummary.
type UserSummary struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	RoleName string `json:"role_name"`
}
