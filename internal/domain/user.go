package domain

import "time"

// User is an organization member. In the onboarding flow exactly one user
// exists per organization: the invited administrator.
type User struct {
	ID        int64
	OrgID     int64
	RoleID    int64
	Name      string
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
