package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/smallbiznis/valora-onboarding/internal/domain"
)

// Compile-time interface assertions.
var (
	_ OnboardingRepository = (*PostgresOnboardingRepo)(nil)
	_ OrgRepository        = (*PostgresOrgRepo)(nil)
	_ UserRepository       = (*PostgresUserRepo)(nil)
	_ RoleRepository       = (*PostgresRoleRepo)(nil)
	_ CredentialRepository = (*PostgresCredentialRepo)(nil)
)

const uniqueViolation = "23505"

// PostgresOnboardingRepo runs the invite unit inside one transaction.
type PostgresOnboardingRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOnboardingRepo(pool *pgxpool.Pool) *PostgresOnboardingRepo {
	return &PostgresOnboardingRepo{db: pool}
}

// CreateOnboarding inserts organization, user, credential, and login type
// as one serializable unit. The unique constraints on domain_name and
// email are the authoritative guard against concurrent duplicate invites;
// violations map to ErrDomainTaken/ErrEmailTaken so callers can surface
// them as validation conflicts.
func (r *PostgresOnboardingRepo) CreateOnboarding(ctx context.Context, rec OnboardingRecord) (domain.Organization, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return domain.Organization{}, fmt.Errorf("begin onboarding tx: %w", err)
	}
	defer tx.Rollback(ctx)

	org := rec.Org
	err = tx.QueryRow(ctx,
		`INSERT INTO organizations (id, name, domain_name)
		 VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at`,
		org.ID, org.Name, org.DomainName,
	).Scan(&org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return domain.Organization{}, mapUnique(err, "insert organization")
	}

	var roleID int64
	err = tx.QueryRow(ctx,
		`SELECT id FROM roles WHERE name = $1`, domain.AdminRoleName,
	).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Organization{}, ErrRoleNotFound
	}
	if err != nil {
		return domain.Organization{}, fmt.Errorf("resolve admin role: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, organization_id, role_id, name, email)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.User.ID, org.ID, roleID, rec.User.Name, rec.User.Email,
	)
	if err != nil {
		return domain.Organization{}, mapUnique(err, "insert user")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO temporary_credentials (id, user_id, organization_id, temporary_password, password_expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Credential.ID, rec.User.ID, org.ID, rec.Credential.SealedPassword, rec.Credential.PasswordExpiresAt,
	)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("insert temporary credential: %w", err)
	}

	var ssoProvider any
	if rec.Login.SSOProvider != "" {
		ssoProvider = rec.Login.SSOProvider
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO login_types (id, user_id, organization_id, domain_name, login_type, sso_provider)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.Login.ID, rec.User.ID, org.ID, org.DomainName, rec.Login.LoginType, ssoProvider,
	)
	if err != nil {
		return domain.Organization{}, fmt.Errorf("insert login type: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Organization{}, mapUnique(err, "commit onboarding")
	}
	return org, nil
}

// PostgresOrgRepo implements OrgRepository.
type PostgresOrgRepo struct {
	db *pgxpool.Pool
}

func NewPostgresOrgRepo(pool *pgxpool.Pool) *PostgresOrgRepo {
	return &PostgresOrgRepo{db: pool}
}

func (r *PostgresOrgRepo) GetByDomain(ctx context.Context, domainName string) (domain.Organization, error) {
	var org domain.Organization
	err := r.db.QueryRow(ctx,
		`SELECT id, name, domain_name, created_at, updated_at
		 FROM organizations WHERE domain_name = $1`, domainName,
	).Scan(&org.ID, &org.Name, &org.DomainName, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Organization{}, ErrNotFound
	}
	if err != nil {
		return domain.Organization{}, fmt.Errorf("get organization by domain: %w", err)
	}
	return org, nil
}

func (r *PostgresOrgRepo) DomainExists(ctx context.Context, domainName string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM organizations WHERE domain_name = $1)`, domainName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check domain: %w", err)
	}
	return exists, nil
}

func (r *PostgresOrgRepo) List(ctx context.Context) ([]domain.OrganizationSummary, error) {
	rows, err := r.db.Query(ctx,
		`SELECT o.id, o.name, o.domain_name, u.name, u.email, r.name
		 FROM organizations o
		 JOIN users u ON u.organization_id = o.id
		 JOIN roles r ON r.id = u.role_id
		 ORDER BY o.id, u.id`)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.OrganizationSummary, 0)
	index := make(map[int64]int)
	for rows.Next() {
		var (
			org  domain.OrganizationSummary
			user domain.UserSummary
		)
		if err := rows.Scan(&org.ID, &org.Name, &org.DomainName, &user.Name, &user.Email, &user.RoleName); err != nil {
			return nil, fmt.Errorf("scan organization row: %w", err)
		}
		i, ok := index[org.ID]
		if !ok {
			i = len(summaries)
			index[org.ID] = i
			summaries = append(summaries, org)
		}
		summaries[i].Users = append(summaries[i].Users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate organizations: %w", err)
	}
	return summaries, nil
}

// PostgresUserRepo implements UserRepository.
type PostgresUserRepo struct {
	db *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{db: pool}
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	var user domain.User
	err := r.db.QueryRow(ctx,
		`SELECT id, organization_id, role_id, name, email, created_at, updated_at
		 FROM users WHERE email = $1`, email,
	).Scan(&user.ID, &user.OrgID, &user.RoleID, &user.Name, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

func (r *PostgresUserRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check email: %w", err)
	}
	return exists, nil
}

// PostgresRoleRepo implements RoleRepository.
type PostgresRoleRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRoleRepo(pool *pgxpool.Pool) *PostgresRoleRepo {
	return &PostgresRoleRepo{db: pool}
}

func (r *PostgresRoleRepo) GetByName(ctx context.Context, name string) (domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(
		ctx, `SELECT id, name FROM roles WHERE name = $1`, name,
	).Scan(&role.ID, &role.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Role{}, ErrRoleNotFound
	}
	if err != nil {
		return domain.Role{}, fmt.Errorf("get role: %w", err)
	}
	return role, nil
}

func (r *PostgresRoleRepo) Ensure(ctx context.Context, id int64, name string) (domain.Role, error) {
	var role domain.Role
	err := r.db.QueryRow(ctx,
		`INSERT INTO roles (id, name) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id, name`,
		id, name,
	).Scan(&role.ID, &role.Name)
	if err != nil {
		return domain.Role{}, fmt.Errorf("ensure role: %w", err)
	}
	return role, nil
}

// PostgresCredentialRepo implements CredentialRepository.
type PostgresCredentialRepo struct {
	db *pgxpool.Pool
}

func NewPostgresCredentialRepo(pool *pgxpool.Pool) *PostgresCredentialRepo {
	return &PostgresCredentialRepo{db: pool}
}

const credentialColumns = `id, user_id, organization_id, temporary_password, password_expires_at, otp, otp_expires_at, created_at, updated_at`

func (r *PostgresCredentialRepo) GetByUserID(ctx context.Context, userID int64) (domain.TemporaryCredential, error) {
	return r.getOne(ctx,
		`SELECT `+credentialColumns+` FROM temporary_credentials WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT 1`, userID)
}

func (r *PostgresCredentialRepo) GetByOrgID(ctx context.Context, orgID int64) (domain.TemporaryCredential, error) {
	return r.getOne(ctx,
		`SELECT `+credentialColumns+` FROM temporary_credentials WHERE organization_id = $1
		 ORDER BY created_at DESC LIMIT 1`, orgID)
}

func (r *PostgresCredentialRepo) getOne(ctx context.Context, query string, arg any) (domain.TemporaryCredential, error) {
	var (
		cred   domain.TemporaryCredential
		otp    *int64
		otpExp *time.Time
	)
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&cred.ID,
		&cred.UserID,
		&cred.OrgID,
		&cred.SealedPassword,
		&cred.PasswordExpiresAt,
		&otp,
		&otpExp,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TemporaryCredential{}, ErrNotFound
	}
	if err != nil {
		return domain.TemporaryCredential{}, fmt.Errorf("get temporary credential: %w", err)
	}
	if otp != nil {
		cred.OTPCode = *otp
	}
	cred.OTPExpiresAt = otpExp
	return cred, nil
}

func (r *PostgresCredentialRepo) SetOTP(ctx context.Context, credentialID, code int64, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE temporary_credentials
		 SET otp = $2, otp_expires_at = $3, updated_at = now()
		 WHERE id = $1`,
		credentialID, code, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConsumeOTP is the compare-and-set that keeps verification idempotent
// under concurrent duplicate submissions: only the caller whose UPDATE
// matches the pending code observes the transition.
func (r *PostgresCredentialRepo) ConsumeOTP(ctx context.Context, credentialID, code int64) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE temporary_credentials
		 SET otp = $3, otp_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND otp = $2`,
		credentialID, code, domain.OTPVerifiedSentinel,
	)
	if err != nil {
		return false, fmt.Errorf("consume otp: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func mapUnique(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "organizations_domain_name_key":
			return ErrDomainTaken
		case "users_email_key":
			return ErrEmailTaken
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
