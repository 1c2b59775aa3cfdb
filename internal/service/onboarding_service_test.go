package service_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/valora-onboarding/internal/codec"
	"github.com/smallbiznis/valora-onboarding/internal/credential"
	"github.com/smallbiznis/valora-onboarding/internal/domain"
	"github.com/smallbiznis/valora-onboarding/internal/invitelink"
	"github.com/smallbiznis/valora-onboarding/internal/mail"
	"github.com/smallbiznis/valora-onboarding/internal/repository"
	"github.com/smallbiznis/valora-onboarding/internal/service"
)

var (
	transportKey = []byte("frittersgypsysaf")
	storageKey   = []byte("0123456789abcdef0123456789abcdef")
	linkSecret   = []byte("invite-signing-secret")

	testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
)

func newOnboardingFixture(t *testing.T) (*service.OnboardingService, *memoryStore, *recordingMailer, codec.Codec) {
	t.Helper()

	store := newMemoryStore()
	mailer := &recordingMailer{}
	transport, err := codec.NewECB(transportKey)
	require.NoError(t, err)
	storage, err := codec.NewGCM(storageKey)
	require.NoError(t, err)

	gen := &credential.Generator{
		Source: neverEmptySource{},
		TTL:    time.Hour,
		Now:    func() time.Time { return testNow },
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	signer := invitelink.NewSignerAt(linkSecret, "http://localhost:3000", gen.Now)
	svc := service.NewOnboardingService(
		store, store, store, store,
		transport, storage,
		gen, signer, mailer, node, time.Hour, zap.NewNop(),
	)
	return svc, store, mailer, transport
}

func encodeAll(t *testing.T, c codec.Codec, values ...string) []string {
	t.Helper()
	out := make([]string, len(values))
	for i, v := range values {
		encoded, err := c.Encode(v)
		require.NoError(t, err)
		out[i] = encoded
	}
	return out
}

func acmeInvite(t *testing.T, c codec.Codec) service.InviteRequest {
	t.Helper()
	enc := encodeAll(t, c, "Acme", "acme-corp", "Jane Doe", "jane@acme.test", "password")
	return service.InviteRequest{
		Name:       enc[0],
		DomainName: enc[1],
		AdminName:  enc[2],
		AdminEmail: enc[3],
		LoginType:  enc[4],
	}
}

func TestInviteCreatesOnboardingUnit(t *testing.T) {
	svc, store, mailer, transport := newOnboardingFixture(t)

	org, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	require.NoError(t, err)
	require.Equal(t, "acmecorp", org.DomainName)
	require.Equal(t, "acme", org.Name)

	user := store.userByEmail(t, "jane@acme.test")
	require.Equal(t, org.ID, user.OrgID)
	require.Equal(t, "janedoe", user.Name)
	require.Equal(t, store.roles[domain.AdminRoleName].ID, user.RoleID)

	cred := store.credByUser(t, user.ID)
	require.Equal(t, testNow.Add(time.Hour), cred.PasswordExpiresAt)
	require.Zero(t, cred.OTPCode)

	login := store.loginByUser(t, user.ID)
	require.Equal(t, "acmecorp", login.DomainName)
	require.Equal(t, "password", login.LoginType)

	require.Len(t, mailer.sent, 1)
	require.Equal(t, "jane@acme.test", mailer.sent[0].to)
	require.Contains(t, mailer.sent[0].msg.Body, "http://localhost:3000/invite/validate?")

	// The mailed password is the plaintext of the sealed credential and
	// has the issued shape.
	storage, err := codec.NewGCM(storageKey)
	require.NoError(t, err)
	plaintext, err := storage.Decode(cred.SealedPassword)
	require.NoError(t, err)
	require.Len(t, plaintext, credential.PasswordLength)
	require.Contains(t, mailer.sent[0].msg.Body, plaintext)
}

func TestInviteReportsEveryViolation(t *testing.T) {
	svc, store, _, transport := newOnboardingFixture(t)

	long, err := transport.Encode(stringOfLength(300))
	require.NoError(t, err)
	badEmail, err := transport.Encode("not-an-email")
	require.NoError(t, err)

	_, err = svc.Invite(context.Background(), service.InviteRequest{
		Name:       long,
		AdminEmail: badEmail,
	})

	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)

	fields := make(map[string]bool)
	for _, f := range validationErr.Fields {
		fields[f.Field] = true
	}
	require.True(t, fields["name"])
	require.True(t, fields["domain_name"])
	require.True(t, fields["admin_name"])
	require.True(t, fields["admin_email"])
	require.True(t, fields["login_type"])
	require.Empty(t, store.orgs)
}

func TestInviteRejectsUndecodableField(t *testing.T) {
	svc, store, _, transport := newOnboardingFixture(t)

	req := acmeInvite(t, transport)
	req.AdminEmail = "%%%garbage%%%"

	_, err := svc.Invite(context.Background(), req)
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Empty(t, store.orgs)
}

func TestInviteConflictCreatesNothing(t *testing.T) {
	svc, store, mailer, transport := newOnboardingFixture(t)

	_, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	require.NoError(t, err)
	require.Len(t, store.orgs, 1)
	mailer.sent = nil

	_, err = svc.Invite(context.Background(), acmeInvite(t, transport))
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Len(t, store.orgs, 1)
	require.Len(t, store.users, 1)
	require.Len(t, store.creds, 1)
	require.Empty(t, mailer.sent)
}

func TestInviteConstraintRaceMapsToConflict(t *testing.T) {
	svc, store, _, transport := newOnboardingFixture(t)

	// Pre-check passes but the constraint fires at commit, as it would
	// when two invites for the same domain race.
	store.failCreateWith = repository.ErrDomainTaken

	_, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Equal(t, "domain_name", validationErr.Fields[0].Field)
}

func TestInviteMissingAdminRole(t *testing.T) {
	svc, store, mailer, transport := newOnboardingFixture(t)
	delete(store.roles, domain.AdminRoleName)

	_, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	var flowErr *service.FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, 500, flowErr.Status)
	require.Empty(t, store.orgs)
	require.Empty(t, mailer.sent)
}

func TestInviteMailFailureKeepsCommittedRows(t *testing.T) {
	svc, store, mailer, transport := newOnboardingFixture(t)
	mailer.err = fmt.Errorf("smtp: connection refused")

	org, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	var flowErr *service.FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, "notification_failed", flowErr.Code)

	// Phase 1 committed, phase 2 failed: the organization stands.
	require.NotZero(t, org.ID)
	require.Len(t, store.orgs, 1)
	require.Len(t, store.users, 1)
}

func TestValidateInvite(t *testing.T) {
	svc, _, _, transport := newOnboardingFixture(t)

	_, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	require.NoError(t, err)

	signer := invitelink.NewSignerAt(linkSecret, "http://localhost:3000", func() time.Time { return testNow })
	link := signer.Mint("acmecorp", time.Hour)
	domainName, expires, signature := parseLink(t, link)

	require.NoError(t, svc.ValidateInvite(context.Background(), domainName, expires, signature))

	// Tampered domain fails the signature check even though the target
	// organization exists.
	err = svc.ValidateInvite(context.Background(), "acmecorp2", expires, signature)
	var flowErr *service.FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, "invalid_link", flowErr.Code)

	// Unknown organization with a structurally valid signature is a
	// distinct not-found outcome.
	ghost := signer.Mint("ghostcorp", time.Hour)
	domainName, expires, signature = parseLink(t, ghost)
	err = svc.ValidateInvite(context.Background(), domainName, expires, signature)
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, 404, flowErr.Status)
}

func TestValidateInviteBoundByCredentialExpiry(t *testing.T) {
	svc, store, _, transport := newOnboardingFixture(t)

	_, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	require.NoError(t, err)

	// A signature minted with a generous TTL stays structurally valid
	// after the credential's own window has closed; validation must
	// still reject it.
	signer := invitelink.NewSignerAt(linkSecret, "http://localhost:3000", func() time.Time { return testNow })
	link := signer.Mint("acmecorp", 24*time.Hour)
	domainName, expires, signature := parseLink(t, link)

	store.expireCredentials(testNow.Add(-time.Minute))

	err = svc.ValidateInvite(context.Background(), domainName, expires, signature)
	var flowErr *service.FlowError
	require.ErrorAs(t, err, &flowErr)
	require.Equal(t, "invitation_expired", flowErr.Code)
}

func TestOrganizationsListing(t *testing.T) {
	svc, _, _, transport := newOnboardingFixture(t)

	_, err := svc.Invite(context.Background(), acmeInvite(t, transport))
	require.NoError(t, err)

	summaries, err := svc.Organizations(context.Background())
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "acmecorp", summaries[0].DomainName)
	require.Len(t, summaries[0].Users, 1)
	require.Equal(t, "jane@acme.test", summaries[0].Users[0].Email)
	require.Equal(t, domain.AdminRoleName, summaries[0].Users[0].RoleName)
}

// ---- shared test doubles ----

// neverEmptySource feeds the generator from a cycling counter so password
// and OTP generation always succeed without touching crypto/rand.
type neverEmptySource struct{}

func (neverEmptySource) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(i * 31)
	}
	return len(p), nil
}

// otpSource yields exactly the bytes that make Generator.OTP return code.
func otpSource(code int64) io.Reader {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(code-credential.OTPMin))
	return bytes.NewReader(buf[:])
}

type sentMail struct {
	to  string
	msg mail.Message
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to string, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to: to, msg: msg})
	return nil
}

// memoryStore implements every repository interface over maps, enforcing
// the same uniqueness and atomicity rules as the Postgres implementation.
type memoryStore struct {
	mu             sync.Mutex
	orgs           map[int64]domain.Organization
	users          map[int64]domain.User
	creds          map[int64]domain.TemporaryCredential
	logins         map[int64]domain.LoginType
	roles          map[string]domain.Role
	failCreateWith error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orgs:   make(map[int64]domain.Organization),
		users:  make(map[int64]domain.User),
		creds:  make(map[int64]domain.TemporaryCredential),
		logins: make(map[int64]domain.LoginType),
		roles:  map[string]domain.Role{domain.AdminRoleName: {ID: 1, Name: domain.AdminRoleName}},
	}
}

func (m *memoryStore) CreateOnboarding(_ context.Context, rec repository.OnboardingRecord) (domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failCreateWith != nil {
		return domain.Organization{}, m.failCreateWith
	}
	role, ok := m.roles[domain.AdminRoleName]
	if !ok {
		return domain.Organization{}, repository.ErrRoleNotFound
	}
	for _, org := range m.orgs {
		if org.DomainName == rec.Org.DomainName {
			return domain.Organization{}, repository.ErrDomainTaken
		}
	}
	for _, user := range m.users {
		if user.Email == rec.User.Email {
			return domain.Organization{}, repository.ErrEmailTaken
		}
	}

	org := rec.Org
	org.CreatedAt = time.Now()
	org.UpdatedAt = org.CreatedAt
	m.orgs[org.ID] = org

	user := rec.User
	user.OrgID = org.ID
	user.RoleID = role.ID
	m.users[user.ID] = user

	cred := rec.Credential
	cred.UserID = user.ID
	cred.OrgID = org.ID
	m.creds[cred.ID] = cred

	login := rec.Login
	login.UserID = user.ID
	login.OrgID = org.ID
	login.DomainName = org.DomainName
	m.logins[login.ID] = login

	return org, nil
}

func (m *memoryStore) GetByDomain(_ context.Context, domainName string) (domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.DomainName == domainName {
			return org, nil
		}
	}
	return domain.Organization{}, repository.ErrNotFound
}

func (m *memoryStore) DomainExists(_ context.Context, domainName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, org := range m.orgs {
		if org.DomainName == domainName {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) List(_ context.Context) ([]domain.OrganizationSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summaries := make([]domain.OrganizationSummary, 0, len(m.orgs))
	for _, org := range m.orgs {
		summary := domain.OrganizationSummary{ID: org.ID, Name: org.Name, DomainName: org.DomainName}
		for _, user := range m.users {
			if user.OrgID != org.ID {
				continue
			}
			roleName := ""
			for _, role := range m.roles {
				if role.ID == user.RoleID {
					roleName = role.Name
				}
			}
			summary.Users = append(summary.Users, domain.UserSummary{Name: user.Name, Email: user.Email, RoleName: roleName})
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (m *memoryStore) GetByEmail(_ context.Context, email string) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return domain.User{}, repository.ErrNotFound
}

func (m *memoryStore) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryStore) GetByUserID(_ context.Context, userID int64) (domain.TemporaryCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.creds {
		if cred.UserID == userID {
			return cred, nil
		}
	}
	return domain.TemporaryCredential{}, repository.ErrNotFound
}

func (m *memoryStore) GetByOrgID(_ context.Context, orgID int64) (domain.TemporaryCredential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cred := range m.creds {
		if cred.OrgID == orgID {
			return cred, nil
		}
	}
	return domain.TemporaryCredential{}, repository.ErrNotFound
}

func (m *memoryStore) SetOTP(_ context.Context, credentialID, code int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[credentialID]
	if !ok {
		return repository.ErrNotFound
	}
	cred.OTPCode = code
	cred.OTPExpiresAt = &expiresAt
	m.creds[credentialID] = cred
	return nil
}

func (m *memoryStore) ConsumeOTP(_ context.Context, credentialID, code int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.creds[credentialID]
	if !ok || cred.OTPCode != code {
		return false, nil
	}
	cred.OTPCode = domain.OTPVerifiedSentinel
	cred.OTPExpiresAt = nil
	m.creds[credentialID] = cred
	return true, nil
}

func (m *memoryStore) userByEmail(t *testing.T, email string) domain.User {
	t.Helper()
	user, err := m.GetByEmail(context.Background(), email)
	require.NoError(t, err)
	return user
}

func (m *memoryStore) credByUser(t *testing.T, userID int64) domain.TemporaryCredential {
	t.Helper()
	cred, err := m.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	return cred
}

func (m *memoryStore) loginByUser(t *testing.T, userID int64) domain.LoginType {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, login := range m.logins {
		if login.UserID == userID {
			return login
		}
	}
	t.Fatalf("no login type for user %d", userID)
	return domain.LoginType{}
}

func (m *memoryStore) expireCredentials(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cred := range m.creds {
		cred.PasswordExpiresAt = at
		m.creds[id] = cred
	}
}

func stringOfLength(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func parseLink(t *testing.T, link string) (domainName, expires, signature string) {
	t.Helper()
	u, err := url.Parse(link)
	require.NoError(t, err)
	q := u.Query()
	return q.Get("domain"), q.Get("expires"), q.Get("signature")
}
