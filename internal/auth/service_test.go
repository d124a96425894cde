package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type serviceFixture struct {
	svc   *Service
	store *MemoryStore
	now   time.Time
}

func newServiceFixture(t *testing.T, opts ...ServiceOption) *serviceFixture {
	t.Helper()
	f := &serviceFixture{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}

	store := NewMemoryStore()
	store.SeedRoles(RoleAdmin, RoleVIP, RoleUser)

	hasher, err := NewHasher(HasherConfig{
		CPUCost:     1024,
		BlockSize:   8,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  16,
	})
	require.NoError(t, err)

	issuer, err := NewIssuer("test-secret", WithIssuerClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	opts = append([]ServiceOption{WithClock(func() time.Time { return f.now })}, opts...)
	svc, err := NewService(store, issuer, hasher, opts...)
	require.NoError(t, err)

	f.svc = svc
	f.store = store
	return f
}

func (f *serviceFixture) register(t *testing.T, username, email, password string) *User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return u
}

func TestRegisterAndLogin(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	u := f.register(t, "alice", "alice@example.com", "password-123")
	require.True(t, u.Enabled)
	require.NotEmpty(t, u.ID)

	session, err := f.svc.Login(ctx, "alice", "password-123")
	require.NoError(t, err)
	require.NotEmpty(t, session.AccessToken)
	require.NotEmpty(t, session.RefreshToken)
	require.Equal(t, u.ID, session.UserID)
	require.Equal(t, []string{RoleUser}, session.Roles)

	claims, err := f.svc.ParseAccessToken(session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, u.ID, claims.Subject)
	require.Equal(t, []string{RoleUser}, claims.Roles)
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "password-123")

	_, err := f.svc.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "password-123",
	})
	require.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.Register(ctx, RegisterInput{
		Username: "bob",
		Email:    "alice@example.com",
		Password: "password-123",
	})
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, RegisterInput{Username: "", Email: "a@b.co", Password: "password-123"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "x", Email: "not-an-email", Password: "password-123"})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.svc.Register(ctx, RegisterInput{Username: "x", Email: "a@b.co", Password: "short"})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegisterWithoutSeededRole(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	// Store with no roles at all simulates a deployment missing its seeds.
	empty := NewMemoryStore()
	hasher := f.svc.Hasher()
	issuer, err := NewIssuer("test-secret")
	require.NoError(t, err)
	svc, err := NewService(empty, issuer, hasher)
	require.NoError(t, err)

	_, err = svc.Register(ctx, RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "password-123",
	})
	require.ErrorIs(t, err, ErrRoleNotConfigured)
}

func TestLoginFailsUniformly(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "password-123")

	_, errUnknown := f.svc.Login(ctx, "nobody", "password-123")
	_, errWrongPass := f.svc.Login(ctx, "alice", "wrong-password")
	require.ErrorIs(t, errUnknown, ErrBadCredentials)
	require.ErrorIs(t, errWrongPass, ErrBadCredentials)
	require.Equal(t, errUnknown, errWrongPass)
}

func TestLoginDisabledAccount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com", "password-123")

	u.Enabled = false
	require.NoError(t, f.store.Users().Update(ctx, u))

	_, err := f.svc.Login(ctx, "alice", "password-123")
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestRepeatedLoginsKeepOneRefreshToken(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "password-123")

	var tokens []string
	for i := 0; i < 3; i++ {
		session, err := f.svc.Login(ctx, "alice", "password-123")
		require.NoError(t, err)
		tokens = append(tokens, session.RefreshToken)
	}

	// Only the newest token survives.
	for _, stale := range tokens[:2] {
		_, err := f.svc.Refresh(ctx, stale)
		require.ErrorIs(t, err, ErrTokenRefresh)
	}
	_, err := f.svc.Refresh(ctx, tokens[2])
	require.NoError(t, err)
}

func TestRefreshKeepsTokenAndReadsCurrentRoles(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com", "password-123")

	session, err := f.svc.Login(ctx, "alice", "password-123")
	require.NoError(t, err)

	// Promote after login; the refreshed access token sees the new role.
	admin, err := f.store.Roles().FindByName(ctx, RoleAdmin)
	require.NoError(t, err)
	userRole, err := f.store.Roles().FindByName(ctx, RoleUser)
	require.NoError(t, err)
	require.NoError(t, f.store.Users().SetRoles(ctx, u.ID, []string{admin.ID, userRole.ID}))

	f.now = f.now.Add(time.Hour)
	refreshed, err := f.svc.Refresh(ctx, session.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, session.RefreshToken, refreshed.RefreshToken)
	require.NotEqual(t, session.AccessToken, refreshed.AccessToken)
	require.ElementsMatch(t, []string{RoleAdmin, RoleUser}, refreshed.Roles)
}

func TestRefreshExpiredTokenIsDeleted(t *testing.T) {
	f := newServiceFixture(t, WithRefreshTTL(24*time.Hour))
	ctx := context.Background()
	f.register(t, "alice", "alice@example.com", "password-123")

	session, err := f.svc.Login(ctx, "alice", "password-123")
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Hour)
	_, err = f.svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRefresh)

	// The expired row is gone, not just rejected.
	_, err = f.store.RefreshTokens().FindByToken(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRefreshUnknownToken(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Refresh(context.Background(), "no-such-token")
	require.ErrorIs(t, err, ErrTokenRefresh)
}

func TestLogoutIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com", "password-123")

	session, err := f.svc.Login(ctx, "alice", "password-123")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, u.ID))
	require.NoError(t, f.svc.Logout(ctx, u.ID))

	_, err = f.svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRefresh)
}

func TestRefreshDisabledAccount(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice", "alice@example.com", "password-123")

	session, err := f.svc.Login(ctx, "alice", "password-123")
	require.NoError(t, err)

	u.Enabled = false
	require.NoError(t, f.store.Users().Update(ctx, u))

	_, err = f.svc.Refresh(ctx, session.RefreshToken)
	require.ErrorIs(t, err, ErrTokenRefresh)
}
