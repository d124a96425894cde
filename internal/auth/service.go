package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"agentstore.org/internal/ids"
	"agentstore.org/internal/obs"
)

// Password policy limits. Length is the only hard rule; composition checks
// are the client's concern.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128

	refreshTokenBytes = 32
)

// Service implements registration, login, token refresh and logout on top of
// a Store.
type Service struct {
	store      Store
	issuer     *Issuer
	hasher     *Hasher
	now        func() time.Time
	refreshTTL time.Duration

	// dummyHash is verified against when the username is unknown so that the
	// unknown-user and wrong-password paths cost the same.
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
	}
}

// NewService wires the authentication core together.
func NewService(store Store, issuer *Issuer, hasher *Hasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if issuer == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	if hasher == nil {
		return nil, errors.New("auth: password hasher is required")
	}
	s := &Service{
		store:      store,
		issuer:     issuer,
		hasher:     hasher,
		now:        time.Now,
		refreshTTL: 7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	dummy, err := hasher.Hash("agentstore-timing-placeholder")
	if err != nil {
		return nil, fmt.Errorf("prime dummy hash: %w", err)
	}
	s.dummyHash = dummy
	return s, nil
}

// RegisterInput carries a new account request.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// Register creates an enabled account with the default USER role. Username
// and email must be unused.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if err := ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	taken, err := s.store.Users().ExistsByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, ErrUsernameTaken
	}
	taken, err = s.store.Users().ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, ErrEmailTaken
	}

	defaultRole, err := s.store.Roles().FindByName(ctx, RoleUser)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrRoleNotConfigured
		}
		return nil, fmt.Errorf("find default role: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, user, []string{defaultRole.ID}); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	obs.Logger().Info().Str("user_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, nil
}

// Login verifies credentials and, on success, issues an access token and
// replaces the user's refresh token. Unknown usernames and wrong passwords
// fail identically.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.Users().FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn the same work as a real verification.
			_, _ = s.hasher.Verify(password, s.dummyHash)
			obs.CountLogin("failure")
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		obs.CountLogin("failure")
		return nil, ErrBadCredentials
	}
	if !user.Enabled {
		obs.CountLogin("disabled")
		return nil, ErrAccountDisabled
	}

	session, err := s.openSession(ctx, user)
	if err != nil {
		return nil, err
	}
	obs.CountLogin("success")
	return session, nil
}

// Refresh exchanges a live refresh token for a fresh access token. The
// refresh token itself is returned unchanged; it stays valid until its own
// expiry or the next login.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	stored, err := s.store.RefreshTokens().FindByToken(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountRefresh("rejected")
			return nil, ErrTokenRefresh
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if _, err := s.VerifyExpiration(ctx, stored); err != nil {
		obs.CountRefresh("expired")
		return nil, err
	}

	user, err := s.store.Users().Find(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountRefresh("rejected")
			return nil, ErrTokenRefresh
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !user.Enabled {
		obs.CountRefresh("disabled")
		return nil, ErrTokenRefresh
	}

	roles, err := s.roleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, _, err := s.issuer.Issue(user.ID, roles)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	obs.CountRefresh("success")
	return &Session{
		AccessToken:  access,
		RefreshToken: stored.Token,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Roles:        roles,
	}, nil
}

// Logout revokes the user's refresh token. It succeeds whether or not a
// token exists, so repeated logouts are harmless.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if err := s.store.RefreshTokens().DeleteByUser(ctx, userID); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	obs.Logger().Info().Str("user_id", userID).Msg("user logged out")
	return nil
}

// VerifyExpiration checks a stored refresh token against the clock. An
// expired token is deleted before the rejection is returned, so the ledger
// never keeps dead rows.
func (s *Service) VerifyExpiration(ctx context.Context, tok *RefreshToken) (*RefreshToken, error) {
	if tok == nil {
		return nil, ErrTokenRefresh
	}
	if !tok.ExpiryDate.After(s.now()) {
		if err := s.store.RefreshTokens().DeleteByToken(ctx, tok.Token); err != nil {
			return nil, fmt.Errorf("delete expired refresh token: %w", err)
		}
		return nil, ErrTokenRefresh
	}
	return tok, nil
}

// CreateRefreshToken mints a new random token for the user and stores it,
// replacing any previous one.
func (s *Service) CreateRefreshToken(ctx context.Context, userID string) (*RefreshToken, error) {
	raw := make([]byte, refreshTokenBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}
	now := s.now().UTC()
	tok := &RefreshToken{
		Token:      hex.EncodeToString(raw),
		UserID:     userID,
		ExpiryDate: now.Add(s.refreshTTL),
		CreatedAt:  now,
	}
	if err := s.store.RefreshTokens().Upsert(ctx, tok); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return tok, nil
}

// ParseAccessToken verifies a bearer token and returns its claims.
func (s *Service) ParseAccessToken(token string) (*Claims, error) {
	return s.issuer.Parse(token)
}

// Hasher exposes the configured password hasher for the user admin service.
func (s *Service) Hasher() *Hasher { return s.hasher }

func (s *Service) openSession(ctx context.Context, user *User) (*Session, error) {
	roles, err := s.roleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	access, _, err := s.issuer.Issue(user.ID, roles)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.CreateRefreshToken(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &Session{
		AccessToken:  access,
		RefreshToken: refresh.Token,
		UserID:       user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Roles:        roles,
	}, nil
}

func (s *Service) roleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.store.Users().RolesFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return NormalizeRoles(names), nil
}

// ValidatePassword enforces the length policy shared by registration and
// password changes.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}
	if len(password) > MaxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d characters", ErrInvalidInput, MaxPasswordLength)
	}
	return nil
}
