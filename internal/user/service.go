// Package user implements account administration and self-service profile
// operations on top of the auth and agent stores.
package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"agentstore.org/internal/agent"
	"agentstore.org/internal/auth"
	"agentstore.org/internal/ids"
	"agentstore.org/internal/obs"
)

// Summary is the administrative view of an account.
type Summary struct {
	ID               string
	Username         string
	Email            string
	Enabled          bool
	Roles            []string
	AccessibleAgents []string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CreateInput carries an admin-created account. Roles default to USER when
// empty.
type CreateInput struct {
	Username string
	Email    string
	Password string
	Enabled  *bool
	Roles    []string
}

// UpdateInput uses pointer fields; nil means leave unchanged.
type UpdateInput struct {
	Username *string
	Email    *string
	Password *string
	Enabled  *bool
	Roles    []string
}

// ProfileInput is the self-service subset of UpdateInput. Password changes
// require the current password.
type ProfileInput struct {
	Email           *string
	CurrentPassword string
	NewPassword     *string
}

// Service composes the auth store, the password hasher and the agent catalog
// into account management.
type Service struct {
	store  auth.Store
	agents *agent.Service
	hasher *auth.Hasher
	now    func() time.Time
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

// NewService wires the user admin service together.
func NewService(store auth.Store, agents *agent.Service, hasher *auth.Hasher, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("user: store is required")
	}
	if agents == nil {
		return nil, errors.New("user: agent service is required")
	}
	if hasher == nil {
		return nil, errors.New("user: password hasher is required")
	}
	s := &Service{store: store, agents: agents, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// List returns all accounts in creation order.
func (s *Service) List(ctx context.Context) ([]*Summary, error) {
	users, err := s.store.Users().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	out := make([]*Summary, 0, len(users))
	for _, u := range users {
		sum, err := s.summarize(ctx, u)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// Get returns one account by id.
func (s *Service) Get(ctx context.Context, id string) (*Summary, error) {
	u, err := s.store.Users().Find(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, u)
}

// Create adds an account with explicit roles, bypassing self-registration.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Summary, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", auth.ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email address", auth.ErrInvalidInput)
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	taken, err := s.store.Users().ExistsByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("check username: %w", err)
	}
	if taken {
		return nil, auth.ErrUsernameTaken
	}
	taken, err = s.store.Users().ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if taken {
		return nil, auth.ErrEmailTaken
	}

	roleNames := auth.NormalizeRoles(in.Roles)
	if len(roleNames) == 0 {
		roleNames = []string{auth.RoleUser}
	}
	roleIDs, err := s.resolveRoles(ctx, roleNames)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	now := s.now().UTC()
	u := &auth.User{
		ID:           ids.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Enabled:      enabled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, u, roleIDs); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	obs.Logger().Info().Str("user_id", u.ID).Str("username", u.Username).Msg("user created by admin")
	return s.summarize(ctx, u)
}

// Update applies the non-nil fields. Disabling an account also revokes its
// refresh token so open sessions cannot renew.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*Summary, error) {
	u, err := s.store.Users().Find(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if username == "" {
			return nil, fmt.Errorf("%w: username is required", auth.ErrInvalidInput)
		}
		if !strings.EqualFold(username, u.Username) {
			taken, err := s.store.Users().ExistsByUsername(ctx, username)
			if err != nil {
				return nil, fmt.Errorf("check username: %w", err)
			}
			if taken {
				return nil, auth.ErrUsernameTaken
			}
		}
		u.Username = username
	}
	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, fmt.Errorf("%w: invalid email address", auth.ErrInvalidInput)
		}
		if !strings.EqualFold(email, u.Email) {
			taken, err := s.store.Users().ExistsByEmail(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("check email: %w", err)
			}
			if taken {
				return nil, auth.ErrEmailTaken
			}
		}
		u.Email = email
	}
	if in.Password != nil {
		if err := auth.ValidatePassword(*in.Password); err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		u.PasswordHash = hash
	}
	disabled := false
	if in.Enabled != nil {
		disabled = u.Enabled && !*in.Enabled
		u.Enabled = *in.Enabled
	}

	// Resolve the new role set before touching the user row so an unknown
	// role name rejects the whole update instead of half of it.
	var roleIDs []string
	if in.Roles != nil {
		resolved, err := s.resolveRoles(ctx, auth.NormalizeRoles(in.Roles))
		if err != nil {
			return nil, err
		}
		roleIDs = resolved
	}

	u.UpdatedAt = s.now().UTC()
	if err := s.store.Users().Update(ctx, u); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if in.Roles != nil {
		if err := s.store.Users().SetRoles(ctx, id, roleIDs); err != nil {
			return nil, fmt.Errorf("set roles: %w", err)
		}
	}
	if disabled {
		if err := s.store.RefreshTokens().DeleteByUser(ctx, id); err != nil {
			return nil, fmt.Errorf("revoke refresh token: %w", err)
		}
		obs.Logger().Info().Str("user_id", id).Msg("account disabled, refresh token revoked")
	}
	return s.summarize(ctx, u)
}

// Delete removes the account, its refresh token, role membership and agent
// grants.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Users().Delete(ctx, id); err != nil {
		return err
	}
	if err := s.agents.RevokeAllForUser(ctx, id); err != nil {
		return fmt.Errorf("revoke agent grants: %w", err)
	}
	obs.Logger().Info().Str("user_id", id).Msg("user deleted")
	return nil
}

// SetAgentAccess replaces the user's agent grant set.
func (s *Service) SetAgentAccess(ctx context.Context, id string, agentIDs []string) error {
	if _, err := s.store.Users().Find(ctx, id); err != nil {
		return err
	}
	return s.agents.SetUserAccess(ctx, id, agentIDs)
}

// ListRoles returns the role catalog.
func (s *Service) ListRoles(ctx context.Context) ([]auth.Role, error) {
	return s.store.Roles().List(ctx)
}

// Profile returns the caller's own account view.
func (s *Service) Profile(ctx context.Context, userID string) (*Summary, error) {
	return s.Get(ctx, userID)
}

// UpdateProfile lets a user change its own email and password. Any change
// requires the current password.
func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*Summary, error) {
	u, err := s.store.Users().Find(ctx, userID)
	if err != nil {
		return nil, err
	}
	ok, err := s.hasher.Verify(in.CurrentPassword, u.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, auth.ErrBadCredentials
	}

	update := UpdateInput{Email: in.Email, Password: in.NewPassword}
	return s.Update(ctx, userID, update)
}

func (s *Service) summarize(ctx context.Context, u *auth.User) (*Summary, error) {
	roles, err := s.store.Users().RolesFor(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	granted, err := s.agents.GrantedAgentIDs(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return &Summary{
		ID:               u.ID,
		Username:         u.Username,
		Email:            u.Email,
		Enabled:          u.Enabled,
		Roles:            names,
		AccessibleAgents: granted,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}, nil
}

func (s *Service) resolveRoles(ctx context.Context, names []string) ([]string, error) {
	ids := make([]string, 0, len(names))
	for _, name := range names {
		role, err := s.store.Roles().FindByName(ctx, name)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				return nil, fmt.Errorf("%w: unknown role %q", auth.ErrInvalidInput, name)
			}
			return nil, fmt.Errorf("find role: %w", err)
		}
		ids = append(ids, role.ID)
	}
	return ids, nil
}
