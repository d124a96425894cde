package agent

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"agentstore.org/internal/auth"
	"agentstore.org/internal/ids"
	"agentstore.org/internal/obs"
)

const (
	maxTitleLength       = 120
	maxDescriptionLength = 4096
)

// Service exposes the catalog with per-viewer visibility. Role checks use
// the frozen token claims; grant membership is read from the store on every
// call so revocation is immediate.
type Service struct {
	store Store
	now   func() time.Time
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

// NewService constructs a catalog service over the store.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("agent: store is required")
	}
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Input carries agent fields for create and update. Image is a data URL or
// empty.
type Input struct {
	Title       string
	Description string
	Image       string
	LinkURL     string
	Port        int
}

// List returns the catalog page the viewer may see. ADMIN and VIP see
// everything; other users see their granted subset only.
func (s *Service) List(ctx context.Context, viewer auth.Snapshot, page Page) (*Listing, error) {
	if page.Limit < 0 || page.Offset < 0 {
		return nil, fmt.Errorf("%w: negative page bounds", ErrInvalidInput)
	}
	if viewer.HasAnyRole(auth.RoleAdmin, auth.RoleVIP) {
		return s.store.List(ctx, page)
	}
	return s.store.ListGrantedTo(ctx, viewer.UserID, page)
}

// Get returns one agent if the viewer may see it. Lack of access reads as
// not-found so the catalog does not leak which agents exist.
func (s *Service) Get(ctx context.Context, viewer auth.Snapshot, id string) (*Agent, error) {
	if !viewer.HasAnyRole(auth.RoleAdmin, auth.RoleVIP) {
		ok, err := s.store.HasGrant(ctx, id, viewer.UserID)
		if err != nil {
			return nil, fmt.Errorf("check grant: %w", err)
		}
		if !ok {
			return nil, ErrNotFound
		}
	}
	return s.store.Find(ctx, id)
}

// Create adds a catalog entry. Authorization happens at the boundary; the
// service validates the payload.
func (s *Service) Create(ctx context.Context, in Input) (*Agent, error) {
	a, err := s.buildAgent(in)
	if err != nil {
		return nil, err
	}
	a.ID = ids.New()
	now := s.now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	obs.Logger().Info().Str("agent_id", a.ID).Str("title", a.Title).Msg("agent created")
	return a, nil
}

// Update replaces the agent's fields, keeping its identity and timestamps.
func (s *Service) Update(ctx context.Context, id string, in Input) (*Agent, error) {
	existing, err := s.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.buildAgent(in)
	if err != nil {
		return nil, err
	}
	a.ID = existing.ID
	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("update agent: %w", err)
	}
	return a, nil
}

// Delete removes the agent and all grants pointing at it.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	obs.Logger().Info().Str("agent_id", id).Msg("agent deleted")
	return nil
}

// Grant gives the user access to the agent. Granting twice is a no-op.
func (s *Service) Grant(ctx context.Context, agentID, userID string) error {
	if _, err := s.store.Find(ctx, agentID); err != nil {
		return err
	}
	return s.store.AssignUser(ctx, agentID, userID)
}

// Revoke removes the user's access to the agent.
func (s *Service) Revoke(ctx context.Context, agentID, userID string) error {
	if _, err := s.store.Find(ctx, agentID); err != nil {
		return err
	}
	return s.store.RevokeUser(ctx, agentID, userID)
}

// SetUserAccess replaces the user's grant set. Every agent ID must exist.
func (s *Service) SetUserAccess(ctx context.Context, userID string, agentIDs []string) error {
	seen := make(map[string]struct{}, len(agentIDs))
	deduped := make([]string, 0, len(agentIDs))
	for _, id := range agentIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			return fmt.Errorf("%w: empty agent id", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.store.Find(ctx, id); err != nil {
			return err
		}
		deduped = append(deduped, id)
	}
	return s.store.SetUserAgents(ctx, userID, deduped)
}

// RevokeAllForUser clears the user's grants when the account goes away.
func (s *Service) RevokeAllForUser(ctx context.Context, userID string) error {
	return s.store.RevokeAllForUser(ctx, userID)
}

// GrantedAgentIDs lists the agent IDs the user has explicit grants for.
func (s *Service) GrantedAgentIDs(ctx context.Context, userID string) ([]string, error) {
	return s.store.GrantedAgentIDs(ctx, userID)
}

// Snapshot builds the viewer's grant set for authorization checks.
func (s *Service) Snapshot(ctx context.Context, userID string, roles []string) (auth.Snapshot, error) {
	snap := auth.Snapshot{UserID: userID, Roles: roles}
	if snap.HasAnyRole(auth.RoleAdmin, auth.RoleVIP) {
		return snap, nil
	}
	granted, err := s.store.GrantedAgentIDs(ctx, userID)
	if err != nil {
		return auth.Snapshot{}, fmt.Errorf("load grants: %w", err)
	}
	snap.GrantedAgents = make(map[string]struct{}, len(granted))
	for _, id := range granted {
		snap.GrantedAgents[id] = struct{}{}
	}
	return snap, nil
}

func (s *Service) buildAgent(in Input) (*Agent, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title exceeds %d characters", ErrInvalidInput, maxTitleLength)
	}
	if len(in.Description) > maxDescriptionLength {
		return nil, fmt.Errorf("%w: description exceeds %d characters", ErrInvalidInput, maxDescriptionLength)
	}
	link := strings.TrimSpace(in.LinkURL)
	if link != "" {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: link must be an absolute http(s) URL", ErrInvalidInput)
		}
	}
	if in.Port < 0 || in.Port > 65535 {
		return nil, fmt.Errorf("%w: port out of range", ErrInvalidInput)
	}
	data, mime, err := ParseImageDataURL(in.Image)
	if err != nil {
		return nil, err
	}
	return &Agent{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		ImageData:   data,
		MimeType:    mime,
		LinkURL:     link,
		Port:        in.Port,
	}, nil
}
