package agent

import "context"

// Store persists the agent catalog and the per-user grant table.
type Store interface {
	Create(ctx context.Context, a *Agent) error
	Find(ctx context.Context, id string) (*Agent, error)
	// List returns agents ordered by creation time, oldest first.
	List(ctx context.Context, page Page) (*Listing, error)
	// ListGrantedTo returns only agents the user holds a grant for, same
	// ordering and paging as List.
	ListGrantedTo(ctx context.Context, userID string, page Page) (*Listing, error)
	Update(ctx context.Context, a *Agent) error
	// Delete removes the agent and every grant pointing at it.
	Delete(ctx context.Context, id string) error

	// AssignUser is idempotent; granting twice leaves one grant.
	AssignUser(ctx context.Context, agentID, userID string) error
	RevokeUser(ctx context.Context, agentID, userID string) error
	// SetUserAgents replaces the user's grant set atomically.
	SetUserAgents(ctx context.Context, userID string, agentIDs []string) error
	HasGrant(ctx context.Context, agentID, userID string) (bool, error)
	GrantedAgentIDs(ctx context.Context, userID string) ([]string, error)
	// RevokeAllForUser clears the user's grants, used on account deletion.
	RevokeAllForUser(ctx context.Context, userID string) error
}
