package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users() UserStore
	Roles() RoleStore
	RefreshTokens() RefreshTokenStore
}

// UserStore manages user accounts and their role membership.
type UserStore interface {
	Create(ctx context.Context, u *User, roleIDs []string) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Update(ctx context.Context, u *User) error
	// Delete removes the user together with its refresh token, role
	// membership and agent grants in one transaction.
	Delete(ctx context.Context, id string) error
	SetRoles(ctx context.Context, userID string, roleIDs []string) error
	RolesFor(ctx context.Context, userID string) ([]Role, error)
}

// RoleStore manages the role catalog. Roles are seed data and immutable once
// referenced.
type RoleStore interface {
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
}

// RefreshTokenStore manages the refresh token ledger.
type RefreshTokenStore interface {
	// Upsert atomically replaces any existing token for tok.UserID, keeping
	// the one-live-token-per-user invariant under concurrent logins.
	Upsert(ctx context.Context, tok *RefreshToken) error
	FindByToken(ctx context.Context, token string) (*RefreshToken, error)
	DeleteByToken(ctx context.Context, token string) error
	// DeleteByUser is idempotent; deleting an absent row is not an error.
	DeleteByUser(ctx context.Context, userID string) error
}
