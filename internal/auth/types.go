package auth

import "time"

// Role names seeded at deployment time. ADMIN and VIP bypass per-agent grants.
const (
	RoleAdmin = "ADMIN"
	RoleVIP   = "VIP"
	RoleUser  = "USER"
)

// User represents an account that can authenticate against the store.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Role groups users for coarse authorization checks.
type Role struct {
	ID   string
	Name string
}

// RefreshToken is the persisted long-lived credential. At most one row exists
// per user; a new login replaces the previous token.
type RefreshToken struct {
	Token      string
	UserID     string
	ExpiryDate time.Time
	CreatedAt  time.Time
}

// Session is what a successful login or refresh hands back to the boundary.
type Session struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Username     string
	Email        string
	Roles        []string
}
