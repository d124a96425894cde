package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents JWT claims used across the service.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies access tokens with HS256. The signing secret is
// process-wide configuration loaded once at startup; swapping it requires no
// code change.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if name = strings.TrimSpace(name); name != "" {
			i.issuer = name
		}
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer with the given signing secret.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: "agentstore",
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue signs an access token for the subject carrying its role claims. The
// claims are a snapshot of the roles at issuance; later role changes take
// effect on the next issuance only.
func (i *Issuer) Issue(subjectID string, roles []string) (string, time.Time, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Roles: NormalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature and expiry. Expired, tampered and malformed tokens
// are rejected uniformly as ErrInvalidToken to avoid an oracle at the
// boundary.
func (i *Issuer) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	},
		jwt.WithTimeFunc(i.now),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = NormalizeRoles(claims.Roles)
	return claims, nil
}

// NormalizeRoles upper-cases, trims and deduplicates role names, preserving
// first-seen order.
func NormalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var normalized []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToUpper(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		normalized = append(normalized, role)
	}
	return normalized
}
