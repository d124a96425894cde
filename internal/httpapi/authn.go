package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"agentstore.org/internal/audit"
	"agentstore.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/healthz",
	"/readyz",
	"/metrics",
	"/",
}

// withAuth verifies the bearer token on every non-public request and stores
// the claims on the context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.auth.ParseAccessToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, "invalid token")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "authentication error")
			return
		}
		ctx := auth.WithClaims(r.Context(), claims)
		ctx = audit.WithActor(ctx, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// claims returns the verified claims for an authenticated request. The auth
// middleware guarantees presence on non-public paths.
func (a *API) claims(r *http.Request) (*auth.Claims, bool) {
	c := auth.ClaimsFromContext(r.Context())
	return c, c != nil
}

// snapshot builds the caller's authorization view, loading its grant set
// unless a role bypasses grants.
func (a *API) snapshot(r *http.Request) (auth.Snapshot, error) {
	c, ok := a.claims(r)
	if !ok {
		return auth.Snapshot{}, auth.ErrInvalidToken
	}
	return a.agents.Snapshot(r.Context(), c.Subject, c.Roles)
}

// requireRole writes the 403 itself and reports whether the handler may
// proceed.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, role string) (*auth.Claims, bool) {
	c, ok := a.claims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	if d := auth.RequireRole(auth.Snapshot{UserID: c.Subject, Roles: c.Roles}, role); !d.Allowed {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return nil, false
	}
	return c, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
