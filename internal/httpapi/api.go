// Package httpapi is the HTTP boundary. Handlers decode requests, consult
// the services and map domain errors onto status codes; no business rules
// live here.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"agentstore.org/internal/agent"
	"agentstore.org/internal/auth"
	"agentstore.org/internal/config"
	"agentstore.org/internal/obs"
	"agentstore.org/internal/user"
)

// ReadyProbe checks dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth, agent and user services.
type API struct {
	mux        *http.ServeMux
	auth       *auth.Service
	agents     *agent.Service
	users      *user.Service
	readyProbe ReadyProbe
	cfg        config.Config
	version    string
}

// New wires the routes. The caller mounts the returned API via Handler.
func New(authSvc *auth.Service, agentSvc *agent.Service, userSvc *user.Service, rp ReadyProbe, cfg config.Config, version string) *API {
	a := &API{
		mux:        http.NewServeMux(),
		auth:       authSvc,
		agents:     agentSvc,
		users:      userSvc,
		readyProbe: rp,
		cfg:        cfg,
		version:    version,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/auth/login", a.handleLogin)
	a.mux.HandleFunc("/auth/register", a.handleRegister)
	a.mux.HandleFunc("/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/auth/logout", a.handleLogout)

	a.mux.HandleFunc("/profile", a.handleProfile)

	a.mux.HandleFunc("/agents", a.handleAgentsCollection)
	a.mux.HandleFunc("/agents/", a.handleAgentResource)

	a.mux.HandleFunc("/users", a.handleUsersCollection)
	a.mux.HandleFunc("/users/", a.handleUserResource)
	a.mux.HandleFunc("/roles", a.handleRoles)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 2<<20)
	h = RateLimit(h, a.cfg.RateLimit.Burst, a.cfg.RateLimit.PerSecond)
	h = CORS(h, a.cfg.CORS.AllowedOrigins)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "agentstore-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 2<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// handleDomainError maps service errors onto status codes. Authorization
// failures on agent reads surface as 404 so the catalog does not leak.
func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrBadCredentials),
		errors.Is(err, auth.ErrAccountDisabled),
		errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, auth.ErrTokenRefresh):
		writeError(w, r, http.StatusForbidden, "refresh token rejected")
	case errors.Is(err, auth.ErrUsernameTaken),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, auth.ErrAlreadyExists),
		errors.Is(err, agent.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, agent.ErrInvalidInput),
		errors.Is(err, agent.ErrInvalidImage):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrNotFound), errors.Is(err, agent.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	default:
		obs.Logger().Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
