package httpapi

import (
	"net/http"
	"strings"
	"time"

	"agentstore.org/internal/audit"
	"agentstore.org/internal/auth"
	"agentstore.org/internal/user"
)

type userResponse struct {
	ID               string    `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	Enabled          bool      `json:"enabled"`
	Roles            []string  `json:"roles"`
	AccessibleAgents []string  `json:"accessibleAgents"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type createUserRequest struct {
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Enabled  *bool    `json:"enabled"`
	Roles    []string `json:"roles"`
}

type updateUserRequest struct {
	Username *string  `json:"username"`
	Email    *string  `json:"email"`
	Password *string  `json:"password"`
	Enabled  *bool    `json:"enabled"`
	Roles    []string `json:"roles"`
}

type setAgentAccessRequest struct {
	AgentIDs []string `json:"agentIds"`
}

func toUserResponse(s *user.Summary) userResponse {
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	agents := s.AccessibleAgents
	if agents == nil {
		agents = []string{}
	}
	return userResponse{
		ID:               s.ID,
		Username:         s.Username,
		Email:            s.Email,
		Enabled:          s.Enabled,
		Roles:            roles,
		AccessibleAgents: agents,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listUsers(w, r)
	case http.MethodPost:
		a.createUser(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/users/")
	if path == "" || strings.HasSuffix(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if id, rest, ok := strings.Cut(path, "/"); ok {
		if rest != "agents" {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleUserAgentAccess(w, r, id)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getUser(w, r, path)
	case http.MethodPut:
		a.updateUser(w, r, path)
	case http.MethodDelete:
		a.deleteUser(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	users, err := a.users.List(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := a.users.Create(r.Context(), user.CreateInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Enabled:  req.Enabled,
		Roles:    req.Roles,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.create", map[string]any{"target_id": sum.ID})
	w.Header().Set("Location", "/users/"+sum.ID)
	writeJSON(w, http.StatusCreated, toUserResponse(sum))
}

// getUser serves admins and the account owner.
func (a *API) getUser(w http.ResponseWriter, r *http.Request, id string) {
	c, ok := a.claims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	snap := auth.Snapshot{UserID: c.Subject, Roles: c.Roles}
	if d := auth.RequireRoleOrSelf(snap, auth.RoleAdmin, id); !d.Allowed {
		writeError(w, r, http.StatusForbidden, "forbidden")
		return
	}
	sum, err := a.users.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(sum))
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sum, err := a.users.Update(r.Context(), id, user.UpdateInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Enabled:  req.Enabled,
		Roles:    req.Roles,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.update", map[string]any{"target_id": id})
	writeJSON(w, http.StatusOK, toUserResponse(sum))
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	c, ok := a.requireRole(w, r, auth.RoleAdmin)
	if !ok {
		return
	}
	if c.Subject == id {
		writeError(w, r, http.StatusBadRequest, "cannot delete own account")
		return
	}
	if err := a.users.Delete(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.delete", map[string]any{"target_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserAgentAccess(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	var req setAgentAccessRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.users.SetAgentAccess(r.Context(), id, req.AgentIDs); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "user.agent_access", map[string]any{
		"target_id": id,
		"agents":    len(req.AgentIDs),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRoles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	roles, err := a.users.ListRoles(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	writeJSON(w, http.StatusOK, names)
}
