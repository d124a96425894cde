package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentstore.org/internal/agent"
	"agentstore.org/internal/audit"
	"agentstore.org/internal/auth"
)

type agentPayload struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	LinkURL     string `json:"linkUrl"`
	Port        int    `json:"port"`
}

type agentResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Image       string    `json:"image,omitempty"`
	LinkURL     string    `json:"linkUrl,omitempty"`
	Port        int       `json:"port,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type agentListResponse struct {
	Items  []agentResponse `json:"items"`
	Total  int             `json:"total"`
	Limit  int             `json:"limit"`
	Offset int             `json:"offset"`
}

func toAgentResponse(a *agent.Agent) agentResponse {
	return agentResponse{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Image:       agent.ImageDataURL(a.ImageData, a.MimeType),
		LinkURL:     a.LinkURL,
		Port:        a.Port,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (a *API) handleAgentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listAgents(w, r)
	case http.MethodPost:
		a.createAgent(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAgentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	if path == "" || strings.HasSuffix(path, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	// /agents/{id}/users/{userID} manages grants.
	if agentID, rest, ok := strings.Cut(path, "/"); ok {
		userPart, userID, ok := strings.Cut(rest, "/")
		if !ok || userPart != "users" || strings.Contains(userID, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		a.handleAgentGrant(w, r, agentID, userID)
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getAgent(w, r, path)
	case http.MethodPut:
		a.updateAgent(w, r, path)
	case http.MethodDelete:
		a.deleteAgent(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) listAgents(w http.ResponseWriter, r *http.Request) {
	snap, err := a.snapshot(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := a.agents.List(r.Context(), snap, page)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	items := make([]agentResponse, 0, len(listing.Agents))
	for _, ag := range listing.Agents {
		items = append(items, toAgentResponse(ag))
	}
	writeJSON(w, http.StatusOK, agentListResponse{
		Items:  items,
		Total:  listing.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

func (a *API) getAgent(w http.ResponseWriter, r *http.Request, id string) {
	snap, err := a.snapshot(r)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	ag, err := a.agents.Get(r.Context(), snap, id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentResponse(ag))
}

func (a *API) createAgent(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	var req agentPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ag, err := a.agents.Create(r.Context(), agent.Input{
		Title:       req.Title,
		Description: req.Description,
		Image:       req.Image,
		LinkURL:     req.LinkURL,
		Port:        req.Port,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agent.create", map[string]any{"agent_id": ag.ID})
	w.Header().Set("Location", "/agents/"+ag.ID)
	writeJSON(w, http.StatusCreated, toAgentResponse(ag))
}

func (a *API) updateAgent(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	var req agentPayload
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	ag, err := a.agents.Update(r.Context(), id, agent.Input{
		Title:       req.Title,
		Description: req.Description,
		Image:       req.Image,
		LinkURL:     req.LinkURL,
		Port:        req.Port,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agent.update", map[string]any{"agent_id": id})
	writeJSON(w, http.StatusOK, toAgentResponse(ag))
}

func (a *API) deleteAgent(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	if err := a.agents.Delete(r.Context(), id); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agent.delete", map[string]any{"agent_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAgentGrant(w http.ResponseWriter, r *http.Request, agentID, userID string) {
	if _, ok := a.requireRole(w, r, auth.RoleAdmin); !ok {
		return
	}
	switch r.Method {
	case http.MethodPut:
		if err := a.agents.Grant(r.Context(), agentID, userID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "agent.grant", map[string]any{
			"agent_id":  agentID,
			"target_id": userID,
		})
		w.WriteHeader(http.StatusNoContent)
	case http.MethodDelete:
		if err := a.agents.Revoke(r.Context(), agentID, userID); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "agent.revoke", map[string]any{
			"agent_id":  agentID,
			"target_id": userID,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func parsePage(r *http.Request) (agent.Page, error) {
	var page agent.Page
	q := r.URL.Query()
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 1000 {
			return page, errors.New("limit must be between 1 and 1000")
		}
		page.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return page, errors.New("offset must be >= 0")
		}
		page.Offset = v
	}
	return page, nil
}
