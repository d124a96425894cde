package httpapi

import (
	"net/http"

	"agentstore.org/internal/audit"
	"agentstore.org/internal/user"
)

type updateProfileRequest struct {
	Email           *string `json:"email"`
	CurrentPassword string  `json:"currentPassword"`
	NewPassword     *string `json:"newPassword"`
}

func (a *API) handleProfile(w http.ResponseWriter, r *http.Request) {
	c, ok := a.claims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}

	switch r.Method {
	case http.MethodGet:
		sum, err := a.users.Profile(r.Context(), c.Subject)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toUserResponse(sum))
	case http.MethodPut:
		var req updateProfileRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		sum, err := a.users.UpdateProfile(r.Context(), c.Subject, user.ProfileInput{
			Email:           req.Email,
			CurrentPassword: req.CurrentPassword,
			NewPassword:     req.NewPassword,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "profile.update", nil)
		writeJSON(w, http.StatusOK, toUserResponse(sum))
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
