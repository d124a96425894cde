package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"agentstore.org/internal/audit"
	"agentstore.org/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken  string   `json:"accessToken"`
	RefreshToken string   `json:"refreshToken"`
	TokenType    string   `json:"tokenType"`
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	Roles        []string `json:"roles"`
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
}

// messageResponse is the success/message envelope used by register and
// logout.
type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	session, err := a.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":  session.UserID,
		"username": session.Username,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    "Bearer",
		ID:           session.UserID,
		Username:     session.Username,
		Email:        session.Email,
		Roles:        session.Roles,
	})
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	u, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUsernameTaken):
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Username is already taken"})
		case errors.Is(err, auth.ErrEmailTaken):
			writeJSON(w, http.StatusBadRequest, messageResponse{Message: "Email is already in use"})
		default:
			handleDomainError(w, r, err)
		}
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.register", map[string]any{
		"user_id":  u.ID,
		"username": u.Username,
	})
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "User registered successfully"})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refreshToken is required")
		return
	}

	session, err := a.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": session.UserID,
	})
	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    "Bearer",
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	c, ok := a.claims(r)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := a.auth.Logout(r.Context(), c.Subject); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Log out successful"})
}
