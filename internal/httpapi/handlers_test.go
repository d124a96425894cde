package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"agentstore.org/internal/agent"
	"agentstore.org/internal/auth"
	"agentstore.org/internal/config"
	"agentstore.org/internal/user"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	authStore *auth.MemoryStore
	authSvc   *auth.Service
	agentSvc  *agent.Service
	userSvc   *user.Service
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	store.SeedRoles(auth.RoleAdmin, auth.RoleVIP, auth.RoleUser)

	hasher, err := auth.NewHasher(auth.HasherConfig{
		CPUCost:     1024,
		BlockSize:   8,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  16,
	})
	if err != nil {
		t.Fatalf("NewHasher: %v", err)
	}
	issuer, err := auth.NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	authSvc, err := auth.NewService(store, issuer, hasher)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	agentSvc, err := agent.NewService(agent.NewMemoryStore())
	if err != nil {
		t.Fatalf("agent.NewService: %v", err)
	}
	userSvc, err := user.NewService(store, agentSvc, hasher)
	if err != nil {
		t.Fatalf("user.NewService: %v", err)
	}

	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.RateLimit.Burst = 1000
	cfg.RateLimit.PerSecond = 1000

	api := New(authSvc, agentSvc, userSvc, ReadyProbe{}, cfg, "test")
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:   srv.URL,
		client:    srv.Client(),
		t:         t,
		authStore: store,
		authSvc:   authSvc,
		agentSvc:  agentSvc,
		userSvc:   userSvc,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) register(username, email, password string) {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("register status %d: %s", resp.StatusCode, body)
	}
}

func (c *apiClient) login(username, password string) loginResponse {
	c.t.Helper()
	resp := c.do(http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		c.t.Fatalf("login status %d: %s", resp.StatusCode, body)
	}
	return decode[loginResponse](c.t, resp)
}

// adminToken promotes a registered user to ADMIN and logs in again so the
// token carries the role.
func (c *apiClient) adminToken(username, password string) loginResponse {
	c.t.Helper()
	first := c.login(username, password)
	admin, err := c.authStore.Roles().FindByName(c.t.Context(), auth.RoleAdmin)
	if err != nil {
		c.t.Fatalf("find admin role: %v", err)
	}
	if err := c.authStore.Users().SetRoles(c.t.Context(), first.ID, []string{admin.ID}); err != nil {
		c.t.Fatalf("set roles: %v", err)
	}
	return c.login(username, password)
}

func TestAuthFlow(t *testing.T) {
	c := newTestAPI(t)
	c.register("alice", "alice@example.com", "password-123")

	// Wrong password and unknown user both give 401.
	for _, creds := range []map[string]string{
		{"username": "alice", "password": "wrong"},
		{"username": "nobody", "password": "password-123"},
	} {
		resp := c.do(http.MethodPost, "/auth/login", creds, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
		}
		resp.Body.Close()
	}

	session := c.login("alice", "password-123")
	if session.TokenType != "Bearer" || session.AccessToken == "" || session.RefreshToken == "" {
		t.Fatalf("incomplete session: %+v", session)
	}
	if len(session.Roles) != 1 || session.Roles[0] != auth.RoleUser {
		t.Fatalf("roles = %v, want [USER]", session.Roles)
	}

	// Refresh returns a new access token but the same refresh token.
	resp := c.do(http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d, want 200", resp.StatusCode)
	}
	refreshed := decode[refreshResponse](t, resp)
	if refreshed.RefreshToken != session.RefreshToken {
		t.Fatal("refresh rotated the refresh token")
	}
	if refreshed.AccessToken == "" {
		t.Fatal("refresh returned no access token")
	}

	// Logout revokes the refresh token; the next refresh is rejected.
	resp = c.do(http.MethodPost, "/auth/logout", nil, session.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": session.RefreshToken}, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("refresh after logout status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRegisterConflicts(t *testing.T) {
	c := newTestAPI(t)
	c.register("alice", "alice@example.com", "password-123")

	resp := c.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "password-123",
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate username status = %d, want 400", resp.StatusCode)
	}
	msg := decode[messageResponse](t, resp)
	if msg.Success || msg.Message != "Username is already taken" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}

	resp = c.do(http.MethodPost, "/auth/register", map[string]string{
		"username": "bob", "email": "alice@example.com", "password": "password-123",
	}, "")
	msg = decode[messageResponse](t, resp)
	if msg.Success || msg.Message != "Email is already in use" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/agents", "/users", "/profile", "/auth/logout"} {
		resp := c.do(http.MethodGet, path, nil, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token = %d, want 401", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.do(http.MethodGet, "/agents", nil, "not-a-valid-token")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAgentVisibility(t *testing.T) {
	c := newTestAPI(t)
	c.register("admin", "admin@example.com", "password-123")
	c.register("bob", "bob@example.com", "password-123")
	admin := c.adminToken("admin", "password-123")
	bob := c.login("bob", "password-123")

	// Admin creates two agents.
	var created []agentResponse
	for _, title := range []string{"first", "second"} {
		resp := c.do(http.MethodPost, "/agents", map[string]any{"title": title}, admin.AccessToken)
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("create agent status = %d, want 201", resp.StatusCode)
		}
		created = append(created, decode[agentResponse](t, resp))
	}

	// Plain user cannot create.
	resp := c.do(http.MethodPost, "/agents", map[string]any{"title": "nope"}, bob.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("create as user status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Bob sees nothing until granted.
	resp = c.do(http.MethodGet, "/agents", nil, bob.AccessToken)
	listing := decode[agentListResponse](t, resp)
	if len(listing.Items) != 0 || listing.Total != 0 {
		t.Fatalf("ungranted listing: %+v", listing)
	}

	// An ungranted agent reads as 404, not 403.
	resp = c.do(http.MethodGet, "/agents/"+created[0].ID, nil, bob.AccessToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("ungranted get status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Grant one agent; revocation takes effect without a new token.
	resp = c.do(http.MethodPut, "/agents/"+created[0].ID+"/users/"+bob.ID, nil, admin.AccessToken)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("grant status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/agents", nil, bob.AccessToken)
	listing = decode[agentListResponse](t, resp)
	if len(listing.Items) != 1 || listing.Items[0].ID != created[0].ID {
		t.Fatalf("granted listing: %+v", listing)
	}

	resp = c.do(http.MethodDelete, "/agents/"+created[0].ID+"/users/"+bob.ID, nil, admin.AccessToken)
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/agents/"+created[0].ID, nil, bob.AccessToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("revoked get status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin sees everything.
	resp = c.do(http.MethodGet, "/agents", nil, admin.AccessToken)
	listing = decode[agentListResponse](t, resp)
	if len(listing.Items) != 2 {
		t.Fatalf("admin listing has %d items, want 2", len(listing.Items))
	}
}

func TestUserAdministration(t *testing.T) {
	c := newTestAPI(t)
	c.register("admin", "admin@example.com", "password-123")
	c.register("bob", "bob@example.com", "password-123")
	admin := c.adminToken("admin", "password-123")
	bob := c.login("bob", "password-123")

	// Listing users is admin-only.
	resp := c.do(http.MethodGet, "/users", nil, bob.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("list users as bob = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/users", nil, admin.AccessToken)
	users := decode[[]userResponse](t, resp)
	if len(users) != 2 {
		t.Fatalf("user count = %d, want 2", len(users))
	}

	// Bob can read himself but not the admin.
	resp = c.do(http.MethodGet, "/users/"+bob.ID, nil, bob.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("self get = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodGet, "/users/"+admin.ID, nil, bob.AccessToken)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("cross get = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin disables bob; his session can no longer refresh.
	resp = c.do(http.MethodPut, "/users/"+bob.ID, map[string]any{"enabled": false}, admin.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": bob.RefreshToken}, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("refresh disabled = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Admin cannot delete itself.
	resp = c.do(http.MethodDelete, "/users/"+admin.ID, nil, admin.AccessToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("self delete = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/users/"+bob.ID, nil, admin.AccessToken)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete bob = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProfile(t *testing.T) {
	c := newTestAPI(t)
	c.register("alice", "alice@example.com", "password-123")
	session := c.login("alice", "password-123")

	resp := c.do(http.MethodGet, "/profile", nil, session.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile status = %d, want 200", resp.StatusCode)
	}
	profile := decode[userResponse](t, resp)
	if profile.Username != "alice" || profile.ID != session.ID {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	// Password change requires the current password.
	resp = c.do(http.MethodPut, "/profile", map[string]any{
		"currentPassword": "wrong",
		"newPassword":     "password-456",
	}, session.AccessToken)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong current password = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPut, "/profile", map[string]any{
		"currentPassword": "password-123",
		"newPassword":     "password-456",
	}, session.AccessToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("profile update = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	c.login("alice", "password-456")
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp := c.do(http.MethodGet, path, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := c.do(http.MethodGet, "/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /metrics = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestRejectsMalformedJSON(t *testing.T) {
	c := newTestAPI(t)

	req, err := http.NewRequest(http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Unknown fields are rejected too.
	resp = c.do(http.MethodPost, "/auth/login", map[string]string{
		"username": "a", "password": "b", "extra": "c",
	}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()
}
