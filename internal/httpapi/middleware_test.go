package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/agents", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After header")
	}

	// A different client IP has its own bucket.
	other := httptest.NewRequest(http.MethodGet, "/agents", nil)
	other.RemoteAddr = "10.0.0.2:1234"
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, other)
	if third.Code != http.StatusOK {
		t.Fatalf("other client status = %d, want 200", third.Code)
	}
}

func TestRequestIDIsAssignedAndEchoed(t *testing.T) {
	var seen string
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID(base)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" {
		t.Fatal("no request id on context")
	}
	if rec.Header().Get("X-Request-ID") != seen {
		t.Fatal("header does not match context value")
	}

	// Client-sent ids are honored.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-id-1")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seen != "client-id-1" {
		t.Fatalf("request id = %q, want client-id-1", seen)
	}
}

func TestCORSPreflight(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight must not reach the handler")
	})
	handler := CORS(base, []string{"https://app.example.com"})

	req := httptest.NewRequest(http.MethodOptions, "/agents", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example.com" {
		t.Fatalf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	// Unlisted origins get no allow header.
	req = httptest.NewRequest(http.MethodOptions, "/agents", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin was allowed")
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("missing frame options header")
	}
}
