package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddleware(t *testing.T) {
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		t.Run("allows "+path+" without token", func(t *testing.T) {
			handled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				w.WriteHeader(http.StatusTeapot)
			})
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rr := httptest.NewRecorder()
			Middleware("sekrit")(next).ServeHTTP(rr, req)
			if rr.Code != http.StatusTeapot {
				t.Fatalf("expected status %d got %d", http.StatusTeapot, rr.Code)
			}
			if !handled {
				t.Fatalf("next handler not called")
			}
		})
	}

	tests := []struct {
		name    string
		token   string
		header  string
		status  int
		body    string
		handled bool
	}{
		{"rejects missing token", "sekrit", "", http.StatusUnauthorized, "missing API token", false},
		{"rejects invalid token", "sekrit", "Bearer wrong", http.StatusForbidden, "invalid API token", false},
		{"rejects when unconfigured", "", "Bearer ", http.StatusForbidden, "invalid API token", false},
		{"allows valid token", "sekrit", "Bearer sekrit", http.StatusCreated, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handled := false
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				handled = true
				w.WriteHeader(http.StatusCreated)
			})
			req := httptest.NewRequest(http.MethodGet, "/v1/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			Middleware(tt.token)(next).ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Fatalf("expected status %d got %d", tt.status, rr.Code)
			}
			if handled != tt.handled {
				t.Fatalf("handled = %v, want %v", handled, tt.handled)
			}
			if tt.body != "" && strings.TrimSpace(rr.Body.String()) != tt.body {
				t.Fatalf("unexpected body %q", rr.Body.String())
			}
		})
	}
}
