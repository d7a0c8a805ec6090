package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type staticIdentity string

func (s staticIdentity) IdentityID() string { return string(s) }

func TestIdentityGuard_Authenticated_InjectsUserID(t *testing.T) {
	var captured string
	handler := NewIdentityGuard(staticIdentity("user-1"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if captured != "user-1" {
		t.Errorf("userID = %q, want %q", captured, "user-1")
	}
}

func TestIdentityGuard_Unauthenticated_Returns401(t *testing.T) {
	called := false
	handler := NewIdentityGuard(staticIdentity(""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/profile", nil))

	if called {
		t.Error("handler should not be called")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != "UNAUTHENTICATED" {
		t.Errorf("code = %q", body.Code)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for missing user ID")
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := NewRequestIDMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if captured == "" || w.Header().Get("X-Request-ID") != captured {
		t.Errorf("generated id = %q, header = %q", captured, w.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "from-client")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if captured != "from-client" {
		t.Errorf("id = %q, want the client supplied id", captured)
	}
}
