package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/session"
)

const testCSRFToken = "csrf-test-token"

type testEnv struct {
	store   *mockStore
	adopter *mockAdopter
	repo    *fakeRepo
	router  http.Handler
}

func newTestEnv(t *testing.T, store *mockStore) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), logger)
	t.Cleanup(rl.Stop)

	env := &testEnv{store: store, adopter: &mockAdopter{}, repo: newFakeRepo()}
	env.router = NewRouter(&RouterDeps{
		Logger:            logger,
		Identity:          store,
		CORSAllowedOrigin: "http://localhost:19006",
		RateLimiter:       rl,
		CSRF:              middleware.CSRFConfig{Logger: logger},
		Store:             store,
		Adopter:           env.adopter,
		Profiles:          env.repo,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics\n")
		}),
	})
	return env
}

// do はCSRFトークン付きでリクエストを送る。
func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	req.Header.Set("X-CSRF-Token", testCSRFToken)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t, newMockStore(session.State{Status: session.StatusUnauthenticated}))

	w := env.do(http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("expected security headers on every route")
	}
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t, newMockStore(session.State{Status: session.StatusUnauthenticated}))

	w := env.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
		t.Errorf("status = %d, body = %q", w.Code, w.Body.String())
	}
}

func TestRouter_CSRFToken(t *testing.T) {
	env := newTestEnv(t, newMockStore(session.State{Status: session.StatusUnauthenticated}))

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))
	if body := decodeBody[map[string]string](t, w); body["token"] == "" {
		t.Error("expected a CSRF token")
	}
}

func TestRouter_StateChangingWithoutCSRF_Returns403(t *testing.T) {
	env := newTestEnv(t, authenticatedStore())

	for _, path := range []string{"/api/auth/signout", "/api/profile/refresh"} {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
		if w.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want %d", path, w.Code, http.StatusForbidden)
		}
	}
}

func TestRouter_ProfileRequiresIdentity(t *testing.T) {
	env := newTestEnv(t, newMockStore(session.State{Status: session.StatusNetworkError, Err: model.NewNetworkUnavailableError()}))

	w := env.do(http.MethodGet, "/api/profile", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if len(env.repo.recordedOps()) != 0 {
		t.Error("repository should not be called without an identity")
	}
}

func TestRouter_AuthRoutesAreRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t, newMockStore(session.State{Status: session.StatusUnauthenticated}))

	var last int
	for i := 0; i < 11; i++ {
		last = env.do(http.MethodPost, "/api/auth/signout", nil).Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th request status = %d, want %d", last, http.StatusTooManyRequests)
	}
	// 状態の参照は制限されない
	if w := env.do(http.MethodGet, "/api/session", nil); w.Code != http.StatusOK {
		t.Errorf("GET /api/session status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	env := newTestEnv(t, authenticatedStore())

	req := httptest.NewRequest(http.MethodOptions, "/api/profile", nil)
	req.Header.Set("Origin", "http://localhost:19006")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
}
