package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/healthmate/internal/config"
)

func newFakeBackend(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_ANON_KEY", "")

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_MigrateWithoutDatabaseURL_ReturnsError(t *testing.T) {
	setTestEnv(t, "https://backend.example.com")

	var buf bytes.Buffer
	err := Run(&buf, []string{"migrate"})
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("Run(migrate) error = %v, want DATABASE_URL error", err)
	}
}

func TestRun_ProbeCommand(t *testing.T) {
	t.Run("reachable backend", func(t *testing.T) {
		backend := newFakeBackend(t, http.StatusOK)
		setTestEnv(t, backend.URL)

		var buf bytes.Buffer
		if err := Run(&buf, []string{"probe"}); err != nil {
			t.Fatalf("Run(probe) error = %v", err)
		}
		if !strings.Contains(buf.String(), "connectivity probe finished") {
			t.Errorf("expected probe log, got %s", buf.String())
		}
	})

	t.Run("unreachable backend", func(t *testing.T) {
		backend := newFakeBackend(t, http.StatusOK)
		url := backend.URL
		backend.Close()
		setTestEnv(t, url)
		t.Setenv("PROBE_TIMEOUT", "1s")

		var buf bytes.Buffer
		if err := Run(&buf, []string{"probe"}); err == nil {
			t.Fatal("Run(probe) should fail when the backend is down")
		}
	})
}

func TestRunHealthcheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/health" {
				t.Errorf("path = %q, want /health", r.URL.Path)
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		if err := runHealthcheck(strings.TrimPrefix(srv.URL, "http://")); err != nil {
			t.Fatalf("runHealthcheck() error = %v", err)
		}
	})

	t.Run("unhealthy", func(t *testing.T) {
		srv := newFakeBackend(t, http.StatusServiceUnavailable)
		if err := runHealthcheck(strings.TrimPrefix(srv.URL, "http://")); err == nil {
			t.Fatal("runHealthcheck() should fail on 503")
		}
	})

	t.Run("port only address", func(t *testing.T) {
		srv := newFakeBackend(t, http.StatusOK)
		_, port, _ := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
		if err := runHealthcheck(":" + port); err != nil {
			t.Fatalf("runHealthcheck(:%s) error = %v", port, err)
		}
	})
}

func TestRun_HealthcheckSkipsConfig(t *testing.T) {
	srv := newFakeBackend(t, http.StatusOK)
	t.Setenv("BACKEND_URL", "")
	t.Setenv("BACKEND_ANON_KEY", "")
	t.Setenv("LISTEN_ADDR", strings.TrimPrefix(srv.URL, "http://"))

	if err := Run(io.Discard, []string{"healthcheck"}); err != nil {
		t.Fatalf("Run(healthcheck) error = %v", err)
	}
}

func TestAgent_ServeSettlesAndShutsDown(t *testing.T) {
	backend := newFakeBackend(t, http.StatusOK)
	setTestEnv(t, backend.URL)
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load() error = %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent, err := Build(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer agent.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	done := make(chan error, 1)
	go func() { done <- agent.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(5 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		resp, err := client.Get(base + "/api/session")
		if err == nil {
			var body struct {
				Status string `json:"status"`
			}
			json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			status = body.Status
			if status == "unauthenticated" {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	if status != "unauthenticated" {
		t.Fatalf("session status = %q, want unauthenticated without stored tokens", status)
	}

	resp, err := client.Get(base + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d, want 200", resp.StatusCode)
	}

	resp, err = client.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
