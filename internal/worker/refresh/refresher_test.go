package refresh

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/healthmate/internal/auth"
	"github.com/hitoshi/healthmate/internal/model"
)

// --- モック定義 ---

type staticSessions struct {
	session *model.Session
}

func (s *staticSessions) Session() *model.Session { return s.session }

type mockGateway struct {
	mu        sync.Mutex
	refreshFn func(ctx context.Context, sess *model.Session) (*model.Session, error)
	published []auth.Event
	refreshes int
}

func (m *mockGateway) RefreshSession(ctx context.Context, sess *model.Session) (*model.Session, error) {
	m.mu.Lock()
	m.refreshes++
	m.mu.Unlock()
	return m.refreshFn(ctx, sess)
}

func (m *mockGateway) Publish(ctx context.Context, ev auth.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, ev)
	return nil
}

type fakeRecorder struct {
	results []string
}

func (f *fakeRecorder) RecordTokenRefresh(result string) {
	f.results = append(f.results, result)
}

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestWorker(sess *model.Session, gw *mockGateway, rec *fakeRecorder) (*Worker, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	w := NewWorker(&staticSessions{session: sess}, gw, logger, rec, time.Minute)
	w.now = func() time.Time { return baseTime }
	return w, &buf
}

// --- テスト ---

func TestRunOnce_NoSession_DoesNothing(t *testing.T) {
	gw := &mockGateway{}
	w, _ := newTestWorker(nil, gw, &fakeRecorder{})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if gw.refreshes != 0 || len(gw.published) != 0 {
		t.Errorf("refreshes = %d, published = %v", gw.refreshes, gw.published)
	}
}

func TestRunOnce_NotYetExpiring_DoesNothing(t *testing.T) {
	gw := &mockGateway{}
	sess := &model.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: baseTime.Add(10 * time.Minute)}
	w, _ := newTestWorker(sess, gw, &fakeRecorder{})

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if gw.refreshes != 0 {
		t.Errorf("refreshes = %d, want 0", gw.refreshes)
	}
}

func TestRunOnce_ExpiringSoon_PublishesTokenRefreshed(t *testing.T) {
	next := &model.Session{AccessToken: "a2", RefreshToken: "r2", UserID: "user-1", ExpiresAt: baseTime.Add(time.Hour)}
	gw := &mockGateway{refreshFn: func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		if sess.RefreshToken != "r" {
			t.Errorf("RefreshToken = %q, want r", sess.RefreshToken)
		}
		return next, nil
	}}
	rec := &fakeRecorder{}
	sess := &model.Session{AccessToken: "a", RefreshToken: "r", UserID: "user-1", ExpiresAt: baseTime.Add(30 * time.Second)}
	w, _ := newTestWorker(sess, gw, rec)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(gw.published) != 1 || gw.published[0].Type != auth.EventTokenRefreshed || gw.published[0].Session != next {
		t.Fatalf("published = %+v", gw.published)
	}
	if gw.published[0].Replaces != "r" {
		t.Errorf("Replaces = %q, want the refresh token the session was refreshed from", gw.published[0].Replaces)
	}
	if len(rec.results) != 1 || rec.results[0] != ResultRefreshed {
		t.Errorf("results = %v", rec.results)
	}
}

func TestRunOnce_Rejected_PublishesSignedOut(t *testing.T) {
	gw := &mockGateway{refreshFn: func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		return nil, model.NewUnauthenticatedError("Invalid Refresh Token")
	}}
	rec := &fakeRecorder{}
	sess := &model.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: baseTime.Add(-time.Minute)}
	w, _ := newTestWorker(sess, gw, rec)

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(gw.published) != 1 || gw.published[0].Type != auth.EventSignedOut {
		t.Fatalf("published = %+v", gw.published)
	}
	if gw.published[0].Replaces != "r" {
		t.Errorf("Replaces = %q, want r", gw.published[0].Replaces)
	}
	if rec.results[0] != ResultRejected {
		t.Errorf("results = %v", rec.results)
	}
}

func TestRunOnce_NetworkFailure_ReturnsErrorWithoutEvent(t *testing.T) {
	gw := &mockGateway{refreshFn: func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		return nil, model.NewNetworkUnavailableError()
	}}
	rec := &fakeRecorder{}
	sess := &model.Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: baseTime}
	w, _ := newTestWorker(sess, gw, rec)

	err := w.RunOnce(context.Background())
	if !model.IsKind(err, model.KindNetworkUnavailable) {
		t.Errorf("err = %v, want network_unavailable", err)
	}
	if len(gw.published) != 0 {
		t.Errorf("published = %+v, want none", gw.published)
	}
	if rec.results[0] != ResultFailed {
		t.Errorf("results = %v", rec.results)
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	gw := &mockGateway{}
	w, buf := newTestWorker(nil, gw, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not stop after cancel")
	}
	if !bytes.Contains(buf.Bytes(), []byte("トークン更新ワーカーを停止しました")) {
		t.Errorf("log = %s", buf.String())
	}
}
