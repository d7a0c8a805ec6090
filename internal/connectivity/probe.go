// Package connectivity はバックエンドへの到達性を判定する接続プローブを提供する。
// identity APIのエラーは「オフライン」と「未認証」を区別できないため、
// 認証系の呼び出しの前に必ずこのプローブで到達性を確認する。
package connectivity

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout はプローブ全体（プライマリ＋フォールバック）のデフォルトタイムアウト。
const DefaultTimeout = 5 * time.Second

// Recorder は接続確認の計測インターフェース。
type Recorder interface {
	RecordConnectivityCheck(reachable bool, duration time.Duration)
}

// Checker は到達性判定のインターフェース。SessionStoreが利用する。
type Checker interface {
	CheckConnectivity(ctx context.Context) bool
}

// Config はプローブの設定。
type Config struct {
	BaseURL      string
	APIKey       string
	HealthPath   string
	FallbackPath string
	Timeout      time.Duration
}

// Probe はバックエンドのヘルスエンドポイントに軽量リクエストを送り到達性を判定する。
type Probe struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
	recorder   Recorder
}

var _ Checker = (*Probe)(nil)

// NewProbe はProbeを生成する。Timeoutが0以下の場合はDefaultTimeoutを使う。
// recorderはnilでもよい。
func NewProbe(httpClient *http.Client, cfg Config, logger *slog.Logger, recorder Recorder) *Probe {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Probe{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
		recorder:   recorder,
	}
}

// CheckConnectivity はバックエンドに到達できるかを返す。エラーは返さない。
// プライマリが失敗（トランスポートエラーまたは2xx以外）した場合のみフォールバックを1回試す。
// どちらかが何らかのHTTPステータスを返せば到達可能とみなす。
// 全体がタイムアウト内に終わらない場合はfalseを返す。
func (p *Probe) CheckConnectivity(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	start := time.Now()
	reachable := p.check(ctx)
	elapsed := time.Since(start)

	if p.recorder != nil {
		p.recorder.RecordConnectivityCheck(reachable, elapsed)
	}
	if reachable {
		p.logger.Debug("backend reachable", slog.Duration("elapsed", elapsed))
	} else {
		p.logger.Warn("backend unreachable", slog.Duration("elapsed", elapsed))
	}
	return reachable
}

func (p *Probe) check(ctx context.Context) bool {
	status, err := p.send(ctx, http.MethodGet, p.cfg.HealthPath, nil)
	if err == nil && status >= 200 && status < 300 {
		return true
	}
	primaryResponded := err == nil
	if err != nil {
		p.logger.Info("primary health check failed, trying fallback",
			slog.String("error", err.Error()),
		)
	}

	status, err = p.send(ctx, http.MethodPost, p.cfg.FallbackPath, []byte("{}"))
	if err != nil {
		p.logger.Info("fallback health check failed",
			slog.String("error", err.Error()),
		)
		return primaryResponded
	}
	p.logger.Debug("fallback health check responded", slog.Int("http_status", status))
	return true
}

// send はリクエストを1回送り、受け取ったHTTPステータスを返す。
// ステータスを受け取れなかった場合のみエラーを返す。
func (p *Probe) send(ctx context.Context, method, path string, body []byte) (int, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, r)
	if err != nil {
		return 0, err
	}
	req.Header.Set("apikey", p.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return resp.StatusCode, nil
}
