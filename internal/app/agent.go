package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/hitoshi/healthmate/internal/auth"
	"github.com/hitoshi/healthmate/internal/backend"
	"github.com/hitoshi/healthmate/internal/config"
	"github.com/hitoshi/healthmate/internal/connectivity"
	"github.com/hitoshi/healthmate/internal/database"
	"github.com/hitoshi/healthmate/internal/handler"
	"github.com/hitoshi/healthmate/internal/metrics"
	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/repository"
	"github.com/hitoshi/healthmate/internal/session"
	"github.com/hitoshi/healthmate/internal/storage"
	"github.com/hitoshi/healthmate/internal/worker/refresh"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// shutdownTimeout はローカルAPIのグレースフルシャットダウンの猶予。
const shutdownTimeout = 30 * time.Second

// Agent は依存関係をワイヤリング済みのエージェント本体。
type Agent struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *session.Store
	refresher *refresh.Worker
	limiter   *middleware.RateLimiter
	server    *http.Server
	closers   []func() error
}

// lazyTokens は状態機械より先に生成するリポジトリへ渡すトークン供給元。
type lazyTokens struct {
	store *session.Store
}

func (l *lazyTokens) AccessToken() string {
	if l.store == nil {
		return ""
	}
	return l.store.AccessToken()
}

// Build は設定から全依存関係を組み立てる。
// PostgreSQLを使う構成ではここで接続確認まで行う。バックエンドへの接続はServeまで行わない。
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	a := &Agent{cfg: cfg, logger: logger}

	// 1. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	collector := metrics.NewCollector(reg)

	// 2. バックエンドクライアントとプローブ
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	client := backend.NewClient(httpClient, cfg.BackendURL, cfg.BackendAnonKey, logger, collector)
	probe := connectivity.NewProbe(httpClient, connectivity.Config{
		BaseURL:      cfg.BackendURL,
		APIKey:       cfg.BackendAnonKey,
		HealthPath:   cfg.HealthCheckPath,
		FallbackPath: cfg.FallbackCheckPath,
		Timeout:      cfg.ProbeTimeout,
	}, logger, collector)
	gateway := auth.NewGateway(backend.NewIdentityAPI(client), probe, logger)

	// 3. トークンの永続化先
	tokens, err := a.openTokenStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 4. プロフィールリポジトリ
	relay := &lazyTokens{}
	repo, err := a.openProfileRepository(ctx, client, relay)
	if err != nil {
		a.Close()
		return nil, err
	}
	profiles := repository.NewInstrumentedRepo(repo, collector)

	// 5. 状態機械とトークン更新ワーカー
	a.store = session.NewStore(probe, gateway, profiles, tokens, logger, collector)
	relay.store = a.store
	a.refresher = refresh.NewWorker(a.store, gateway, logger, collector, cfg.RefreshMargin)

	// 6. ローカルAPI
	a.limiter = middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth), logger)
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            logger,
		Identity:          a.store,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       a.limiter,
		CSRF:              middleware.CSRFConfig{CookieSecure: cfg.CookieSecure, Logger: logger},
		Store:             a.store,
		Adopter:           gateway,
		Profiles:          profiles,
		Metrics:           metrics.Handler(reg),
	})

	// WebSocketのストリームは長時間開いたままになるため、WriteTimeoutは設定しない
	a.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return a, nil
}

func (a *Agent) openTokenStore(ctx context.Context) (storage.TokenStore, error) {
	switch a.cfg.TokenStore {
	case config.TokenStoreSQLite:
		s, err := storage.OpenSQLiteStore(ctx, a.cfg.TokenStorePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open token store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return storage.NewFileStore(a.cfg.TokenStorePath), nil
	}
}

func (a *Agent) openProfileRepository(ctx context.Context, client *backend.Client, tokens repository.TokenSource) (repository.ProfileRepository, error) {
	if a.cfg.ProfileStore != config.ProfileStorePostgres {
		return repository.NewRESTProfileRepo(client, tokens, a.logger), nil
	}

	db, err := database.Open(a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	if err := database.Ping(ctx, db, 5*time.Second); err != nil {
		return nil, err
	}
	a.logger.Info("database connection established")
	return repository.NewPostgresProfileRepo(db, a.logger), nil
}

// Store は状態機械を返す。
func (a *Agent) Store() *session.Store {
	return a.store
}

// Serve は状態機械、トークン更新ワーカー、ローカルAPIを起動し、ctxが終了するまでブロックする。
// ctxの終了後はローカルAPIをグレースフルに停止し、各ゴルーチンの終了を待ってから戻る。
func (a *Agent) Serve(ctx context.Context, ln net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := a.store.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("session store stopped", slog.String("error", err.Error()))
		}
	}()
	go func() {
		defer wg.Done()
		a.refresher.Start(ctx, a.cfg.RefreshInterval)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("local API starting", slog.String("addr", ln.Addr().String()))
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			err = fmt.Errorf("local API stopped: %w", err)
		}
	}

	a.logger.Info("shutting down local API...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = fmt.Errorf("server shutdown failed: %w", shutdownErr)
	}

	cancel()
	wg.Wait()
	return err
}

// Close は開いたリソースを解放する。
func (a *Agent) Close() error {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
