package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/healthmate/internal/config"
	"github.com/hitoshi/healthmate/internal/connectivity"
	"github.com/hitoshi/healthmate/internal/database"
	"github.com/hitoshi/healthmate/internal/logger"
)

// defaultListenAddr はLISTEN_ADDRが未設定の場合のローカルAPIのアドレス。
const defaultListenAddr = "127.0.0.1:8787"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたレベルでロガーを作り直す
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		addr := os.Getenv("LISTEN_ADDR")
		if addr == "" {
			addr = defaultListenAddr
		}
		return runHealthcheck(addr)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("backend_url", cfg.BackendURL),
		slog.String("profile_store", cfg.ProfileStore),
		slog.String("token_store", cfg.TokenStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandProbe:
		return runProbe(ctx, cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はエージェントを起動する。
// 状態機械、トークン更新ワーカー、ローカルAPIを起動し、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	agent, err := Build(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build agent: %w", err)
	}
	defer agent.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr, err)
	}

	if err := agent.Serve(ctx, ln); err != nil {
		return err
	}

	slog.Info("agent stopped gracefully")
	return nil
}

// runMigrate はプロフィールテーブルのマイグレーションを実行する。
// セルフホストのPostgreSQLを使う構成向け。すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for migrate")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runProbe はバックエンドへの到達性を1回確認する。到達できない場合はエラーを返す。
func runProbe(ctx context.Context, cfg *config.Config) error {
	probe := connectivity.NewProbe(&http.Client{Timeout: cfg.HTTPTimeout}, connectivity.Config{
		BaseURL:      cfg.BackendURL,
		APIKey:       cfg.BackendAnonKey,
		HealthPath:   cfg.HealthCheckPath,
		FallbackPath: cfg.FallbackCheckPath,
		Timeout:      cfg.ProbeTimeout,
	}, slog.Default(), nil)

	reachable := probe.CheckConnectivity(ctx)
	slog.Info("connectivity probe finished", slog.Bool("reachable", reachable))
	if !reachable {
		return fmt.Errorf("backend %s is unreachable", cfg.BackendURL)
	}
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// 起動中のローカルAPIの /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(addr string) error {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	target := (&url.URL{Scheme: "http", Host: addr, Path: "/health"}).String()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	if u.User != nil {
		u.User = url.User("***")
	}
	u.RawQuery = ""
	return u.String()
}
