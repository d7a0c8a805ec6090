package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// プロフィールの保存先（PROFILE_STORE）
const (
	ProfileStoreREST     = "rest"
	ProfileStorePostgres = "postgres"
)

// トークンの保存先（TOKEN_STORE）。storage.KindFile / storage.KindSQLite と同じ値。
const (
	TokenStoreFile   = "file"
	TokenStoreSQLite = "sqlite"
)

// Config はエージェント全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Backend
	BackendURL        string
	BackendAnonKey    string
	HealthCheckPath   string
	FallbackCheckPath string
	ProbeTimeout      time.Duration
	HTTPTimeout       time.Duration

	// Token store
	TokenStore     string
	TokenStorePath string

	// Profile store
	ProfileStore string
	DatabaseURL  string

	// Token refresh
	RefreshMargin   time.Duration
	RefreshInterval time.Duration

	// Local API
	ListenAddr        string
	CORSAllowedOrigin string
	CookieSecure      bool

	// Rate Limit（req/min）
	RateLimitAuth    int
	RateLimitGeneral int

	// Logging
	LogLevel string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BackendURL = strings.TrimRight(os.Getenv("BACKEND_URL"), "/")
	if cfg.BackendURL == "" {
		missing = append(missing, "BACKEND_URL")
	}

	cfg.BackendAnonKey = os.Getenv("BACKEND_ANON_KEY")
	if cfg.BackendAnonKey == "" {
		missing = append(missing, "BACKEND_ANON_KEY")
	}

	cfg.ProfileStore = getEnvString("PROFILE_STORE", ProfileStoreREST)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.ProfileStore == ProfileStorePostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if u, err := url.Parse(cfg.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("BACKEND_URL must be an absolute URL: %q", cfg.BackendURL)
	}

	// Optional fields with defaults
	cfg.HealthCheckPath = getEnvString("HEALTH_CHECK_PATH", "/rest/v1/health")
	cfg.FallbackCheckPath = getEnvString("FALLBACK_CHECK_PATH", "/auth/v1/token?grant_type=password")
	cfg.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", 5*time.Second)
	cfg.HTTPTimeout = getEnvDuration("HTTP_TIMEOUT", 15*time.Second)
	cfg.TokenStore = getEnvString("TOKEN_STORE", TokenStoreFile)
	cfg.TokenStorePath = getEnvString("TOKEN_STORE_PATH", defaultTokenStorePath(cfg.TokenStore))
	cfg.RefreshMargin = getEnvDuration("REFRESH_MARGIN", 60*time.Second)
	cfg.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", 30*time.Second)
	cfg.ListenAddr = getEnvString("LISTEN_ADDR", "127.0.0.1:8787")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:19006")
	cfg.CookieSecure = strings.HasPrefix(cfg.CORSAllowedOrigin, "https://")
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	switch cfg.TokenStore {
	case TokenStoreFile, TokenStoreSQLite:
	default:
		return nil, fmt.Errorf("TOKEN_STORE must be %q or %q: %q", TokenStoreFile, TokenStoreSQLite, cfg.TokenStore)
	}
	switch cfg.ProfileStore {
	case ProfileStoreREST, ProfileStorePostgres:
	default:
		return nil, fmt.Errorf("PROFILE_STORE must be %q or %q: %q", ProfileStoreREST, ProfileStorePostgres, cfg.ProfileStore)
	}

	return cfg, nil
}

// defaultTokenStorePath はユーザー設定ディレクトリ配下の保存先を返す。
func defaultTokenStorePath(kind string) string {
	name := "session.json"
	if kind == TokenStoreSQLite {
		name = "session.db"
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".healthmate", name)
	}
	return filepath.Join(dir, "healthmate", name)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
