package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/repository"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	Identity          middleware.IdentitySource
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig

	// 状態機械と認証
	Store   SessionStore
	Adopter SessionAdopter

	// プロフィール
	Profiles repository.ProfileRepository

	// /metrics のハンドラー（nilの場合はルートを登録しない）
	Metrics http.Handler
}

// NewRouter はローカルAPIのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS
//	  /api/auth/*    : RateLimit(Auth) → CSRF
//	  /api/profile/* : CSRF → IdentityGuard → RateLimit(General)
//
// /health と /metrics はチェーンの外側（CORSまで）に置く。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	sessionHandler := NewSessionHandler(deps.Store, deps.Adopter, deps.CORSAllowedOrigin, deps.Logger)
	profileHandler := NewProfileHandler(deps.Profiles, deps.Store, deps.Logger)

	// --- 認証不要のルート ---

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
	r.Get("/api/session", sessionHandler.GetSession)
	r.Get("/api/session/stream", sessionHandler.Stream)

	// 認証操作（クライアントIP単位のレート制限）
	r.Route("/api/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Post("/signin", sessionHandler.SignIn)
		r.Post("/signup", sessionHandler.SignUp)
		r.Post("/signout", sessionHandler.SignOut)
		r.Post("/retry", sessionHandler.Retry)
		r.Post("/callback", sessionHandler.Callback)
	})

	// --- 認証が必要なルート ---
	r.Route("/api/profile", func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))
		r.Use(middleware.NewIdentityGuard(deps.Identity))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		profileHandler.Routes(r)
	})

	return r
}
