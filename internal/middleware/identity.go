package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/healthmate/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey      = contextKey("user_id")
	requestIDContextKey   = contextKey("request_id")
	requestInfoContextKey = contextKey("request_info")
)

// IdentitySource は認証済みidentityのIDを返す。認証済みでない場合は空文字列。
// session.Storeが実装する。
type IdentitySource interface {
	IdentityID() string
}

// NewIdentityGuard は認証済みidentityが存在するリクエストのみを通すミドルウェアを返す。
// identityのIDをリクエストコンテキストに注入する。
// 認証済みでない場合は401を返す。
func NewIdentityGuard(source IdentitySource) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := source.IdentityID()
			if userID == "" {
				WriteError(w, model.NewUnauthenticatedError(""))
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), userID)))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// NewIdentityGuardを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ロギングミドルウェアの内側であれば、リクエストログにも記録される。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info, ok := ctx.Value(requestInfoContextKey).(*requestInfo); ok {
		info.userID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}
