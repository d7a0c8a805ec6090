package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/healthmate/internal/backend"
	"github.com/hitoshi/healthmate/internal/model"
)

// tokenClaims はアクセストークンから読み取るクレーム。
// この層はトークンの発行者ではないため署名は検証しない（検証はバックエンドが行う）。
func tokenClaims(accessToken string) (subject string, expiresAt time.Time) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, &claims); err != nil {
		return "", time.Time{}
	}
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return claims.Subject, expiresAt
}

// sessionFromTokens はトークンの組からSessionを組み立てる。
// 有効期限とユーザーIDはJWTのexp/subから補完する。
func sessionFromTokens(accessToken, refreshToken string) *model.Session {
	sub, exp := tokenClaims(accessToken)
	return &model.Session{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		UserID:       sub,
		ExpiresAt:    exp,
	}
}

// sessionFromResponse はidentity APIのレスポンスからSessionを組み立てる。
// expires_at、expires_in、JWTのexpの順に有効期限を決める。
func sessionFromResponse(resp *backend.AuthResponse, now time.Time) *model.Session {
	s := sessionFromTokens(resp.AccessToken, resp.RefreshToken)
	if resp.TokenType != "" {
		s.TokenType = resp.TokenType
	}
	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.User != nil && resp.User.ID != "" {
		s.UserID = resp.User.ID
	}
	return s
}

func identityFromUser(u *backend.AuthUser) *model.Identity {
	data := u.UserMetadata
	if data == nil {
		data = map[string]any{}
	}
	return &model.Identity{
		ID:        u.ID,
		Email:     u.Email,
		UserData:  data,
		CreatedAt: u.CreatedAt,
	}
}
