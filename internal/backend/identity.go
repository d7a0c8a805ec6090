package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// AuthUser はidentity APIが返すユーザーレコード。
type AuthUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// AuthResponse はサインアップ・トークン発行のレスポンス。
// メール確認が必要な設定ではサインアップ時にトークンが空になる。
type AuthResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int64     `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	User         *AuthUser `json:"user"`
}

// UnmarshalJSON はセッション付きの形とユーザーのみの形の両方を受け付ける。
func (r *AuthResponse) UnmarshalJSON(data []byte) error {
	type plain AuthResponse
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = AuthResponse(p)
	if r.User == nil {
		var u AuthUser
		if err := json.Unmarshal(data, &u); err == nil && u.ID != "" {
			r.User = &u
		}
	}
	return nil
}

// HasSession はレスポンスにセッショントークンが含まれているかを返す。
func (r *AuthResponse) HasSession() bool {
	return r.AccessToken != ""
}

// IdentityAPI はidentity APIのエンドポイント群を呼び出す。
type IdentityAPI struct {
	client *Client
}

// NewIdentityAPI はIdentityAPIを生成する。
func NewIdentityAPI(client *Client) *IdentityAPI {
	return &IdentityAPI{client: client}
}

type credentials struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// SignUp はメールアドレスとパスワードでidentityを登録する。
// POST /auth/v1/signup
func (a *IdentityAPI) SignUp(ctx context.Context, email, password string, userData map[string]any) (*AuthResponse, error) {
	var resp AuthResponse
	err := a.client.do(ctx, request{
		operation: "auth_signup",
		method:    http.MethodPost,
		path:      "/auth/v1/signup",
		body:      credentials{Email: email, Password: password, Data: userData},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// SignInWithPassword はパスワードグラントでセッションを発行する。
// POST /auth/v1/token?grant_type=password
func (a *IdentityAPI) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	var resp AuthResponse
	err := a.client.do(ctx, request{
		operation: "auth_signin",
		method:    http.MethodPost,
		path:      "/auth/v1/token",
		query:     url.Values{"grant_type": {"password"}},
		body:      credentials{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshToken はリフレッシュトークンでセッションを更新する。
// POST /auth/v1/token?grant_type=refresh_token
func (a *IdentityAPI) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	var resp AuthResponse
	err := a.client.do(ctx, request{
		operation: "auth_refresh",
		method:    http.MethodPost,
		path:      "/auth/v1/token",
		query:     url.Values{"grant_type": {"refresh_token"}},
		body:      map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout はアクセストークンに紐づくセッションをリモートで失効させる。
// POST /auth/v1/logout
func (a *IdentityAPI) Logout(ctx context.Context, accessToken string) error {
	return a.client.do(ctx, request{
		operation: "auth_logout",
		method:    http.MethodPost,
		path:      "/auth/v1/logout",
		token:     accessToken,
	}, nil)
}

// GetUser はアクセストークンの持ち主のユーザーレコードを取得する。
// GET /auth/v1/user
func (a *IdentityAPI) GetUser(ctx context.Context, accessToken string) (*AuthUser, error) {
	var user AuthUser
	err := a.client.do(ctx, request{
		operation: "auth_get_user",
		method:    http.MethodGet,
		path:      "/auth/v1/user",
		token:     accessToken,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
