// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は外部identity APIが発行した認証レコードを表す。
// 患者のドメインデータ（Profile）とは区別される。
type Identity struct {
	ID        string         `json:"id"`
	Email     string         `json:"email"`
	UserData  map[string]any `json:"userData,omitempty"` // サインアップ時に登録したユーザーメタデータ
	CreatedAt time.Time      `json:"createdAt"`
}

// Session は認証済みidentityの不透明なハンドルを表す。
// SessionStoreのみが保持・更新し、UIが直接変更することはない。
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	UserID       string    `json:"user_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired はnow時点でセッションが期限切れかを返す。
// 有効期限が不明（ゼロ値）の場合は期限切れとみなさない。
func (s *Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// ExpiresWithin はnowからmarginの間にセッションが期限切れになるかを返す。
func (s *Session) ExpiresWithin(margin time.Duration, now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(s.ExpiresAt)
}
