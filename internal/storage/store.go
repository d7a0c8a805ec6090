// Package storage はセッションのローカル永続化を提供する。
// 永続化するのはセッション1件のみで、キーは SessionKey に固定される。
package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/healthmate/internal/model"
)

// SessionKey はセッションを保存するキー。
const SessionKey = "healthmate.auth.session"

// TokenStore はセッションの永続化先を表す。
// 書き込みはSessionStoreのアクターからのみ行われる。
type TokenStore interface {
	// Load は保存済みのセッションを返す。保存されていない場合は (nil, nil) を返す。
	Load(ctx context.Context) (*model.Session, error)
	// Save はセッションを保存する。既存の値は上書きされる。
	Save(ctx context.Context, session *model.Session) error
	// Clear は保存済みのセッションを削除する。保存されていなくてもエラーにしない。
	Clear(ctx context.Context) error
}

// 永続化先の種類（TOKEN_STORE）
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
)

func encodeSession(s *model.Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return data, nil
}

func decodeSession(data []byte) (*model.Session, error) {
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode stored session: %w", err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}
