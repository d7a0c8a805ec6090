package auth

import (
	"context"

	"github.com/hitoshi/healthmate/internal/model"
)

// EventType はidentity APIからのプッシュ通知の種別。
type EventType string

const (
	// EventSignedIn は新しいセッションが確立されたことを示す（ディープリンク経由のログインなど）。
	EventSignedIn EventType = "SIGNED_IN"
	// EventSignedOut はセッションが破棄されたことを示す。
	EventSignedOut EventType = "SIGNED_OUT"
	// EventTokenRefreshed はセッショントークンが更新されたことを示す。
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event はこの層の呼び出しとは独立に届く認証イベント。
// SignedOutの場合Sessionはnil。
// Replacesはトークン更新の結果として発行された場合の更新元リフレッシュトークン。
// 受信時点のセッションと一致しないイベントは古いものとして破棄される。
type Event struct {
	Type     EventType
	Session  *model.Session
	Replaces string
}

// eventBufferSize はイベントチャネルのバッファ長。
const eventBufferSize = 16

// Events はプッシュイベントの受信チャネルを返す。
// 受信者はSessionStoreの1つのみを想定する。
func (g *Gateway) Events() <-chan Event {
	return g.events
}

// Publish はプッシュイベントを発行する。
// バッファが埋まっている場合は受信されるかctxが終了するまでブロックする。
func (g *Gateway) Publish(ctx context.Context, ev Event) error {
	select {
	case g.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
