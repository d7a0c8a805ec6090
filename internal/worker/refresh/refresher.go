// Package refresh はセッショントークンのバックグラウンド更新を提供する。
// 期限切れが近いセッションをリフレッシュし、結果を認証イベントとして発行する。
// 状態の更新はイベントを受け取ったSessionStoreが行い、このワーカーは状態を書き込まない。
package refresh

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/healthmate/internal/auth"
	"github.com/hitoshi/healthmate/internal/model"
)

// SessionSource は現在のセッションを返す。
type SessionSource interface {
	Session() *model.Session
}

// Gateway はトークン更新とイベント発行のインターフェース。
type Gateway interface {
	RefreshSession(ctx context.Context, sess *model.Session) (*model.Session, error)
	Publish(ctx context.Context, ev auth.Event) error
}

var _ Gateway = (*auth.Gateway)(nil)

// Recorder はトークン更新の結果を計測する。
type Recorder interface {
	RecordTokenRefresh(result string)
}

// 計測用の結果ラベル
const (
	ResultRefreshed = "refreshed"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Worker は一定間隔でセッションの有効期限を確認し、必要なら更新する。
type Worker struct {
	sessions SessionSource
	gateway  Gateway
	logger   *slog.Logger
	recorder Recorder
	margin   time.Duration
	now      func() time.Time
}

// NewWorker はWorkerを生成する。marginは期限切れの何秒前から更新するかを表す。
// recorderはnilでもよい。
func NewWorker(sessions SessionSource, gateway Gateway, logger *slog.Logger, recorder Recorder, margin time.Duration) *Worker {
	return &Worker{
		sessions: sessions,
		gateway:  gateway,
		logger:   logger,
		recorder: recorder,
		margin:   margin,
		now:      time.Now,
	}
}

// Start はintervalごとにRunOnceを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Worker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("トークン更新ワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("margin", w.margin),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("トークン更新ワーカーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Warn("トークン更新に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は現在のセッションを1回確認する。
// 更新が拒否された場合はSIGNED_OUTを、成功した場合はTOKEN_REFRESHEDを発行する。
// どちらのイベントにも更新元のリフレッシュトークンを載せ、通信中にセッションが
// 入れ替わった場合はSessionStoreが破棄できるようにする。
// ネットワーク断などの一時的な失敗はエラーとして返し、次回の実行で再試行される。
func (w *Worker) RunOnce(ctx context.Context) error {
	sess := w.sessions.Session()
	if sess == nil || sess.RefreshToken == "" {
		return nil
	}
	if !sess.ExpiresWithin(w.margin, w.now()) {
		return nil
	}

	next, err := w.gateway.RefreshSession(ctx, sess)
	if err != nil {
		if model.IsKind(err, model.KindUnauthenticated) {
			w.record(ResultRejected)
			w.logger.Warn("セッションの更新が拒否されました",
				slog.String("user_id", sess.UserID),
			)
			return w.gateway.Publish(ctx, auth.Event{Type: auth.EventSignedOut, Replaces: sess.RefreshToken})
		}
		w.record(ResultFailed)
		return err
	}

	w.record(ResultRefreshed)
	w.logger.Info("セッションを更新しました",
		slog.String("user_id", next.UserID),
		slog.Time("expires_at", next.ExpiresAt),
	)
	return w.gateway.Publish(ctx, auth.Event{Type: auth.EventTokenRefreshed, Session: next, Replaces: sess.RefreshToken})
}

func (w *Worker) record(result string) {
	if w.recorder != nil {
		w.recorder.RecordTokenRefresh(result)
	}
}
