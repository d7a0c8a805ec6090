// Package auth は外部identity APIに対する薄いゲートウェイと、認証イベントのバスを提供する。
// パスワードのハッシュ化やトークンの発行は行わず、すべてidentity APIに委ねる。
package auth

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/healthmate/internal/backend"
	"github.com/hitoshi/healthmate/internal/errclass"
	"github.com/hitoshi/healthmate/internal/model"
)

// IdentityAPI はidentity APIのインターフェース。
// backend.IdentityAPIが実装し、テストではモックに差し替える。
type IdentityAPI interface {
	SignUp(ctx context.Context, email, password string, userData map[string]any) (*backend.AuthResponse, error)
	SignInWithPassword(ctx context.Context, email, password string) (*backend.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*backend.AuthResponse, error)
	Logout(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*backend.AuthUser, error)
}

var _ IdentityAPI = (*backend.IdentityAPI)(nil)

// Prober はバックエンドへの到達性を確認する。
type Prober interface {
	CheckConnectivity(ctx context.Context) bool
}

// Gateway はidentity APIに対する認証操作を提供する。
// セッションは保持せず、呼び出し側（SessionStore）から明示的に受け取る。
type Gateway struct {
	api    IdentityAPI
	probe  Prober
	logger *slog.Logger
	events chan Event
	now    func() time.Time
}

// NewGateway はGatewayを生成する。
// probeはAdoptSessionでトークンを検証する前の到達性確認に使う。nilの場合は確認しない。
func NewGateway(api IdentityAPI, probe Prober, logger *slog.Logger) *Gateway {
	return &Gateway{
		api:    api,
		probe:  probe,
		logger: logger,
		events: make(chan Event, eventBufferSize),
		now:    time.Now,
	}
}

// SignUp はidentityを新規登録する。プロフィールは作成しない。
// メール確認が必要な構成ではSessionはnilで返る。
func (g *Gateway) SignUp(ctx context.Context, email, password string, userData map[string]any) (*model.Identity, *model.Session, error) {
	if err := validateSignUp(email, password); err != nil {
		return nil, nil, err
	}
	email = strings.TrimSpace(email)

	resp, err := g.api.SignUp(ctx, email, password, userData)
	if err != nil {
		ce := errclass.Classify(err)
		if isAlreadyRegistered(ce) {
			return nil, nil, model.NewConflictError(ce.Message)
		}
		return nil, nil, ce
	}
	if resp.User == nil || resp.User.ID == "" {
		return nil, nil, &model.ClassifiedError{
			Kind:    model.KindUnknown,
			Message: "Sign-up did not return a user",
			Status:  500,
		}
	}

	identity := identityFromUser(resp.User)
	if identity.Email == "" {
		identity.Email = email
	}
	var sess *model.Session
	if resp.HasSession() {
		sess = sessionFromResponse(resp, g.now())
	}

	g.logger.Info("identity registered",
		slog.String("user_id", identity.ID),
		slog.Bool("session_issued", sess != nil),
	)
	return identity, sess, nil
}

// SignIn はメールアドレスとパスワードでセッションを確立する。
// 認証情報の誤りはUnauthenticatedとして返す。
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*model.Identity, *model.Session, error) {
	if err := validateSignIn(email, password); err != nil {
		return nil, nil, err
	}

	resp, err := g.api.SignInWithPassword(ctx, strings.TrimSpace(email), password)
	if err != nil {
		ce := errclass.Classify(err)
		switch ce.Kind {
		case model.KindValidation, model.KindUnauthenticated, model.KindUnauthorized, model.KindNotFound:
			return nil, nil, model.NewUnauthenticatedError(ce.Message)
		}
		return nil, nil, ce
	}
	if !resp.HasSession() {
		return nil, nil, model.NewUnauthenticatedError("Sign-in did not return a session")
	}

	sess := sessionFromResponse(resp, g.now())
	var identity *model.Identity
	if resp.User != nil && resp.User.ID != "" {
		identity = identityFromUser(resp.User)
	} else {
		identity, err = g.CurrentIdentity(ctx, sess)
		if err != nil {
			return nil, nil, err
		}
		sess.UserID = identity.ID
	}

	g.logger.Info("signed in", slog.String("user_id", identity.ID))
	return identity, sess, nil
}

// SignOut はセッションをリモートで失効させる。
// リモート呼び出しが失敗してもローカルでは常に成功として扱う。nilセッションは何もしない。
func (g *Gateway) SignOut(ctx context.Context, sess *model.Session) error {
	if sess == nil || sess.AccessToken == "" {
		return nil
	}
	if err := g.api.Logout(ctx, sess.AccessToken); err != nil {
		g.logger.Warn("remote sign-out failed, continuing locally",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	g.logger.Info("signed out", slog.String("user_id", sess.UserID))
	return nil
}

// CurrentIdentity はセッションの持ち主のidentityを取得する。
// 呼び出し前に接続プローブで到達性を確認しておくこと。
// セッションが無い、またはidentity APIがセッションを拒否した場合はUnauthenticatedを返す。
func (g *Gateway) CurrentIdentity(ctx context.Context, sess *model.Session) (*model.Identity, error) {
	if sess == nil || sess.AccessToken == "" {
		return nil, errclass.Classify(errclass.ErrSessionMissing)
	}

	user, err := g.api.GetUser(ctx, sess.AccessToken)
	if err != nil {
		return nil, rejectedSession(errclass.Classify(err))
	}
	if user == nil || user.ID == "" {
		return nil, errclass.Classify(errclass.ErrSessionMissing)
	}
	return identityFromUser(user), nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
// リフレッシュが拒否された場合はUnauthenticatedを返す。
func (g *Gateway) RefreshSession(ctx context.Context, sess *model.Session) (*model.Session, error) {
	if sess == nil || sess.RefreshToken == "" {
		return nil, errclass.Classify(errclass.ErrSessionMissing)
	}

	resp, err := g.api.RefreshToken(ctx, sess.RefreshToken)
	if err != nil {
		return nil, rejectedSession(errclass.Classify(err))
	}
	if !resp.HasSession() {
		return nil, errclass.Classify(errclass.ErrSessionMissing)
	}

	next := sessionFromResponse(resp, g.now())
	if next.UserID == "" {
		next.UserID = sess.UserID
	}
	if next.RefreshToken == "" {
		next.RefreshToken = sess.RefreshToken
	}
	return next, nil
}

// AdoptSession はディープリンク等で受け取ったトークンの組を検証し、SignedInイベントとして発行する。
// 状態の更新はイベントを受け取ったSessionStoreが行う。
func (g *Gateway) AdoptSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error) {
	if accessToken == "" {
		return nil, model.NewValidationError("access_token is required")
	}

	// オフラインでの検証失敗を無効なトークンと取り違えないよう、先に到達性を確認する
	if g.probe != nil && !g.probe.CheckConnectivity(ctx) {
		return nil, model.NewNetworkUnavailableError()
	}

	sess := sessionFromTokens(accessToken, refreshToken)
	identity, err := g.CurrentIdentity(ctx, sess)
	if err != nil {
		return nil, err
	}
	sess.UserID = identity.ID

	if err := g.Publish(ctx, Event{Type: EventSignedIn, Session: sess}); err != nil {
		return nil, errclass.Classify(err)
	}
	g.logger.Info("session adopted from callback", slog.String("user_id", identity.ID))
	return sess, nil
}

// rejectedSession はidentity APIがセッションを受け付けなかった場合の分類を
// Unauthenticatedに寄せる。ネットワーク断などはそのまま返す。
func rejectedSession(ce *model.ClassifiedError) *model.ClassifiedError {
	switch ce.Kind {
	case model.KindUnauthenticated, model.KindUnauthorized, model.KindNotFound, model.KindValidation:
		return model.NewUnauthenticatedError(ce.Message)
	}
	return ce
}

// isAlreadyRegistered はサインアップ失敗がメールアドレスの重複によるものかを判定する。
func isAlreadyRegistered(ce *model.ClassifiedError) bool {
	if ce.Kind == model.KindConflict {
		return true
	}
	if ce.Kind != model.KindValidation {
		return false
	}
	return strings.Contains(strings.ToLower(ce.Message), "already registered")
}
