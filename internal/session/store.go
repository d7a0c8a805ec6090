package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/healthmate/internal/auth"
	"github.com/hitoshi/healthmate/internal/errclass"
	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/storage"
)

// Prober は到達性の確認を行う。
type Prober interface {
	CheckConnectivity(ctx context.Context) bool
}

// Gateway はSessionStoreが使う認証操作。
type Gateway interface {
	SignUp(ctx context.Context, email, password string, userData map[string]any) (*model.Identity, *model.Session, error)
	SignIn(ctx context.Context, email, password string) (*model.Identity, *model.Session, error)
	SignOut(ctx context.Context, sess *model.Session) error
	CurrentIdentity(ctx context.Context, sess *model.Session) (*model.Identity, error)
	RefreshSession(ctx context.Context, sess *model.Session) (*model.Session, error)
	Events() <-chan auth.Event
}

var _ Gateway = (*auth.Gateway)(nil)

// Profiles はSessionStoreが使うプロフィール操作。
type Profiles interface {
	CreateProfile(ctx context.Context, profile *model.Profile) (*model.Profile, error)
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
}

// Recorder は状態遷移を計測する。
type Recorder interface {
	RecordStateTransition(state string)
}

// ErrStopped はRunが終了した後に操作が要求された場合のエラー。
var ErrStopped = errors.New("session store is not running")

type job struct {
	name   string
	run    func(ctx context.Context) error
	result chan error
}

// Store は認証状態の状態機械。
// 状態の書き込みと永続化トークンの書き込みはRunのゴルーチンのみが行い、
// 手動操作はジョブとしてキューに積まれてプッシュイベントと同じループで処理される。
type Store struct {
	probe    Prober
	gateway  Gateway
	profiles Profiles
	tokens   storage.TokenStore
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	jobs    chan job
	stopped chan struct{}

	mu      sync.RWMutex
	state   State
	session *model.Session
	subs    map[int]func(State)
	nextSub int
}

// NewStore はStoreを生成する。recorderはnilでもよい。
// 状態はRunが呼ばれるまでinitializingのまま。
func NewStore(probe Prober, gateway Gateway, profiles Profiles, tokens storage.TokenStore, logger *slog.Logger, recorder Recorder) *Store {
	return &Store{
		probe:    probe,
		gateway:  gateway,
		profiles: profiles,
		tokens:   tokens,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		jobs:     make(chan job),
		stopped:  make(chan struct{}),
		state:    State{Status: StatusInitializing},
		subs:     make(map[int]func(State)),
	}
}

// Run は起動時の復元を行い、その後ctxが終了するまでジョブとプッシュイベントを1つずつ処理する。
// 処理中の遷移は呼び出し元のctxではなくこのctxで実行されるため、呼び出し元が待機を
// やめても中断されない。
func (s *Store) Run(ctx context.Context) error {
	defer close(s.stopped)

	s.logger.Info("セッションストアを開始しました")
	s.restore(ctx)

	events := s.gateway.Events()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("セッションストアを停止しました")
			return nil
		case j := <-s.jobs:
			j.result <- j.run(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			s.handleEvent(ctx, ev)
		}
	}
}

// State は現在の状態を返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe は状態遷移ごとに呼ばれる関数を登録し、登録解除関数を返す。
// fnはアクターのゴルーチンから同期的に呼ばれるため、ブロックしてはならない。
// 登録時点の状態は通知されないので、必要なら登録後にStateを読むこと。
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// AccessToken は現在のセッションのアクセストークンを返す。セッションが無い場合は空文字列。
// プロフィールリポジトリのトークン供給元として使う。
func (s *Store) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return ""
	}
	return s.session.AccessToken
}

// IdentityID は認証済みidentityのIDを返す。認証済みでない場合は空文字列。
func (s *Store) IdentityID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.state.Authenticated() || s.state.Identity == nil {
		return ""
	}
	return s.state.Identity.ID
}

// Session は現在のセッションのコピーを返す。セッションが無い場合はnil。
func (s *Store) Session() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	cp := *s.session
	return &cp
}

// SignIn はメールアドレスとパスワードでサインインし、identityとプロフィールを取得する。
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	return s.submit(ctx, "sign_in", func(ctx context.Context) error {
		if !s.probe.CheckConnectivity(ctx) {
			return s.reject(ctx, model.NewNetworkUnavailableError())
		}
		identity, sess, err := s.gateway.SignIn(ctx, email, password)
		if err != nil {
			return s.reject(ctx, err)
		}
		s.adopt(ctx, sess)
		return s.establish(ctx, sess, identity)
	})
}

// SignUp はidentityを登録し、seedを元にプロフィールを1回だけ作成する。
// プロフィールのIDは登録されたidentityのIDで上書きされる。
// identity APIがセッションを返さなかった場合は続けてサインインする。
func (s *Store) SignUp(ctx context.Context, email, password string, seed *model.Profile) error {
	return s.submit(ctx, "sign_up", func(ctx context.Context) error {
		if !s.probe.CheckConnectivity(ctx) {
			return s.reject(ctx, model.NewNetworkUnavailableError())
		}

		var userData map[string]any
		if seed != nil && seed.Name != "" {
			userData = map[string]any{"name": seed.Name}
		}
		identity, sess, err := s.gateway.SignUp(ctx, email, password, userData)
		if err != nil {
			return s.reject(ctx, err)
		}
		if sess == nil {
			if _, sess, err = s.gateway.SignIn(ctx, email, password); err != nil {
				return s.reject(ctx, err)
			}
		}
		s.adopt(ctx, sess)

		profile := newProfile(identity, seed)
		created, err := s.profiles.CreateProfile(ctx, profile)
		if model.IsKind(err, model.KindConflict) {
			// 既に作成済みのプロフィールはそのまま読み直す
			s.logger.Warn("プロフィールは作成済みです", slog.String("user_id", identity.ID))
			return s.establish(ctx, sess, identity)
		}
		if err != nil {
			return s.land(ctx, err)
		}

		s.logger.Info("プロフィールを作成しました", slog.String("user_id", identity.ID))
		s.publish(authenticated(identity, created))
		return nil
	})
}

// SignOut はセッションを破棄し、unauthenticatedに遷移する。
// 既にサインアウト済みでもエラーにしない。
func (s *Store) SignOut(ctx context.Context) error {
	return s.submit(ctx, "sign_out", func(ctx context.Context) error {
		if err := s.gateway.SignOut(ctx, s.Session()); err != nil {
			s.logger.Warn("リモートのサインアウトに失敗しました", slog.String("error", err.Error()))
		}
		s.discard(ctx)
		s.publish(unauthenticated(nil))
		return nil
	})
}

// RetryConnection はnetwork_errorからの再試行を行う。その他の状態では何もしない。
func (s *Store) RetryConnection(ctx context.Context) error {
	return s.submit(ctx, "retry_connection", func(ctx context.Context) error {
		if s.State().Status != StatusNetworkError {
			return nil
		}
		s.restore(ctx)
		return nil
	})
}

// RefreshProfile は認証済みidentityのプロフィールを読み直して再公開する。
// 認証済みでない場合はUnauthenticatedを返す。
func (s *Store) RefreshProfile(ctx context.Context) error {
	return s.submit(ctx, "refresh_profile", func(ctx context.Context) error {
		current := s.State()
		if !current.Authenticated() {
			return model.NewUnauthenticatedError("")
		}
		profile, err := s.profiles.GetProfile(ctx, current.Identity.ID)
		if err != nil {
			return s.reject(ctx, err)
		}
		s.publish(authenticated(current.Identity, profile))
		return nil
	})
}

// submit はジョブをアクターに渡し、完了を待つ。
// 呼び出し元のctxが先に終了した場合も、受け付け済みのジョブは最後まで実行される。
func (s *Store) submit(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	j := job{name: name, run: fn, result: make(chan error, 1)}
	select {
	case s.jobs <- j:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return errclass.Classify(ctx.Err())
	}

	select {
	case err := <-j.result:
		return err
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return errclass.Classify(ctx.Err())
	}
}

// handleEvent はプッシュイベントを処理する。
func (s *Store) handleEvent(ctx context.Context, ev auth.Event) {
	s.logger.Info("認証イベントを受信しました", slog.String("event", string(ev.Type)))

	switch ev.Type {
	case auth.EventSignedIn, auth.EventTokenRefreshed:
		if ev.Session == nil || ev.Session.AccessToken == "" {
			s.logger.Warn("セッションの無い認証イベントを無視します", slog.String("event", string(ev.Type)))
			return
		}
		if s.stale(ev) {
			return
		}
		s.adopt(ctx, ev.Session)
		s.publish(State{Status: StatusRestoring})
		if !s.reachable(ctx) {
			return
		}
		s.establish(ctx, ev.Session, nil)
	case auth.EventSignedOut:
		if s.stale(ev) {
			return
		}
		s.discard(ctx)
		s.publish(unauthenticated(nil))
	default:
		s.logger.Warn("未知の認証イベントを無視します", slog.String("event", string(ev.Type)))
	}
}

// restore は起動時と再試行時の復元処理。
// 到達性の確認を必ずidentityの取得より先に行い、オフラインを未認証と取り違えないようにする。
func (s *Store) restore(ctx context.Context) {
	s.publish(State{Status: StatusRestoring})

	if !s.reachable(ctx) {
		return
	}

	sess, err := s.tokens.Load(ctx)
	if err != nil {
		s.logger.Warn("保存済みセッションを読み込めません", slog.String("error", err.Error()))
		s.discard(ctx)
		s.publish(unauthenticated(nil))
		return
	}
	if sess == nil {
		s.publish(unauthenticated(nil))
		return
	}

	if sess.Expired(s.now()) {
		next, err := s.gateway.RefreshSession(ctx, sess)
		if err != nil {
			s.land(ctx, err)
			return
		}
		sess = next
	}
	s.adopt(ctx, sess)
	s.establish(ctx, sess, nil)
}

// reachable はバックエンドへの到達性を確認し、到達できない場合はnetwork_errorを公開する。
// identityの取得より先に呼び、オフラインを未認証と取り違えないようにする。
func (s *Store) reachable(ctx context.Context) bool {
	if s.probe.CheckConnectivity(ctx) {
		return true
	}
	s.logger.Warn("バックエンドに到達できません")
	s.publish(networkError(nil))
	return false
}

// stale はトークン更新の結果として発行されたイベントが、現在のセッションに対して古いかを返す。
// 更新の通信中にサインアウトや別ユーザーでのサインインが行われた場合に該当する。
// SIGNED_INは新しいセッションの確立なので常に適用する。
func (s *Store) stale(ev auth.Event) bool {
	if ev.Type == auth.EventSignedIn {
		return false
	}
	if ev.Type == auth.EventSignedOut && ev.Replaces == "" {
		return false
	}

	s.mu.RLock()
	current := s.session
	s.mu.RUnlock()

	var reason string
	switch {
	case current == nil:
		reason = "no current session"
	case ev.Replaces != "" && ev.Replaces != current.RefreshToken:
		reason = "refresh token mismatch"
	case ev.Session != nil && ev.Session.UserID != "" && current.UserID != "" && ev.Session.UserID != current.UserID:
		reason = "user mismatch"
	default:
		return false
	}
	s.logger.Info("古い認証イベントを破棄します",
		slog.String("event", string(ev.Type)),
		slog.String("reason", reason),
	)
	return true
}

// establish はidentityとプロフィールを取得して認証済み状態に遷移する。
// identityが既知の場合はidentity APIへの問い合わせを省略する。
func (s *Store) establish(ctx context.Context, sess *model.Session, identity *model.Identity) error {
	if identity == nil {
		var err error
		identity, err = s.gateway.CurrentIdentity(ctx, sess)
		if err != nil {
			return s.land(ctx, err)
		}
	}

	profile, err := s.profiles.GetProfile(ctx, identity.ID)
	if err != nil {
		return s.land(ctx, err)
	}

	s.logger.Info("認証済み状態に遷移しました", slog.String("user_id", identity.ID))
	s.publish(authenticated(identity, profile))
	return nil
}

// land は取得処理の失敗を必ずいずれかの確定状態に着地させる。
// Unauthenticatedは保存済みトークンも破棄し、NetworkUnavailableはトークンを残す。
// それ以外の失敗は未認証として扱うが、トークンは次回の起動のために残す。
func (s *Store) land(ctx context.Context, err error) error {
	ce := errclass.Classify(err)
	switch ce.Kind {
	case model.KindNetworkUnavailable:
		s.publish(networkError(ce))
	case model.KindUnauthenticated:
		s.discard(ctx)
		s.publish(unauthenticated(ce))
	default:
		s.logger.Error("セッションの確立に失敗しました",
			slog.String("kind", string(ce.Kind)),
			slog.String("error", ce.Message),
		)
		s.mu.Lock()
		s.session = nil
		s.mu.Unlock()
		s.publish(unauthenticated(ce))
	}
	return ce
}

// reject は操作の失敗を呼び出し元に返す。
// 状態を変えるのはNetworkUnavailableとUnauthenticatedのみで、それ以外は現在の状態を保つ。
func (s *Store) reject(ctx context.Context, err error) error {
	ce := errclass.Classify(err)
	switch ce.Kind {
	case model.KindNetworkUnavailable:
		s.publish(networkError(ce))
	case model.KindUnauthenticated:
		s.discard(ctx)
		s.publish(unauthenticated(ce))
	}
	return ce
}

// adopt はセッションをメモリに保持し、永続化する。
func (s *Store) adopt(ctx context.Context, sess *model.Session) {
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	if err := s.tokens.Save(ctx, sess); err != nil {
		s.logger.Error("セッションの保存に失敗しました", slog.String("error", err.Error()))
	}
}

// discard はメモリ上と永続化済みのセッションを破棄する。
func (s *Store) discard(ctx context.Context) {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()

	if err := s.tokens.Clear(ctx); err != nil {
		s.logger.Error("保存済みセッションの削除に失敗しました", slog.String("error", err.Error()))
	}
}

// publish は状態を更新し、購読者に通知する。
func (s *Store) publish(st State) {
	s.mu.Lock()
	s.state = st
	subs := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordStateTransition(string(st.Status))
	}
	for _, fn := range subs {
		fn(st)
	}
}

// newProfile はサインアップ時のseedから作成するプロフィールを組み立てる。
func newProfile(identity *model.Identity, seed *model.Profile) *model.Profile {
	p := &model.Profile{Notifications: true}
	if seed != nil {
		cp := *seed
		p = &cp
	}
	p.ID = identity.ID
	if p.Email == "" {
		p.Email = identity.Email
	}
	if p.Language == "" {
		p.Language = model.DefaultLanguage
	}
	return p
}
