package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/session"
)

// SessionStore はセッションハンドラーが必要とする状態機械のインターフェース。
type SessionStore interface {
	State() session.State
	Subscribe(fn func(session.State)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) error
	SignUp(ctx context.Context, email, password string, seed *model.Profile) error
	SignOut(ctx context.Context) error
	RetryConnection(ctx context.Context) error
	RefreshProfile(ctx context.Context) error
}

var _ SessionStore = (*session.Store)(nil)

// SessionAdopter はディープリンクで受け取ったトークンを取り込む。
// auth.Gatewayが実装する。
type SessionAdopter interface {
	AdoptSession(ctx context.Context, accessToken, refreshToken string) (*model.Session, error)
}

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

// SessionHandler は認証状態の参照と認証操作のHTTPハンドラー。
type SessionHandler struct {
	store    SessionStore
	adopter  SessionAdopter
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewSessionHandler はSessionHandlerを生成する。
// allowedOriginはWebSocket接続を受け付けるOrigin。Originヘッダーの無いネイティブクライアントは常に許可する。
func NewSessionHandler(store SessionStore, adopter SessionAdopter, allowedOrigin string, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		store:   store,
		adopter: adopter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origin == allowedOrigin
			},
		},
	}
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// signUpRequest はサインアップ画面とプロフィール設定画面の入力をまとめたもの。
type signUpRequest struct {
	Email           string                        `json:"email"`
	Password        string                        `json:"password"`
	ConfirmPassword string                        `json:"confirmPassword"`
	Name            string                        `json:"name"`
	Phone           string                        `json:"phone"`
	DateOfBirth     string                        `json:"dateOfBirth"`
	Gender          string                        `json:"gender"`
	BloodType       string                        `json:"bloodType"`
	Height          string                        `json:"height"`
	Weight          string                        `json:"weight"`
	Notifications   *bool                         `json:"notifications"`
	Language        string                        `json:"language"`
	MedicalHistory  []model.MedicalHistoryEntry   `json:"medicalHistory"`
	Allergies       []model.AllergyEntry          `json:"allergies"`
	Medications     []model.MedicationEntry       `json:"medications"`
	Contacts        []model.EmergencyContactEntry `json:"emergencyContacts"`
}

// seed はサインアップ入力から作成するプロフィールを組み立てる。BMIはここで1度だけ算出する。
func (req signUpRequest) seed() *model.Profile {
	p := &model.Profile{
		Name:              req.Name,
		Email:             req.Email,
		Phone:             req.Phone,
		DateOfBirth:       req.DateOfBirth,
		Gender:            req.Gender,
		BloodType:         req.BloodType,
		Height:            req.Height,
		Weight:            req.Weight,
		BMI:               model.ComputeBMI(req.Height, req.Weight),
		Notifications:     true,
		Language:          req.Language,
		MedicalHistory:    req.MedicalHistory,
		Allergies:         req.Allergies,
		Medications:       req.Medications,
		EmergencyContacts: req.Contacts,
	}
	if req.Notifications != nil {
		p.Notifications = *req.Notifications
	}
	p.NormalizeCollections()
	return p
}

type callbackRequest struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// GetSession は現在の公開状態を返す。
// GET /api/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(h.store.State()))
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /api/auth/signin
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.store.SignIn(r.Context(), req.Email, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(h.store.State()))
}

// SignUp はidentityを登録し、入力内容からプロフィールを作成する。
// POST /api/auth/signup
func (h *SessionHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if blank(req.Email) || req.Password == "" || req.ConfirmPassword == "" || blank(req.Name) {
		middleware.WriteError(w, model.NewValidationError("Please fill in all required fields"))
		return
	}
	if req.Password != req.ConfirmPassword {
		middleware.WriteError(w, model.NewValidationError("Passwords do not match"))
		return
	}
	seed := req.seed()
	if err := validateOptionalMeasurements(seed.Height, seed.Weight); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := validateVocabulary(seed.Gender, seed.BloodType); err != nil {
		middleware.WriteError(w, err)
		return
	}
	if err := validateCollections(seed); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if err := h.store.SignUp(r.Context(), req.Email, req.Password, seed); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(h.store.State()))
}

// SignOut はセッションを破棄する。サインアウト済みでも成功する。
// POST /api/auth/signout
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.store.SignOut(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Retry はnetwork_error状態からの再接続を試みる。
// POST /api/auth/retry
func (h *SessionHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RetryConnection(r.Context()); err != nil {
		middleware.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(h.store.State()))
}

// Callback はメール確認などのディープリンクで受け取ったトークンを取り込む。
// 状態の更新はSignedInイベント経由で非同期に行われるため、202を返す。
// POST /api/auth/callback
func (h *SessionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, err)
		return
	}

	if _, err := h.adopter.AdoptSession(r.Context(), req.AccessToken, req.RefreshToken); err != nil {
		middleware.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Stream はWebSocketで公開状態を配信する。
// 接続直後に現在の状態を送り、以降は遷移ごとに最新の状態を送る。
// 遅い受信者には途中の状態を間引き、常に最新の状態が届くようにする。
// GET /api/session/stream
func (h *SessionHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeがエラーレスポンスを書き込み済み
		h.logger.Warn("WebSocketへの切り替えに失敗しました", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	// 購読してから現在の状態を読むことで、その間の遷移を取りこぼさない
	notify := make(chan struct{}, 1)
	unsubscribe := h.store.Subscribe(func(session.State) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go h.readPump(conn, done)

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	if err := h.writeState(conn, h.store.State()); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-notify:
			if err := h.writeState(conn, h.store.State()); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *SessionHandler) writeState(conn *websocket.Conn, st session.State) error {
	data, err := json.Marshal(toSessionResponse(st))
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("状態の送信に失敗しました", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// readPump はクライアントからのメッセージを読み捨て、切断を検知したらdoneを閉じる。
func (h *SessionHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
