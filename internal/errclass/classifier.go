// Package errclass は任意の失敗（トランスポートエラー、バックエンドのエラーレスポンス、
// PostgreSQLのエラー）を固定語彙のエラー種別に分類する。
// 分類は生のエラーに触れる最下層で一度だけ行い、上位層はmodel.ClassifiedErrorのみを扱う。
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"

	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/security"
	"github.com/lib/pq"
)

// ErrNetworkRequestFailed はレスポンスを受け取れなかったことを示す汎用エラー。
var ErrNetworkRequestFailed = errors.New("Network request failed")

// ErrSessionMissing は有効なセッションが存在しないことを示す。
var ErrSessionMissing = errors.New("Auth session missing!")

// StatusError はHTTPステータスとメッセージを持つバックエンド由来のエラー。
// backend.HTTPErrorが実装する。
type StatusError interface {
	error
	StatusCode() int
	ErrorCode() string
	ErrorMessage() string
}

// Classifier はエラー分類器。
type Classifier struct {
	sanitizer security.MessageSanitizer
}

// New はClassifierを生成する。
func New(sanitizer security.MessageSanitizer) *Classifier {
	return &Classifier{sanitizer: sanitizer}
}

var defaultClassifier = New(security.NewMessageSanitizer())

// Classify はデフォルトの分類器でerrを分類する。
func Classify(err error) *model.ClassifiedError {
	return defaultClassifier.Classify(err)
}

// Classify はerrを分類済みエラーに変換する。panicせず、nil以外の入力には常に値を返す。
// 判定順序:
//  1. 分類済みエラーはそのまま返す
//  2. レスポンスを受け取れなかったトランスポート障害 → NetworkUnavailable
//  3. セッション不在 → Unauthenticated
//  4. バックエンド/PostgreSQLのエラー → メッセージとステータスを引き継いで種別を決定
//  5. それ以外 → Unknown（ステータス500）
func (c *Classifier) Classify(err error) *model.ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *model.ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	if isTransportFailure(err) {
		return model.NewNetworkUnavailableError()
	}

	if errors.Is(err, ErrSessionMissing) || err.Error() == ErrSessionMissing.Error() {
		return model.NewUnauthenticatedError(model.MessageSignInRequired)
	}

	var se StatusError
	if errors.As(err, &se) {
		return c.fromStatus(se.StatusCode(), se.ErrorCode(), se.ErrorMessage())
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return c.fromPostgres(pqErr)
	}

	msg := c.sanitizer.Sanitize(err.Error())
	if msg == "" {
		msg = model.MessageUnexpected
	}
	return &model.ClassifiedError{
		Kind:    model.KindUnknown,
		Message: msg,
		Status:  500,
	}
}

// fromStatus はバックエンドのステータス・コード・メッセージから分類済みエラーを生成する。
func (c *Classifier) fromStatus(status int, code, message string) *model.ClassifiedError {
	msg := c.sanitizer.Sanitize(message)
	if msg == "" {
		msg = model.MessageUnexpected
	}
	if status == 0 {
		status = 500
	}

	kind := kindForStatus(status)
	if k, ok := kindForCode(code); ok {
		kind = k
	}

	return &model.ClassifiedError{
		Kind:    kind,
		Message: msg,
		Status:  status,
		Code:    code,
	}
}

// fromPostgres はPostgreSQLのエラーをSQLSTATEに基づいて分類する。
func (c *Classifier) fromPostgres(pqErr *pq.Error) *model.ClassifiedError {
	code := string(pqErr.Code)
	kind, ok := kindForCode(code)
	if !ok {
		kind = model.KindUnknown
	}

	msg := c.sanitizer.Sanitize(pqErr.Message)
	if msg == "" {
		msg = model.MessageUnexpected
	}

	return &model.ClassifiedError{
		Kind:    kind,
		Message: msg,
		Status:  statusForKind(kind),
		Code:    code,
	}
}

// kindForStatus はHTTPステータスからエラー種別を決定する。
func kindForStatus(status int) model.ErrorKind {
	switch status {
	case 400, 422:
		return model.KindValidation
	case 401:
		return model.KindUnauthenticated
	case 403:
		return model.KindUnauthorized
	case 404:
		return model.KindNotFound
	case 409:
		return model.KindConflict
	default:
		return model.KindUnknown
	}
}

// kindForCode はバックエンドのエラーコード（SQLSTATE、identity APIのerror_code）から種別を決定する。
// 該当しない場合はfalseを返す。
func kindForCode(code string) (model.ErrorKind, bool) {
	switch code {
	case "23505", "user_already_exists", "email_exists":
		return model.KindConflict, true
	case "23502", "23503", "23514", "22P02", "22001", "validation_failed", "weak_password", "email_address_invalid":
		return model.KindValidation, true
	case "42501":
		return model.KindUnauthorized, true
	case "PGRST301", "bad_jwt", "session_not_found", "refresh_token_not_found":
		return model.KindUnauthenticated, true
	case "PGRST116":
		return model.KindNotFound, true
	default:
		return "", false
	}
}

// statusForKind はエラー種別に対応する代表的なHTTPステータスを返す。
func statusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return 400
	case model.KindUnauthenticated:
		return 401
	case model.KindUnauthorized:
		return 403
	case model.KindNotFound:
		return 404
	case model.KindConflict:
		return 409
	case model.KindNetworkUnavailable:
		return 0
	default:
		return 500
	}
}

// isTransportFailure はレスポンスを受け取る前に失敗したかを判定する。
func isTransportFailure(err error) bool {
	if errors.Is(err, ErrNetworkRequestFailed) || err.Error() == ErrNetworkRequestFailed.Error() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENETUNREACH) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// 接続系エラーがラップされずに文字列化されている場合
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
