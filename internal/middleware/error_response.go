package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/healthmate/internal/errclass"
	"github.com/hitoshi/healthmate/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusForKind はエラー種別をローカルAPIのHTTPステータスに対応付ける。
func StatusForKind(kind model.ErrorKind) int {
	switch kind {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindUnauthenticated:
		return http.StatusUnauthorized
	case model.KindUnauthorized:
		return http.StatusForbidden
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindConflict:
		return http.StatusConflict
	case model.KindNetworkUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponseBody は分類済みエラーからレスポンスボディを組み立てる。
func NewErrorResponseBody(ce *model.ClassifiedError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     strings.ToUpper(string(ce.Kind)),
		Message:  ce.Message,
		Category: ce.Category(),
		Action:   ce.Action(),
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteError はerrを分類し、種別に応じたステータスで書き込む。
// 分類済みでないエラーはここで一度だけ分類される。
func WriteError(w http.ResponseWriter, err error) {
	var ce *model.ClassifiedError
	if !errors.As(err, &ce) {
		ce = errclass.Classify(err)
	}
	WriteErrorResponse(w, StatusForKind(ce.Kind), NewErrorResponseBody(ce))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, ErrorResponseBody{
		Code:     "INTERNAL_ERROR",
		Message:  model.MessageUnexpected,
		Category: "system",
		Action:   "Please try again later.",
	})
}
