package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/healthmate/internal/middleware"
	"github.com/hitoshi/healthmate/internal/model"
	"github.com/hitoshi/healthmate/internal/session"
)

// maxBodyBytes はリクエストボディの上限。プロフィール全体でも十分収まる。
const maxBodyBytes = 64 << 10

// writeJSON はvをJSONで書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON はリクエストボディをvに読み込む。
// 解析できない場合はValidationエラーを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewValidationError("Request body is too large")
		}
		if errors.Is(err, io.EOF) {
			return model.NewValidationError("Request body is required")
		}
		return model.NewValidationError("Request body must be valid JSON")
	}
	return nil
}

// sessionResponse は公開状態のAPIレスポンス。
// identityとprofileは認証済みの場合のみ含まれる。
type sessionResponse struct {
	Status   session.Status                `json:"status"`
	Identity *model.Identity               `json:"identity,omitempty"`
	Profile  *model.Profile                `json:"profile,omitempty"`
	Error    *middleware.ErrorResponseBody `json:"error,omitempty"`
}

func toSessionResponse(st session.State) sessionResponse {
	resp := sessionResponse{
		Status:   st.Status,
		Identity: st.Identity,
		Profile:  st.Profile,
	}
	if st.Err != nil {
		body := middleware.NewErrorResponseBody(st.Err)
		resp.Error = &body
	}
	return resp
}
