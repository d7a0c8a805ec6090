package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/healthmate/internal/model"
)

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// TestWriteError_ClassifiedError は分類済みエラーが種別に応じたステータスと統一フォーマットで書き込まれることを検証する。
func TestWriteError_ClassifiedError(t *testing.T) {
	tests := []struct {
		err        *model.ClassifiedError
		wantStatus int
		wantCode   string
		wantCat    string
	}{
		{model.NewValidationError("Name is required"), http.StatusBadRequest, "VALIDATION", "validation"},
		{model.NewUnauthenticatedError(""), http.StatusUnauthorized, "UNAUTHENTICATED", "auth"},
		{&model.ClassifiedError{Kind: model.KindUnauthorized, Message: "denied"}, http.StatusForbidden, "UNAUTHORIZED", "auth"},
		{model.NewProfileNotFoundError("u1"), http.StatusNotFound, "NOT_FOUND", "profile"},
		{model.NewConflictError("dup"), http.StatusConflict, "CONFLICT", "validation"},
		{model.NewNetworkUnavailableError(), http.StatusServiceUnavailable, "NETWORK_UNAVAILABLE", "network"},
		{&model.ClassifiedError{Kind: model.KindUnknown, Message: "boom"}, http.StatusInternalServerError, "UNKNOWN", "system"},
	}

	for _, tt := range tests {
		t.Run(string(tt.err.Kind), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			body := decodeErrorBody(t, w)
			if body.Code != tt.wantCode || body.Category != tt.wantCat || body.Message != tt.err.Message {
				t.Errorf("body = %+v", body)
			}
			if body.Action == "" {
				t.Error("action should not be empty")
			}
		})
	}
}

// TestWriteError_WrappedClassifiedError はラップされた分類済みエラーも取り出されることを検証する。
func TestWriteError_WrappedClassifiedError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.Join(errors.New("context"), model.NewConflictError("dup")))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

// TestWriteError_RawError は未分類のエラーがUnknownとして書き込まれることを検証する。
func TestWriteError_RawError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, errors.New("something odd"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := decodeErrorBody(t, w); body.Code != "UNKNOWN" {
		t.Errorf("code = %q, want UNKNOWN", body.Code)
	}
}

func TestWriteInternalServerError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternalServerError(w)

	body := decodeErrorBody(t, w)
	if w.Code != http.StatusInternalServerError || body.Code != "INTERNAL_ERROR" || body.Message != model.MessageUnexpected {
		t.Errorf("status = %d, body = %+v", w.Code, body)
	}
}
