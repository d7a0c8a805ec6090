package errclass

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
	"testing"

	"github.com/hitoshi/healthmate/internal/model"
	"github.com/lib/pq"
)

// fakeStatusError はStatusErrorのテスト用実装。
type fakeStatusError struct {
	status  int
	code    string
	message string
}

func (e *fakeStatusError) Error() string        { return e.message }
func (e *fakeStatusError) StatusCode() int      { return e.status }
func (e *fakeStatusError) ErrorCode() string    { return e.code }
func (e *fakeStatusError) ErrorMessage() string { return e.message }

var _ StatusError = (*fakeStatusError)(nil)

func TestClassify_Nil(t *testing.T) {
	if got := Classify(nil); got != nil {
		t.Errorf("Classify(nil) = %+v, want nil", got)
	}
}

func TestClassify_AlreadyClassified_ReturnsSameValue(t *testing.T) {
	orig := model.NewConflictError("duplicate")
	got := Classify(fmt.Errorf("wrapped: %w", orig))
	if got != orig {
		t.Errorf("Classify() = %+v, want the original classified error", got)
	}
}

func TestClassify_TransportFailures(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"url.Error", &url.Error{Op: "Get", URL: "https://backend.example", Err: errors.New("dial tcp: i/o timeout")}},
		{"OpError", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}},
		{"DNSError", &net.DNSError{Err: "no such host", Name: "backend.example"}},
		{"ECONNRESET", fmt.Errorf("read: %w", syscall.ECONNRESET)},
		{"DeadlineExceeded", fmt.Errorf("probe: %w", context.DeadlineExceeded)},
		{"NetworkRequestFailed", ErrNetworkRequestFailed},
		{"NetworkRequestFailedText", errors.New("Network request failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != model.KindNetworkUnavailable {
				t.Errorf("Kind = %q, want %q", got.Kind, model.KindNetworkUnavailable)
			}
			if got.Status != 0 {
				t.Errorf("Status = %d, want 0", got.Status)
			}
			if !strings.Contains(got.Message, "check your internet connection") {
				t.Errorf("Message = %q, want the connection hint", got.Message)
			}
		})
	}
}

func TestClassify_SessionMissing(t *testing.T) {
	for _, err := range []error{ErrSessionMissing, errors.New("Auth session missing!"), fmt.Errorf("get user: %w", ErrSessionMissing)} {
		got := Classify(err)
		if got.Kind != model.KindUnauthenticated || got.Status != 401 {
			t.Errorf("Classify(%v) = %+v, want unauthenticated/401", err, got)
		}
		if got.Message != model.MessageSignInRequired {
			t.Errorf("Message = %q, want %q", got.Message, model.MessageSignInRequired)
		}
	}
}

func TestClassify_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      *fakeStatusError
		wantKind model.ErrorKind
		wantCode int
	}{
		{"400", &fakeStatusError{status: 400, message: "bad input"}, model.KindValidation, 400},
		{"401", &fakeStatusError{status: 401, message: "JWT expired"}, model.KindUnauthenticated, 401},
		{"403", &fakeStatusError{status: 403, message: "forbidden"}, model.KindUnauthorized, 403},
		{"404", &fakeStatusError{status: 404, message: "missing"}, model.KindNotFound, 404},
		{"409", &fakeStatusError{status: 409, message: "exists"}, model.KindConflict, 409},
		{"500", &fakeStatusError{status: 500, message: "boom"}, model.KindUnknown, 500},
		{"unique violation code", &fakeStatusError{status: 400, code: "23505", message: "duplicate key"}, model.KindConflict, 400},
		{"user already exists", &fakeStatusError{status: 422, code: "user_already_exists", message: "User already registered"}, model.KindConflict, 422},
		{"rls violation", &fakeStatusError{status: 401, code: "42501", message: "row-level security"}, model.KindUnauthorized, 401},
		{"no status", &fakeStatusError{status: 0, message: ""}, model.KindUnknown, 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", got.Kind, tt.wantKind)
			}
			if got.Status != tt.wantCode {
				t.Errorf("Status = %d, want %d", got.Status, tt.wantCode)
			}
		})
	}
}

func TestClassify_StatusError_PassesThroughSanitizedMessage(t *testing.T) {
	got := Classify(&fakeStatusError{status: 502, message: "<h1>502 Bad Gateway</h1>"})
	if got.Message != "502 Bad Gateway" {
		t.Errorf("Message = %q, want %q", got.Message, "502 Bad Gateway")
	}
	if got.Status != 502 || got.Kind != model.KindUnknown {
		t.Errorf("got %+v, want unknown/502", got)
	}
}

func TestClassify_EmptyBackendMessage_DefaultsToGeneric(t *testing.T) {
	got := Classify(&fakeStatusError{status: 500})
	if got.Message != model.MessageUnexpected {
		t.Errorf("Message = %q, want %q", got.Message, model.MessageUnexpected)
	}
}

func TestClassify_PostgresErrors(t *testing.T) {
	tests := []struct {
		code     pq.ErrorCode
		wantKind model.ErrorKind
		wantCode int
	}{
		{"23505", model.KindConflict, 409},
		{"23503", model.KindValidation, 400},
		{"42501", model.KindUnauthorized, 403},
		{"57P01", model.KindUnknown, 500},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			err := fmt.Errorf("insert profile: %w", &pq.Error{Code: tt.code, Message: "postgres says no"})
			got := Classify(err)
			if got.Kind != tt.wantKind || got.Status != tt.wantCode {
				t.Errorf("Classify() = %+v, want %s/%d", got, tt.wantKind, tt.wantCode)
			}
			if got.Message != "postgres says no" {
				t.Errorf("Message = %q", got.Message)
			}
		})
	}
}

func TestClassify_UnknownError(t *testing.T) {
	got := Classify(errors.New("something odd"))
	if got.Kind != model.KindUnknown || got.Status != 500 {
		t.Errorf("Classify() = %+v, want unknown/500", got)
	}
	if got.Message != "something odd" {
		t.Errorf("Message = %q, want %q", got.Message, "something odd")
	}
}
