// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind は分類済みエラーの種別を表す。
// 取りうる値は固定の語彙に限られ、発生元のトランスポートには依存しない。
type ErrorKind string

const (
	// KindNetworkUnavailable はバックエンドに到達できないことを示す（再試行で回復可能）。
	KindNetworkUnavailable ErrorKind = "network_unavailable"
	// KindUnauthenticated は有効なセッションが存在しないことを示す。
	KindUnauthenticated ErrorKind = "unauthenticated"
	// KindUnauthorized は現在のidentityに対して操作が拒否されたことを示す。
	KindUnauthorized ErrorKind = "unauthorized"
	// KindConflict はメールアドレスやプロフィールの重複を示す。
	KindConflict ErrorKind = "conflict"
	// KindValidation は呼び出し側で修正可能な入力エラーを示す。
	KindValidation ErrorKind = "validation"
	// KindNotFound は指定IDのレコードが存在しないことを示す。
	KindNotFound ErrorKind = "not_found"
	// KindUnknown は上記のいずれにも該当しないエラーを示す。
	KindUnknown ErrorKind = "unknown"
)

// ユーザー向けの定型メッセージ
const (
	MessageNetworkUnavailable = "Unable to connect to the server. Please check your internet connection."
	MessageSignInRequired     = "Please sign in to continue"
	MessageUnexpected         = "An unexpected error occurred"
)

// ClassifiedError は正規化されたエラー値を表す。
// 生のトランスポートエラーを触る最下層で一度だけ生成され、上位層はこの型のみを扱う。
type ClassifiedError struct {
	Kind    ErrorKind // エラー種別
	Message string    // UIに表示可能なメッセージ
	Status  int       // HTTPステータスのヒント（ネットワーク断の場合は0）
	Code    string    // バックエンドが返したエラーコード（任意）
}

// Error はerrorインターフェースを実装する。
func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Category はUI向けの原因カテゴリを返す。
func (e *ClassifiedError) Category() string {
	switch e.Kind {
	case KindNetworkUnavailable:
		return "network"
	case KindUnauthenticated, KindUnauthorized:
		return "auth"
	case KindValidation, KindConflict:
		return "validation"
	case KindNotFound:
		return "profile"
	default:
		return "system"
	}
}

// Action はユーザー向けの対処方法を返す。
func (e *ClassifiedError) Action() string {
	switch e.Kind {
	case KindNetworkUnavailable:
		return "Check your connection and tap Retry."
	case KindUnauthenticated:
		return "Sign in again."
	case KindUnauthorized:
		return "This account is not allowed to perform the operation."
	case KindConflict:
		return "The record already exists. Use different details or sign in instead."
	case KindValidation:
		return "Correct the highlighted fields and try again."
	case KindNotFound:
		return "Reload your profile and try again."
	default:
		return "Please try again later."
	}
}

// KindOf はerrが分類済みエラーであればその種別を返す。
// 分類済みでない場合はKindUnknownを返す。
func KindOf(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind はerrが指定種別の分類済みエラーかを判定する。
func IsKind(err error, kind ErrorKind) bool {
	var ce *ClassifiedError
	return errors.As(err, &ce) && ce.Kind == kind
}

// NewNetworkUnavailableError はネットワーク断エラーを生成する。
func NewNetworkUnavailableError() *ClassifiedError {
	return &ClassifiedError{
		Kind:    KindNetworkUnavailable,
		Message: MessageNetworkUnavailable,
		Status:  0,
	}
}

// NewUnauthenticatedError は未認証エラーを生成する。
// messageが空の場合は定型メッセージを使用する。
func NewUnauthenticatedError(message string) *ClassifiedError {
	if message == "" {
		message = MessageSignInRequired
	}
	return &ClassifiedError{
		Kind:    KindUnauthenticated,
		Message: message,
		Status:  401,
	}
}

// NewValidationError は入力エラーを生成する。
func NewValidationError(message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:    KindValidation,
		Message: message,
		Status:  400,
	}
}

// NewConflictError は重複エラーを生成する。
func NewConflictError(message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:    KindConflict,
		Message: message,
		Status:  409,
	}
}

// NewNotFoundError はレコード未検出エラーを生成する。
func NewNotFoundError(message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:    KindNotFound,
		Message: message,
		Status:  404,
	}
}

// NewProfileNotFoundError はプロフィール未検出エラーを生成する。
func NewProfileNotFoundError(id string) *ClassifiedError {
	return NewNotFoundError(fmt.Sprintf("No profile data found for user %s", id))
}
