// Package session は現在の認証状態を所有する状態機械を提供する。
// プッシュイベントと手動操作の2つのトリガーを1つのアクターで直列化し、
// 購読者には常に1つの一貫した状態を公開する。
package session

import "github.com/hitoshi/healthmate/internal/model"

// Status は公開される状態の種別。
type Status string

const (
	StatusInitializing    Status = "initializing"
	StatusRestoring       Status = "restoring"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusNetworkError    Status = "network_error"
)

// State は購読者に公開される状態のスナップショット。
// IdentityとProfileはStatusAuthenticatedの場合のみ設定される。
// Errはこの状態に至った失敗の分類（あれば）。
type State struct {
	Status   Status
	Identity *model.Identity
	Profile  *model.Profile
	Err      *model.ClassifiedError
}

// Authenticated は認証済み状態かを返す。
func (s State) Authenticated() bool {
	return s.Status == StatusAuthenticated
}

// Settled は処理中（initializing / restoring）でないかを返す。
func (s State) Settled() bool {
	return s.Status != StatusInitializing && s.Status != StatusRestoring
}

func authenticated(identity *model.Identity, profile *model.Profile) State {
	return State{Status: StatusAuthenticated, Identity: identity, Profile: profile}
}

func unauthenticated(err *model.ClassifiedError) State {
	return State{Status: StatusUnauthenticated, Err: err}
}

func networkError(err *model.ClassifiedError) State {
	if err == nil {
		err = model.NewNetworkUnavailableError()
	}
	return State{Status: StatusNetworkError, Err: err}
}
