package repository

import (
	"context"
	"net/url"

	"github.com/hitoshi/healthmate/internal/backend"
)

type ownerKey struct{}

// WithOwner は子エントリの更新・削除を指定した患者の行に限定するコンテキストを返す。
// 指定が無い場合はエントリIDのみで対象を決める。
func WithOwner(ctx context.Context, patientID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, patientID)
}

// OwnerFromContext はWithOwnerで指定された患者IDを返す。未指定の場合は空文字列。
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// entryFilter は子エントリ1行を指すフィルタを返す。
func entryFilter(ctx context.Context, id string) url.Values {
	filter := backend.Eq("id", id)
	if owner := OwnerFromContext(ctx); owner != "" {
		filter.Set("patient_id", "eq."+owner)
	}
	return filter
}
