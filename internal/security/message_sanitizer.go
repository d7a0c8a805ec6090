// Package security はアプリケーションのセキュリティ機能を提供する。
//
// MessageSanitizer はバックエンドから返されたエラーメッセージからマークアップを除去し、
// UIにそのまま表示できるプレーンテキストに変換する。
// リバースプロキシが返すHTMLのエラーページがメッセージとして紛れ込むケースに対応する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxMessageLength はUIに渡すメッセージの最大文字数。
const maxMessageLength = 300

// MessageSanitizer はエラーメッセージのサニタイズ機能のインターフェースを定義する。
type MessageSanitizer interface {
	// Sanitize は全てのHTMLタグを除去し、空白を正規化したテキストを返す。
	// 空文字列の入力には空文字列を返す。
	Sanitize(raw string) string
}

// messageSanitizer はMessageSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type messageSanitizer struct {
	policy *bluemonday.Policy
}

// NewMessageSanitizer はMessageSanitizerの新しいインスタンスを生成する。
// タグを一切許可しないStrictPolicyに、タグ除去時の空白挿入を加えたポリシーを使う。
func NewMessageSanitizer() *messageSanitizer {
	p := bluemonday.StrictPolicy()
	p.AddSpaceWhenStrippingTag(true)

	return &messageSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// bluemondayがエスケープした文字実体参照は元に戻し、連続する空白は1つにまとめる。
func (s *messageSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	if !strings.ContainsAny(raw, "<>&") {
		return truncate(strings.Join(strings.Fields(raw), " "))
	}

	text := html.UnescapeString(s.policy.Sanitize(raw))
	return truncate(strings.Join(strings.Fields(text), " "))
}

// truncate はmaxMessageLength文字を超える部分を切り詰める。
func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxMessageLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxMessageLength]) + "…"
}
