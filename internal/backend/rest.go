package backend

import (
	"context"
	"net/http"
	"net/url"
)

// Table はテーブルAPI（/rest/v1/<table>）の1テーブルへのアクセサ。
// 認可は行レベルセキュリティに委ねるため、呼び出しごとにユーザーのアクセストークンを渡す。
type Table struct {
	client *Client
	name   string
}

// Table は名前付きテーブルのアクセサを返す。
func (c *Client) Table(name string) *Table {
	return &Table{client: c, name: name}
}

// Name はテーブル名を返す。
func (t *Table) Name() string {
	return t.name
}

func (t *Table) path() string {
	return "/rest/v1/" + t.name
}

// Eq はカラムの等値フィルタ（column=eq.value）を生成する。
func Eq(column, value string) url.Values {
	return url.Values{column: {"eq." + value}}
}

// Select はフィルタに一致する行を取得し、outにデコードする。
// selectExprが空の場合は全カラムを取得する。
func (t *Table) Select(ctx context.Context, token, selectExpr string, filter url.Values, out any) error {
	q := cloneValues(filter)
	if selectExpr == "" {
		selectExpr = "*"
	}
	q.Set("select", selectExpr)
	return t.client.do(ctx, request{
		operation: "select_" + t.name,
		method:    http.MethodGet,
		path:      t.path(),
		query:     q,
		token:     token,
	}, out)
}

// Insert は行（単体または配列）を挿入し、挿入された行をoutにデコードする。
func (t *Table) Insert(ctx context.Context, token string, rows any, out any) error {
	return t.client.do(ctx, request{
		operation: "insert_" + t.name,
		method:    http.MethodPost,
		path:      t.path(),
		token:     token,
		headers:   representation(out),
		body:      rows,
	}, out)
}

// Update はフィルタに一致する行をpatchで更新し、更新後の行をoutにデコードする。
func (t *Table) Update(ctx context.Context, token string, filter url.Values, patch any, out any) error {
	return t.client.do(ctx, request{
		operation: "update_" + t.name,
		method:    http.MethodPatch,
		path:      t.path(),
		query:     cloneValues(filter),
		token:     token,
		headers:   representation(out),
		body:      patch,
	}, out)
}

// Delete はフィルタに一致する行を削除する。一致する行がなくてもエラーにしない。
func (t *Table) Delete(ctx context.Context, token string, filter url.Values) error {
	return t.client.do(ctx, request{
		operation: "delete_" + t.name,
		method:    http.MethodDelete,
		path:      t.path(),
		query:     cloneValues(filter),
		token:     token,
	}, nil)
}

func representation(out any) map[string]string {
	if out == nil {
		return map[string]string{"Prefer": "return=minimal"}
	}
	return map[string]string{"Prefer": "return=representation"}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
