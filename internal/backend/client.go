// Package backend は外部バックエンド（identity API・テーブルAPI）のHTTPクライアントを提供する。
// 特定ベンダーのSDKには依存せず、GoTrue/PostgREST互換の汎用的なHTTP契約のみを前提とする。
// トランスポート障害とエラーレスポンスはこの層でmodel.ClassifiedErrorに分類する。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/healthmate/internal/errclass"
)

const (
	// userAgent はバックエンドへのリクエストに付与するUser-Agent。
	userAgent = "Healthmate/1.0"
	// maxErrorBodySize はエラーレスポンスボディの最大読み取りサイズ。
	maxErrorBodySize = 64 << 10
)

// RequestRecorder はバックエンド呼び出しの計測インターフェース。
// metrics.Collectorが実装する。
type RequestRecorder interface {
	RecordBackendRequest(operation string, statusCode int, duration time.Duration)
}

// Client はバックエンドのHTTPクライアント。
// グローバルなシングルトンではなく、AuthGateway・ProfileRepositoryに注入して使う。
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *slog.Logger
	recorder   RequestRecorder
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLの末尾のスラッシュは取り除く。recorderはnilでもよい。
func NewClient(httpClient *http.Client, baseURL, apiKey string, logger *slog.Logger, recorder RequestRecorder) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		logger:     logger,
		recorder:   recorder,
	}
}

// HTTPError はバックエンドが返したエラーレスポンスを表す。
// errclass.StatusErrorを実装し、分類器にステータス・コード・メッセージを渡す。
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Message)
}

// StatusCode はHTTPステータスコードを返す。
func (e *HTTPError) StatusCode() int { return e.Status }

// ErrorCode はバックエンド固有のエラーコードを返す。
func (e *HTTPError) ErrorCode() string { return e.Code }

// ErrorMessage はバックエンドのエラーメッセージを返す。
func (e *HTTPError) ErrorMessage() string { return e.Message }

var _ errclass.StatusError = (*HTTPError)(nil)

// request はバックエンドへの1リクエストの内容。
type request struct {
	operation string // 計測・ログ用の操作名
	method    string
	path      string
	query     url.Values
	token     string            // Bearerトークン（空の場合はAPIキーを使う）
	headers   map[string]string // 追加ヘッダー
	body      any
}

// do はリクエストを実行し、成功時はレスポンスボディをoutにデコードする。
// 戻り値のエラーは常に*model.ClassifiedErrorである。
func (c *Client) do(ctx context.Context, r request, out any) error {
	endpoint := c.baseURL + r.path
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		data, err := json.Marshal(r.body)
		if err != nil {
			return errclass.Classify(fmt.Errorf("failed to encode request body: %w", err))
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, body)
	if err != nil {
		return errclass.Classify(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.apiKey)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token := r.token
	if token == "" {
		token = c.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(r.operation, 0, time.Since(start))
		c.logger.Warn("backend request failed",
			slog.String("operation", r.operation),
			slog.String("error", err.Error()),
		)
		return errclass.Classify(err)
	}
	defer resp.Body.Close()
	c.record(r.operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= http.StatusBadRequest {
		httpErr := parseHTTPError(resp)
		c.logger.Warn("backend returned error status",
			slog.String("operation", r.operation),
			slog.Int("http_status", httpErr.Status),
			slog.String("code", httpErr.Code),
		)
		return errclass.Classify(httpErr)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errclass.Classify(fmt.Errorf("failed to read response body: %w", err))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.logger.Error("failed to decode backend response",
			slog.String("operation", r.operation),
			slog.String("error", err.Error()),
		)
		return errclass.Classify(fmt.Errorf("failed to decode response: %w", err))
	}

	return nil
}

func (c *Client) record(operation string, status int, d time.Duration) {
	if c.recorder != nil {
		c.recorder.RecordBackendRequest(operation, status, d)
	}
}

// errorBody はidentity API・テーブルAPIのエラーレスポンスの共通形。
// 実装によってフィールド名が異なるため、候補を全て受け取る。
type errorBody struct {
	Message          string          `json:"message"`
	Msg              string          `json:"msg"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// parseHTTPError はエラーレスポンスのボディからHTTPErrorを組み立てる。
// JSONとして解釈できない場合はボディ全体をメッセージとして扱う。
func parseHTTPError(resp *http.Response) *HTTPError {
	httpErr := &HTTPError{Status: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		httpErr.Message = strings.TrimSpace(string(data))
		if httpErr.Message == "" {
			httpErr.Message = http.StatusText(resp.StatusCode)
		}
		return httpErr
	}

	httpErr.Message = firstNonEmpty(eb.Message, eb.Msg, eb.ErrorDescription, eb.Error, http.StatusText(resp.StatusCode))
	httpErr.Code = eb.ErrorCode
	if httpErr.Code == "" && len(eb.Code) > 0 {
		// PostgRESTはcodeを文字列、identity APIは数値で返す
		var s string
		if err := json.Unmarshal(eb.Code, &s); err == nil {
			httpErr.Code = s
		}
	}
	if httpErr.Code == "" && eb.Error != "" && eb.ErrorDescription != "" {
		httpErr.Code = eb.Error
	}

	return httpErr
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
