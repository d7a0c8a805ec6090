// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// バックエンドクライアント、接続プローブ、セッションストア、リフレッシュワーカーから利用する。
type MetricsCollector interface {
	RecordBackendRequest(operation string, statusCode int, duration time.Duration)
	RecordConnectivityCheck(reachable bool, duration time.Duration)
	RecordStateTransition(state string)
	RecordProfileOperation(operation string, err error)
	RecordTokenRefresh(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendRequests  *prometheus.CounterVec
	backendLatency   *prometheus.HistogramVec
	connectivity     *prometheus.CounterVec
	probeLatency     prometheus.Histogram
	stateTransitions *prometheus.CounterVec
	profileOps       *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmate_backend_requests_total",
			Help: "バックエンドへのリクエスト数（操作・ステータスコード別、0はレスポンスなし）",
		}, []string{"operation", "status_code"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthmate_backend_request_latency_seconds",
			Help:    "バックエンドリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		connectivity: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmate_connectivity_checks_total",
			Help: "接続確認の実行数（結果別）",
		}, []string{"result"}),
		probeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthmate_connectivity_check_latency_seconds",
			Help:    "接続確認のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		stateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmate_session_transitions_total",
			Help: "公開されたセッション状態の遷移数（遷移先別）",
		}, []string{"state"}),
		profileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmate_profile_operations_total",
			Help: "プロフィール操作の実行数（操作・結果別）",
		}, []string{"operation", "result"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "healthmate_token_refresh_total",
			Help: "セッショントークン更新の実行数（結果別）",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.backendRequests,
		c.backendLatency,
		c.connectivity,
		c.probeLatency,
		c.stateTransitions,
		c.profileOps,
		c.tokenRefresh,
	)

	return c
}

// RecordBackendRequest はバックエンドへのリクエスト1件を記録する。
func (c *Collector) RecordBackendRequest(operation string, statusCode int, duration time.Duration) {
	c.backendRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordConnectivityCheck は接続確認の結果を記録する。
func (c *Collector) RecordConnectivityCheck(reachable bool, duration time.Duration) {
	result := "unreachable"
	if reachable {
		result = "reachable"
	}
	c.connectivity.WithLabelValues(result).Inc()
	c.probeLatency.Observe(duration.Seconds())
}

// RecordStateTransition はセッション状態の公開を記録する。
func (c *Collector) RecordStateTransition(state string) {
	c.stateTransitions.WithLabelValues(state).Inc()
}

// RecordProfileOperation はプロフィール操作の結果を記録する。
// 失敗はエラー種別をラベルにする。
func (c *Collector) RecordProfileOperation(operation string, err error) {
	c.profileOps.WithLabelValues(operation, resultLabel(err)).Inc()
}

// RecordTokenRefresh はトークン更新の結果を記録する。
func (c *Collector) RecordTokenRefresh(result string) {
	c.tokenRefresh.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
