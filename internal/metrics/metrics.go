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
// 上流クライアント・認証サービス・所有登録・ゲートウェイ・HTTPミドルウェアから利用する。
type MetricsCollector interface {
	ObserveUpstreamRequest(operation, status string, duration time.Duration)
	RecordLogin(result string)
	RecordClaim(result string)
	RecordAuthorizationDenied(operation string)
	RecordHTTPStatus(statusCode int)
	ObserveHTTPRequest(method string, statusCode int, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	logins           *prometheus.CounterVec
	claims           *prometheus.CounterVec
	authzDenied      *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echolearn_upstream_requests_total",
			Help: "上流会話APIへのリクエスト数（操作・結果別）",
		}, []string{"operation", "status"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echolearn_upstream_latency_seconds",
			Help:    "上流会話APIのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echolearn_logins_total",
			Help: "ログイン試行の結果別の合計数",
		}, []string{"result"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echolearn_claims_total",
			Help: "会話ID登録の結果別の合計数",
		}, []string{"result"}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echolearn_authorization_denied_total",
			Help: "所有していない会話へのアクセス拒否数",
		}, []string{"operation"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "echolearn_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echolearn_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.logins,
		c.claims,
		c.authzDenied,
		c.httpStatus,
		c.httpLatency,
	)

	return c
}

// ObserveUpstreamRequest は上流APIの呼び出し結果とレイテンシを記録する。
// statusは上流のHTTPステータスまたは"timeout"・"error"。
func (c *Collector) ObserveUpstreamRequest(operation, status string, duration time.Duration) {
	c.upstreamRequests.WithLabelValues(operation, status).Inc()
	c.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordClaim は会話ID登録の結果を記録する。
func (c *Collector) RecordClaim(result string) {
	c.claims.WithLabelValues(result).Inc()
}

// RecordAuthorizationDenied は所有確認で拒否したアクセスを記録する。
func (c *Collector) RecordAuthorizationDenied(operation string) {
	c.authzDenied.WithLabelValues(operation).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// ObserveHTTPRequest はHTTPリクエストの処理時間とステータスを記録する。
func (c *Collector) ObserveHTTPRequest(method string, statusCode int, duration time.Duration) {
	c.RecordHTTPStatus(statusCode)
	c.httpLatency.WithLabelValues(method).Observe(duration.Seconds())
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
