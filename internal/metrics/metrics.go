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
// 認証サービス、データ取得サービス、ワーカーから利用する。
type MetricsCollector interface {
	RecordSignIn(outcome string)
	RecordFetchSuccess()
	RecordFetchFailure(reason string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordRowsNormalized(resource string, count int)
	RecordSessionsPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	signIn         *prometheus.CounterVec
	fetchSuccess   prometheus.Counter
	fetchFail      *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	rowsNormalized *prometheus.CounterVec
	sessionsPurged prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		signIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boletin_sign_in_total",
			Help: "サインイン試行の結果別の合計数",
		}, []string{"outcome"}),
		fetchSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boletin_data_fetch_success_total",
			Help: "データエンドポイント取得成功の合計数",
		}),
		fetchFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boletin_data_fetch_fail_total",
			Help: "データエンドポイント取得失敗の理由別の合計数",
		}, []string{"reason"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boletin_upstream_http_status_total",
			Help: "データエンドポイントのHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "boletin_data_fetch_latency_seconds",
			Help:    "データエンドポイント取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rowsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "boletin_rows_normalized_total",
			Help: "正規化したレコードのリソース別の合計数",
		}, []string{"resource"}),
		sessionsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "boletin_sessions_purged_total",
			Help: "クリーンアップで削除した期限切れセッションの合計数",
		}),
	}

	reg.MustRegister(
		c.signIn,
		c.fetchSuccess,
		c.fetchFail,
		c.httpStatus,
		c.fetchLatency,
		c.rowsNormalized,
		c.sessionsPurged,
	)

	return c
}

// RecordSignIn はサインイン試行の結果を記録する。
func (c *Collector) RecordSignIn(outcome string) {
	c.signIn.WithLabelValues(outcome).Inc()
}

// RecordFetchSuccess はデータ取得成功を記録する。
func (c *Collector) RecordFetchSuccess() {
	c.fetchSuccess.Inc()
}

// RecordFetchFailure はデータ取得失敗を記録する。
func (c *Collector) RecordFetchFailure(reason string) {
	c.fetchFail.WithLabelValues(reason).Inc()
}

// RecordHTTPStatus は上流のHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はデータ取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordRowsNormalized は正規化したレコード数を記録する。
func (c *Collector) RecordRowsNormalized(resource string, count int) {
	c.rowsNormalized.WithLabelValues(resource).Add(float64(count))
}

// RecordSessionsPurged は削除した期限切れセッション数を記録する。
func (c *Collector) RecordSessionsPurged(count int64) {
	c.sessionsPurged.Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
type NopCollector struct{}

func (NopCollector) RecordSignIn(string)              {}
func (NopCollector) RecordFetchSuccess()              {}
func (NopCollector) RecordFetchFailure(string)        {}
func (NopCollector) RecordHTTPStatus(int)             {}
func (NopCollector) RecordFetchLatency(time.Duration) {}
func (NopCollector) RecordRowsNormalized(string, int) {}
func (NopCollector) RecordSessionsPurged(int64)       {}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
