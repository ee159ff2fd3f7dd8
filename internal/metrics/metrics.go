// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 操作結果のラベル値
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とミドルウェアから利用する。
type MetricsCollector interface {
	RecordCatalogOperation(operation, outcome string)
	RecordLogin(outcome string)
	RecordPictureDeleteFailure()
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(route string, duration time.Duration)
	RecordProviderLatency(endpoint string, duration time.Duration)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	catalogOps      *prometheus.CounterVec
	logins          *prometheus.CounterVec
	pictureDelFail  prometheus.Counter
	httpStatus      *prometheus.CounterVec
	requestLatency  *prometheus.HistogramVec
	providerLatency *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		catalogOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_operations_total",
			Help: "カテゴリ・商品の更新操作数（操作種別・結果別）",
		}, []string{"operation", "outcome"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_logins_total",
			Help: "ログインハンドシェイクの完了数（結果別）",
		}, []string{"outcome"}),
		pictureDelFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "catalog_picture_delete_failures_total",
			Help: "コミット後の画像削除に失敗した回数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "catalog_oauth_provider_latency_seconds",
			Help:    "OAuthプロバイダー呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		c.catalogOps,
		c.logins,
		c.pictureDelFail,
		c.httpStatus,
		c.requestLatency,
		c.providerLatency,
	)

	return c
}

// RecordCatalogOperation はカタログ更新操作の結果を記録する。
func (c *Collector) RecordCatalogOperation(operation, outcome string) {
	c.catalogOps.WithLabelValues(operation, outcome).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(outcome string) {
	c.logins.WithLabelValues(outcome).Inc()
}

// RecordPictureDeleteFailure は画像削除失敗を記録する。
func (c *Collector) RecordPictureDeleteFailure() {
	c.pictureDelFail.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はルートパターンごとの処理時間を記録する。
func (c *Collector) RecordRequestLatency(route string, duration time.Duration) {
	c.requestLatency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordProviderLatency はプロバイダーのエンドポイント呼び出し時間を記録する。
func (c *Collector) RecordProviderLatency(endpoint string, duration time.Duration) {
	c.providerLatency.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Nop は何も記録しないMetricsCollector。テストやメトリクス無効時に使う。
type Nop struct{}

func (Nop) RecordCatalogOperation(string, string) {}
func (Nop) RecordLogin(string) {}
func (Nop) RecordPictureDeleteFailure() {}
func (Nop) RecordHTTPStatus(int) {}
func (Nop) RecordRequestLatency(string, time.Duration) {}
func (Nop) RecordProviderLatency(string, time.Duration) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = Nop{}
)
