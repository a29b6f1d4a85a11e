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
// ポーラーや購読サービスから利用する。
type MetricsCollector interface {
	RecordPollUpdated(subscriptionID string)
	RecordPollUnchanged(subscriptionID string)
	RecordPollFailure(subscriptionID string, class string)
	RecordHTTPStatus(method string, statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEntitiesPublished(count int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pollUpdated       prometheus.Counter
	pollUnchanged     prometheus.Counter
	pollFailure       *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	fetchLatency      prometheus.Histogram
	entitiesPublished prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pollUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powderwatch_poll_updated_total",
			Help: "変更を検出して本文を取得したポーリングの合計数",
		}),
		pollUnchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powderwatch_poll_unchanged_total",
			Help: "変更なしと判定されたポーリングの合計数",
		}),
		pollFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powderwatch_poll_failure_total",
			Help: "失敗分類別のポーリング失敗数",
		}, []string{"class"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "powderwatch_http_status_total",
			Help: "メソッドとHTTPステータスコード別のレスポンス数",
		}, []string{"method", "status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "powderwatch_fetch_latency_seconds",
			Help:    "ポーリング1回あたりのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		entitiesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "powderwatch_entities_published_total",
			Help: "公開したエンティティ状態の合計数",
		}),
	}

	reg.MustRegister(
		c.pollUpdated,
		c.pollUnchanged,
		c.pollFailure,
		c.httpStatus,
		c.fetchLatency,
		c.entitiesPublished,
	)

	return c
}

// RecordPollUpdated は変更検出を記録する。
func (c *Collector) RecordPollUpdated(subscriptionID string) {
	c.pollUpdated.Inc()
}

// RecordPollUnchanged は変更なしを記録する。
func (c *Collector) RecordPollUnchanged(subscriptionID string) {
	c.pollUnchanged.Inc()
}

// RecordPollFailure はポーリング失敗を分類付きで記録する。
func (c *Collector) RecordPollFailure(subscriptionID string, class string) {
	c.pollFailure.WithLabelValues(class).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(method string, statusCode int) {
	c.httpStatus.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はポーリングのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEntitiesPublished は公開したエンティティ数を記録する。
func (c *Collector) RecordEntitiesPublished(count int) {
	c.entitiesPublished.Add(float64(count))
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordPollUpdated(string)         {}
func (Nop) RecordPollUnchanged(string)       {}
func (Nop) RecordPollFailure(string, string) {}
func (Nop) RecordHTTPStatus(string, int)     {}
func (Nop) RecordFetchLatency(time.Duration) {}
func (Nop) RecordEntitiesPublished(int)      {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
