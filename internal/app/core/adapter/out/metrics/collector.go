package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/domain"
)

// 斷路器狀態在 gauge 上的數值
var breakerStateValue = map[string]float64{
	"closed":    0,
	"half-open": 1,
	"open":      2,
}

// Collector Prometheus 指標
//
// 同時實作 outbox.Metrics、usecase.ConsumerMetrics 與 breaker.StateObserver，
// 所有指標註冊在自己的 registry，不污染全域 DefaultRegisterer。
type Collector struct {
	registry *prometheus.Registry

	// outbox
	published      *prometheus.CounterVec
	publishLatency *prometheus.HistogramVec
	pendingBatch   prometheus.Gauge

	// consumer
	consumed *prometheus.CounterVec
	skipped  *prometheus.CounterVec

	// breaker
	breakerState *prometheus.GaugeVec
}

// NewCollector 建立並註冊指標
//
// 參數:
//
//	namespace: 指標前綴，例如 "ledger"
//
// 回傳:
//
//	*Collector: 實例
//	error: 註冊衝突
func NewCollector(namespace string) (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "messages_total",
				Help:      "Outbox messages handled by the dispatcher per event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		publishLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "publish_duration_seconds",
				Help:      "Latency of a single publish attempt",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"event_type"},
		),
		pendingBatch: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "outbox",
				Name:      "batch_size",
				Help:      "Pending messages fetched by the last dispatch pass",
			},
		),
		consumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "events_total",
				Help:      "Ledger events consumed per event type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "entries_skipped_total",
				Help:      "Ledger entries skipped by the consumer per reason",
			},
			[]string{"reason"},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "breaker",
				Name:      "state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}

	for _, collector := range []prometheus.Collector{
		c.published,
		c.publishLatency,
		c.pendingBatch,
		c.consumed,
		c.skipped,
		c.breakerState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObservePublish 記錄單筆派送
func (c *Collector) ObservePublish(eventType domain.EventType, outcome string, latency time.Duration) {
	c.published.WithLabelValues(string(eventType), outcome).Inc()
	if latency > 0 {
		c.publishLatency.WithLabelValues(string(eventType)).Observe(latency.Seconds())
	}
}

// ObserveBatch 記錄本輪取出的待派送筆數
func (c *Collector) ObserveBatch(pending int) {
	c.pendingBatch.Set(float64(pending))
}

// EventConsumed 記錄消費結果
func (c *Collector) EventConsumed(eventType domain.EventType, outcome string) {
	c.consumed.WithLabelValues(string(eventType), outcome).Inc()
}

// EntrySkipped 記錄被略過的分錄
func (c *Collector) EntrySkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

// ObserveBreakerState 記錄斷路器狀態
func (c *Collector) ObserveBreakerState(name, state string) {
	c.breakerState.WithLabelValues(name).Set(breakerStateValue[state])
}

// Registry 底層 registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler /metrics HTTP handler
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
