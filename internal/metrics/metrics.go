// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal          *prometheus.CounterVec
	itemsTotal             *prometheus.CounterVec
	bansTotal              *prometheus.CounterVec
	proxyCooldownsTotal    prometheus.Counter
	activeTasks            prometheus.Gauge
	backoffDelaySeconds    *prometheus.HistogramVec
	signingDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		requestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_requests_total",
				Help: "Total signed requests executed, labeled by platform and outcome.",
			},
			[]string{"platform", "outcome"},
		)

		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_items_total",
				Help: "Total normalized items forwarded to the sink, labeled by platform.",
			},
			[]string{"platform"},
		)

		bansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawl_bans_total",
				Help: "Total ban signals encountered, labeled by platform.",
			},
			[]string{"platform"},
		)

		proxyCooldownsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawl_proxy_cooldowns_total",
				Help: "Total times a proxy endpoint was placed in cooldown.",
			},
		)

		activeTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawl_active_tasks",
				Help: "Number of crawl tasks currently running.",
			},
		)

		backoffDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_backoff_delay_seconds",
				Help:    "Histogram of backoff waits before re-admission.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"platform"},
		)

		signingDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawl_signing_duration_seconds",
				Help:    "Histogram of in-page signing call latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"platform"},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts one executed request.
func ObserveRequest(platform, outcome string) {
	requestsTotal.WithLabelValues(platform, outcome).Inc()
}

// ObserveItems counts items forwarded to the sink.
func ObserveItems(platform string, n int) {
	if n > 0 {
		itemsTotal.WithLabelValues(platform).Add(float64(n))
	}
}

// ObserveBan counts one ban signal.
func ObserveBan(platform string) {
	bansTotal.WithLabelValues(platform).Inc()
}

// ObserveProxyCooldown counts one endpoint entering cooldown.
func ObserveProxyCooldown() {
	proxyCooldownsTotal.Inc()
}

// IncActiveTasks increments the running-task gauge.
func IncActiveTasks() { activeTasks.Inc() }

// DecActiveTasks decrements the running-task gauge.
func DecActiveTasks() { activeTasks.Dec() }

// ObserveBackoff records one backoff wait.
func ObserveBackoff(platform string, d time.Duration) {
	backoffDelaySeconds.WithLabelValues(platform).Observe(d.Seconds())
}

// ObserveSigning records one signing call latency.
func ObserveSigning(platform string, d time.Duration) {
	signingDurationSeconds.WithLabelValues(platform).Observe(d.Seconds())
}
