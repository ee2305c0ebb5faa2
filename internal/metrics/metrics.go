package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for scanning and dispatch.
// All methods are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	ItemsProcessed   *prometheus.CounterVec
	DispatchFailures *prometheus.CounterVec
	GenerationOnline prometheus.Gauge
	ScanPasses       *prometheus.CounterVec
	ScanDuration     prometheus.Histogram
	InboxPolls       *prometheus.CounterVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ItemsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadscanner_items_processed_total",
			Help: "Observed items by platform and pipeline outcome",
		}, []string{"platform", "outcome"}),

		DispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadscanner_dispatch_failures_total",
			Help: "Replies that could not be delivered",
		}, []string{"platform"}),

		GenerationOnline: factory.NewGauge(prometheus.GaugeOpts{
			Name: "leadscanner_generation_online",
			Help: "1 while the generation backend is used, 0 while templates are used",
		}),

		ScanPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadscanner_scan_passes_total",
			Help: "Live scan passes by result",
		}, []string{"result"}),

		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadscanner_scan_pass_duration_seconds",
			Help:    "Wall time of a live scan pass",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),

		InboxPolls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "leadscanner_inbox_polls_total",
			Help: "Direct message polls by result",
		}, []string{"result"}),
	}
}

// Handler exposes the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is used by tests to gather values.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordItem(platform, outcome string) {
	if m == nil {
		return
	}
	m.ItemsProcessed.WithLabelValues(platform, outcome).Inc()
}

func (m *Metrics) RecordDispatchFailure(platform string) {
	if m == nil {
		return
	}
	m.DispatchFailures.WithLabelValues(platform).Inc()
}

func (m *Metrics) SetGenerationOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.GenerationOnline.Set(1)
		return
	}
	m.GenerationOnline.Set(0)
}

func (m *Metrics) RecordScanPass(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ScanPasses.WithLabelValues(result(err)).Inc()
	m.ScanDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordInboxPoll(err error) {
	if m == nil {
		return
	}
	m.InboxPolls.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
