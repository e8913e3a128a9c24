package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the pipeline's Prometheus metrics on a private registry so
// tests and embedded use never fight over the global default.
type Registry struct {
	reg *prometheus.Registry

	TicksConsumed   prometheus.Counter
	BarsEmitted     *prometheus.CounterVec
	LabelsGenerated *prometheus.CounterVec
	ExtractErrors   *prometheus.CounterVec
	ExtractDuration prometheus.Histogram
	LastBarTime     prometheus.Gauge
	CacheWrites     prometheus.Counter
}

// NewRegistry creates and registers all pipeline metrics.
func NewRegistry() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.TicksConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tickpipe_ticks_consumed_total",
		Help: "Ticks consumed from the tick source",
	})
	r.BarsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_bars_emitted_total",
		Help: "Bars emitted per closing rule",
	}, []string{"rule"})
	r.LabelsGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_labels_generated_total",
		Help: "Labels generated per class",
	}, []string{"class"})
	r.ExtractErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tickpipe_extractor_errors_total",
		Help: "Extractor failures per feature",
	}, []string{"feature"})
	r.ExtractDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickpipe_extract_duration_seconds",
		Help:    "Duration of one feature-vector extraction",
		Buckets: []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 0.1},
	})
	r.LastBarTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tickpipe_last_bar_timestamp_seconds",
		Help: "End timestamp of the most recent closed bar",
	})
	r.CacheWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tickpipe_feature_cache_writes_total",
		Help: "Latest-feature-vector cache writes",
	})

	r.reg.MustRegister(
		r.TicksConsumed, r.BarsEmitted, r.LabelsGenerated,
		r.ExtractErrors, r.ExtractDuration, r.LastBarTime, r.CacheWrites,
	)
	return r
}

// Prometheus exposes the underlying registry for the /metrics handler.
func (r *Registry) Prometheus() *prometheus.Registry { return r.reg }
