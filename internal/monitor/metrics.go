package monitor

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for a fuzzing campaign.
type Metrics struct {
	Registry *prometheus.Registry

	GenerationAttempts *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	CompilesTotal      *prometheus.CounterVec
	CompileDuration    prometheus.Histogram
	CrashesTotal       *prometheus.CounterVec
	CoverageSamples    *prometheus.CounterVec
	CoverageValue      prometheus.Gauge
	BatchesProcessed   prometheus.Counter
	CampaignState      *prometheus.GaugeVec
	RequestsInFlight   prometheus.Gauge
	APIRequests        *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		GenerationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuzz",
				Name:      "generation_attempts_total",
				Help:      "Generator invocations by result (valid, empty, error).",
			},
			[]string{"result"},
		),

		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fuzz",
				Name:      "generation_duration_seconds",
				Help:      "Duration of a single generator invocation.",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
		),

		CompilesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuzz",
				Name:      "compiles_total",
				Help:      "Compile harness invocations by status (ok, fail, timeout).",
			},
			[]string{"status"},
		),

		CompileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "fuzz",
				Name:      "compile_duration_seconds",
				Help:      "Duration of compile harness invocations in seconds.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		CrashesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuzz",
				Name:      "crashes_total",
				Help:      "Crash records by diagnostic kind.",
			},
			[]string{"kind"},
		),

		CoverageSamples: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuzz",
				Name:      "coverage_samples_total",
				Help:      "Coverage harness invocations by status (ok, failed).",
			},
			[]string{"status"},
		),

		CoverageValue: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fuzz",
				Name:      "coverage_value",
				Help:      "Last numeric coverage value reported by the coverage harness.",
			},
		),

		BatchesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fuzz",
				Name:      "batches_processed_total",
				Help:      "Batches that went through compile-and-classify.",
			},
		),

		CampaignState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "fuzz",
				Name:      "campaign_state",
				Help:      "1 for the current campaign state, 0 otherwise.",
			},
			[]string{"state"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fuzz",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		APIRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fuzz",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Status server requests by route and response code.",
			},
			[]string{"route", "code"},
		),
	}

	reg.MustRegister(
		m.GenerationAttempts,
		m.GenerationDuration,
		m.CompilesTotal,
		m.CompileDuration,
		m.CrashesTotal,
		m.CoverageSamples,
		m.CoverageValue,
		m.BatchesProcessed,
		m.CampaignState,
		m.RequestsInFlight,
		m.APIRequests,
	)

	return m
}

// RecordGeneration records one generator invocation.
func (m *Metrics) RecordGeneration(result string, durationSec float64) {
	m.GenerationAttempts.WithLabelValues(result).Inc()
	m.GenerationDuration.Observe(durationSec)
}

// RecordCompile records a completed compile harness invocation.
func (m *Metrics) RecordCompile(status string, durationSec float64) {
	m.CompilesTotal.WithLabelValues(status).Inc()
	m.CompileDuration.Observe(durationSec)
}

// RecordCrash records a crash record by kind.
func (m *Metrics) RecordCrash(kind string) {
	m.CrashesTotal.WithLabelValues(kind).Inc()
}

// RecordCoverage records a coverage sample. A value that parses as a number,
// optionally followed by %, also updates the coverage gauge.
func (m *Metrics) RecordCoverage(ok bool, value string) {
	if !ok {
		m.CoverageSamples.WithLabelValues("failed").Inc()
		return
	}
	m.CoverageSamples.WithLabelValues("ok").Inc()
	if v, err := strconv.ParseFloat(strings.TrimSuffix(value, "%"), 64); err == nil {
		m.CoverageValue.Set(v)
	}
}

// SetState marks state as the current campaign state.
func (m *Metrics) SetState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.CampaignState.WithLabelValues(s).Set(v)
	}
}
