// Package observability holds the Prometheus metrics and OpenTelemetry
// tracer setup for Walletwatch.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/opensource-finance/walletwatch/internal/domain"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	evaluations     *prometheus.CounterVec
	evalDuration    *prometheus.HistogramVec
	ruleHits        *prometheus.CounterVec
	externalErrors  *prometheus.CounterVec
	externalLatency *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	batchJobs       *prometheus.CounterVec
}

// NewMetrics registers every metric in a private registry, so it can be
// called more than once in a process (tests do).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletwatch_wallet_evaluations_total",
				Help: "Wallet evaluations by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		evalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletwatch_wallet_evaluation_duration_seconds",
				Help:    "Duration of a single wallet evaluation.",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
			},
			[]string{"mode"},
		),
		ruleHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletwatch_rule_violations_total",
				Help: "Rule violations by rule ID.",
			},
			[]string{"rule"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletwatch_external_errors_total",
				Help: "Errors returned by external services.",
			},
			[]string{"service"},
		),
		externalLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletwatch_external_request_duration_seconds",
				Help:    "Duration of calls to external services.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service"},
		),
		cacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletwatch_report_cache_lookups_total",
				Help: "Report cache lookups by result.",
			},
			[]string{"result"},
		),
		batchJobs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletwatch_batch_jobs_total",
				Help: "Batch jobs by final status.",
			},
			[]string{"status"},
		),
	}
}

// RecordEvaluation counts one wallet evaluation and the rules it violated.
func (m *Metrics) RecordEvaluation(mode string, wm domain.WalletMetrics, d time.Duration) {
	outcome := "clean"
	if wm.Fraudulent {
		outcome = "flagged"
	}
	m.evaluations.WithLabelValues(mode, outcome).Inc()
	m.evalDuration.WithLabelValues(mode).Observe(d.Seconds())
	for _, id := range wm.TriggeredRules {
		m.ruleHits.WithLabelValues(id).Inc()
	}
}

// RecordExternalCall observes a call to an external service.
func (m *Metrics) RecordExternalCall(service string, d time.Duration, err error) {
	m.externalLatency.WithLabelValues(service).Observe(d.Seconds())
	if err != nil {
		m.externalErrors.WithLabelValues(service).Inc()
	}
}

// RecordCacheLookup counts a report cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// RecordBatchJob counts a finished batch job.
func (m *Metrics) RecordBatchJob(status string) {
	m.batchJobs.WithLabelValues(status).Inc()
}
