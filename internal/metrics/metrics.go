// Package metrics provides Prometheus metrics for ingestion runs.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dvloznov/bank-download/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shopspring/decimal"
)

const namespace = "bankdl"

// Config holds metrics configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	PushGateway string `yaml:"push_gateway"` // e.g. http://localhost:9091, batch runs only
	Job         string `yaml:"job"`
}

// ApplyDefaults sets default values for metrics config.
func (c *Config) ApplyDefaults() {
	if c.Job == "" {
		c.Job = "bank_download"
	}
}

// Recorder holds the ingestion metrics. A nil or disabled Recorder ignores
// every call, so callers never need to check.
type Recorder struct {
	Outcomes      *prometheus.CounterVec
	WindowsTotal  *prometheus.CounterVec
	PagesTotal    *prometheus.CounterVec
	FailuresTotal *prometheus.CounterVec
	Balance       *prometheus.GaugeVec
	LastSuccess   *prometheus.GaugeVec
	RunDuration   *prometheus.HistogramVec

	registry *prometheus.Registry
	enabled  bool
}

// New creates a Recorder with its own registry.
func New(cfg Config) *Recorder {
	cfg.ApplyDefaults()

	r := &Recorder{
		enabled:  cfg.Enabled,
		registry: prometheus.NewRegistry(),
	}
	if !cfg.Enabled {
		return r
	}

	r.Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Transactions seen, by account and whether they were new",
		},
		[]string{"account", "status"}, // "new", "existing"
	)
	r.WindowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "windows_scanned_total",
			Help:      "Date windows scanned",
		},
		[]string{"account"},
	)
	r.PagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_fetched_total",
			Help:      "Raw pages fetched from sources",
		},
		[]string{"account"},
	)
	r.FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Aborted account runs by error kind",
		},
		[]string{"account", "kind"},
	)
	r.Balance = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "account_balance",
			Help:      "Last balance reported by the source",
		},
		[]string{"account"},
	)
	r.LastSuccess = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per account",
		},
		[]string{"account"},
	)
	r.RunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one account run",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"account"},
	)

	r.registry.MustRegister(
		r.Outcomes,
		r.WindowsTotal,
		r.PagesTotal,
		r.FailuresTotal,
		r.Balance,
		r.LastSuccess,
		r.RunDuration,
	)

	return r
}

func (r *Recorder) on() bool {
	return r != nil && r.enabled
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler returns an HTTP handler for metrics.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// RecordOutcome counts one reconciled transaction.
func (r *Recorder) RecordOutcome(account string, isNew bool) {
	if !r.on() {
		return
	}
	status := "existing"
	if isNew {
		status = "new"
	}
	r.Outcomes.WithLabelValues(account, status).Inc()
}

// RecordWindow counts one scanned window.
func (r *Recorder) RecordWindow(account string) {
	if r.on() {
		r.WindowsTotal.WithLabelValues(account).Inc()
	}
}

// RecordPage counts one fetched page.
func (r *Recorder) RecordPage(account string) {
	if r.on() {
		r.PagesTotal.WithLabelValues(account).Inc()
	}
}

// RecordBalance sets the balance gauge. Gauges are floats; the exact value
// lives in the driver output.
func (r *Recorder) RecordBalance(account string, balance decimal.Decimal) {
	if r.on() {
		r.Balance.WithLabelValues(account).Set(balance.InexactFloat64())
	}
}

// RecordRun observes the end of an account run.
func (r *Recorder) RecordRun(account string, started time.Time, err error) {
	if !r.on() {
		return
	}
	r.RunDuration.WithLabelValues(account).Observe(time.Since(started).Seconds())
	if err != nil {
		r.FailuresTotal.WithLabelValues(account, domain.Kind(err)).Inc()
		return
	}
	r.LastSuccess.WithLabelValues(account).SetToCurrentTime()
}

// Push sends the current metrics to a Prometheus push gateway.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if !r.on() || url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("Push: pushing to %s: %w", url, err)
	}
	return nil
}
