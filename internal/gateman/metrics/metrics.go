// Package metrics holds the Prometheus collectors gateman exports on
// /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	admissions        *prometheus.CounterVec
	admissionDuration prometheus.Histogram
	ticketsIssued     prometheus.Counter
	transientErrors   *prometheus.CounterVec
	eventsDeleted     prometheus.Counter
	watchers          prometheus.Gauge
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		admissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateman_admissions_total",
				Help: "Admission attempts by verdict",
			},
			[]string{"status"},
		),
		admissionDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gateman_admission_duration_seconds",
				Help:    "Time spent deciding an admission, including the store round trip",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),
		ticketsIssued: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gateman_tickets_issued_total",
				Help: "Tickets created by batch issuance",
			},
		),
		transientErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateman_transient_errors_total",
				Help: "Store failures surfaced to callers as retryable",
			},
			[]string{"operation"},
		),
		eventsDeleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "gateman_events_deleted_total",
				Help: "Events removed by cascade delete",
			},
		),
		watchers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "gateman_stats_watchers",
				Help: "Open stats streams",
			},
		),
	}
}

// The methods below accept a nil receiver so services can run without
// metrics in tests.

func (m *Metrics) ObserveAdmission(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(status).Inc()
	m.admissionDuration.Observe(d.Seconds())
}

func (m *Metrics) TicketsIssued(n int) {
	if m == nil {
		return
	}
	m.ticketsIssued.Add(float64(n))
}

func (m *Metrics) Transient(op string) {
	if m == nil {
		return
	}
	m.transientErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) EventDeleted() {
	if m == nil {
		return
	}
	m.eventsDeleted.Inc()
}

func (m *Metrics) WatcherOpened() {
	if m == nil {
		return
	}
	m.watchers.Inc()
}

func (m *Metrics) WatcherClosed() {
	if m == nil {
		return
	}
	m.watchers.Dec()
}
