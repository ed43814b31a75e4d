// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deepfake-scanner/backend/internal/models"
)

const namespace = "scanner"

// Upload outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeInvalid  = "invalid"
	OutcomeTooLarge = "too_large"
	OutcomeError    = "error"
)

// Metrics groups the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	Uploads       *prometheus.CounterVec
	UploadedBytes prometheus.Counter
	StatusChecks  *prometheus.CounterVec
	Clears        *prometheus.CounterVec
	Finished      *prometheus.CounterVec
}

// New creates the collectors on a fresh registry. tracked reports the current
// number of tracked requests.
func New(tracked func() int) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Upload attempts by outcome.",
		}, []string{"outcome"}),
		UploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Bytes written to the content directory.",
		}),
		StatusChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_checks_total",
			Help:      "Status lookups by result.",
		}, []string{"result"}),
		Clears: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clears_total",
			Help:      "Clear calls by whether an entry existed.",
		}, []string{"existed"}),
		Finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analyses_finished_total",
			Help:      "Requests that reached a terminal status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.Uploads,
		m.UploadedBytes,
		m.StatusChecks,
		m.Clears,
		m.Finished,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_requests",
			Help:      "Requests currently held in the tracking table.",
		}, func() float64 { return float64(tracked()) }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// ObserveFinished counts a terminal transition.
func (m *Metrics) ObserveFinished(status models.AnalysisStatus) {
	m.Finished.WithLabelValues(string(status)).Inc()
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
