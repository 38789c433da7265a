// Package metrics exposes capture station counters for Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains Prometheus metrics for the capture screen.
type Metrics struct {
	registry *prometheus.Registry

	capturesTotal     *prometheus.CounterVec
	captureDuration   prometheus.Histogram
	togglesTotal      *prometheus.CounterVec
	locationReads     *prometheus.CounterVec
	directoryOpens    *prometheus.CounterVec
	permissionRequest *prometheus.CounterVec
}

// New creates and registers the metrics on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapgo_captures_total",
			Help: "Total number of capture requests",
		},
		[]string{"status"}, // success, busy, denied, not_ready, capture_error, storage_error
	)
	m.captureDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snapgo_capture_duration_seconds",
			Help:    "Time from capture request to stored photo",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
	m.togglesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapgo_toggles_total",
			Help: "Total number of facing/flash toggles",
		},
		[]string{"control"},
	)
	m.locationReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapgo_location_reads_total",
			Help: "Total number of one-shot location reads",
		},
		[]string{"status"}, // success, denied, error
	)
	m.directoryOpens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapgo_directory_opens_total",
			Help: "Total number of photo directory open requests",
		},
		[]string{"status"}, // success, missing, error
	)
	m.permissionRequest = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapgo_permission_requests_total",
			Help: "Total number of permission requests",
		},
		[]string{"capability", "status"},
	)

	for _, c := range []prometheus.Collector{
		m.capturesTotal, m.captureDuration, m.togglesTotal,
		m.locationReads, m.directoryOpens, m.permissionRequest,
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Capture records the outcome of one capture request.
func (m *Metrics) Capture(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues(status).Inc()
	if status == "success" {
		m.captureDuration.Observe(elapsed.Seconds())
	}
}

// Toggle records a facing or flash toggle.
func (m *Metrics) Toggle(control string) {
	if m == nil {
		return
	}
	m.togglesTotal.WithLabelValues(control).Inc()
}

// LocationRead records the outcome of the location read.
func (m *Metrics) LocationRead(status string) {
	if m == nil {
		return
	}
	m.locationReads.WithLabelValues(status).Inc()
}

// DirectoryOpen records the outcome of an open request.
func (m *Metrics) DirectoryOpen(status string) {
	if m == nil {
		return
	}
	m.directoryOpens.WithLabelValues(status).Inc()
}

// PermissionRequest records a permission request and its answer.
func (m *Metrics) PermissionRequest(capability, status string) {
	if m == nil {
		return
	}
	m.permissionRequest.WithLabelValues(capability, status).Inc()
}
