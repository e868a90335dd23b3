package ops

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments of the daemon. It implements the
// capture and scheduler observer interfaces, so lifecycle events flow in
// without those packages knowing about Prometheus.
type Metrics struct {
	registry         *prometheus.Registry
	capturesStarted  prometheus.Counter
	capturesOK       prometheus.Counter
	capturesFailed   prometheus.Counter
	activeCaptures   prometheus.Gauge
	probeErrorsTotal *prometheus.CounterVec
	configReloads    prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	capturesStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govdl_captures_started_total",
		Help: "Total number of capture subprocesses launched",
	})
	capturesOK := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govdl_captures_succeeded_total",
		Help: "Total number of captures that exited zero",
	})
	capturesFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govdl_captures_failed_total",
		Help: "Total number of captures that exited non-zero or were killed",
	})
	activeCaptures := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "govdl_active_captures",
		Help: "Number of capture subprocesses currently running",
	})
	probeErrorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "govdl_probe_errors_total",
		Help: "Total number of failed liveness probes",
	}, []string{"platform"})
	configReloads := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "govdl_config_reloads_total",
		Help: "Total number of successful configuration reloads",
	})

	registry.MustRegister(
		capturesStarted,
		capturesOK,
		capturesFailed,
		activeCaptures,
		probeErrorsTotal,
		configReloads,
	)

	return &Metrics{
		registry:         registry,
		capturesStarted:  capturesStarted,
		capturesOK:       capturesOK,
		capturesFailed:   capturesFailed,
		activeCaptures:   activeCaptures,
		probeErrorsTotal: probeErrorsTotal,
		configReloads:    configReloads,
	}
}

func (m *Metrics) CaptureStarted() {
	m.capturesStarted.Inc()
}

func (m *Metrics) CaptureFinished(success bool) {
	if success {
		m.capturesOK.Inc()
	} else {
		m.capturesFailed.Inc()
	}
}

func (m *Metrics) SetActiveCaptures(n int) {
	m.activeCaptures.Set(float64(n))
}

func (m *Metrics) ProbeError(platform string) {
	m.probeErrorsTotal.WithLabelValues(platform).Inc()
}

func (m *Metrics) ConfigReloaded() {
	m.configReloads.Inc()
}

// Handler serves the scrape endpoint for this registry only.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
