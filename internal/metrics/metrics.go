// ABOUTME: Prometheus metrics for the gateway accept loop and login decisions
// ABOUTME: Registered on a private registry and served through Handler

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implements gateway.MetricsRecorder and auth.LoginRecorder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	sessionsAccepted    prometheus.Counter
	sessionsClosed      prometheus.Counter
	sessionsForceClosed prometheus.Counter
	sessionsActive      prometheus.Gauge
	acceptErrors        prometheus.Counter
	logins              *prometheus.CounterVec
}

// New creates the metric set on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		sessionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "realmgate_sessions_accepted_total",
			Help: "Total number of accepted client sessions",
		}),
		sessionsClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "realmgate_sessions_closed_total",
			Help: "Total number of sessions removed from the registry",
		}),
		sessionsForceClosed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "realmgate_sessions_force_closed_total",
			Help: "Total number of sessions closed because shutdown timed out",
		}),
		sessionsActive: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "realmgate_sessions_active",
			Help: "Number of sessions currently registered",
		}),
		acceptErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "realmgate_accept_errors_total",
			Help: "Total number of failed or rejected accepts",
		}),
		logins: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "realmgate_logins_total",
				Help: "Login decisions by result",
			},
			[]string{"result"}, // store.Reason* values
		),
	}
}

func (m *Metrics) RecordSessionAccepted() {
	if m == nil {
		return
	}
	m.sessionsAccepted.Inc()
}

func (m *Metrics) RecordSessionClosed() {
	if m == nil {
		return
	}
	m.sessionsClosed.Inc()
}

func (m *Metrics) RecordSessionForceClosed() {
	if m == nil {
		return
	}
	m.sessionsForceClosed.Inc()
}

func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(count))
}

func (m *Metrics) RecordAcceptError() {
	if m == nil {
		return
	}
	m.acceptErrors.Inc()
}

// RecordLogin counts one login decision.
func (m *Metrics) RecordLogin(result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
