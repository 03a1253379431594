// Package metrics holds the Prometheus collectors of the gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for rintento_requests_total
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	Requests          *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	ActiveConnections prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	SpeechBytes       prometheus.Counter
}

// New creates the collectors and registers them on reg when it is not nil
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rintento_requests_total",
				Help: "Inbound requests by route and outcome",
			},
			[]string{"route", "outcome"},
		),
		SessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rintento_session_duration_seconds",
				Help:    "Duration of backend recognition sessions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rintento_active_connections",
			Help: "Client connections currently served",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rintento_active_sessions",
			Help: "Backend sessions currently running",
		}),
		SpeechBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rintento_speech_bytes_total",
			Help: "Audio bytes relayed to the backend",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Requests, m.SessionDuration, m.ActiveConnections, m.ActiveSessions, m.SpeechBytes)
	}
	return m
}

// Discard returns unregistered collectors
func Discard() *Metrics {
	return New(nil)
}

func (m *Metrics) ObserveRequest(route, outcome string) {
	m.Requests.WithLabelValues(route, outcome).Inc()
}

func (m *Metrics) ObserveSession(kind string, started time.Time) {
	m.SessionDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}
