package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	revocations     *prometheus.CounterVec
	guestTokens     *prometheus.CounterVec
	refreshRequests *prometheus.CounterVec
}

// New registers the auth counters on a dedicated registry.
func New(namespace, subsystem string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "refresh_revocations_total",
			Help:      "Refresh credential hashes added to the blacklist.",
		}, []string{"reason"}),
		guestTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "guest_tokens_issued_total",
			Help:      "Guest token requests by outcome.",
		}, []string{"status"}),
		refreshRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "refresh_requests_total",
			Help:      "Refresh endpoint requests by outcome.",
		}, []string{"outcome"}),
	}
	m.registry.MustRegister(m.revocations, m.guestTokens, m.refreshRequests)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RevocationRecorded(reason string) {
	if m == nil {
		return
	}
	m.revocations.WithLabelValues(reason).Inc()
}

func (m *Metrics) GuestTokenIssued(status string) {
	if m == nil {
		return
	}
	m.guestTokens.WithLabelValues(status).Inc()
}

func (m *Metrics) RefreshOutcome(outcome string) {
	if m == nil {
		return
	}
	m.refreshRequests.WithLabelValues(outcome).Inc()
}
