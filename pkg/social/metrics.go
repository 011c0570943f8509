package social

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for authentication flows.
type Metrics struct {
	LoginAttemptsTotal    *prometheus.CounterVec
	ProviderRoundTrip     *prometheus.HistogramVec
	UsersProvisionedTotal *prometheus.CounterVec
	PendingStatesSwept    prometheus.Counter
}

// NewMetrics creates and registers the authentication metrics.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialauth_login_attempts_total",
				Help: "Total number of completed login attempts",
			},
			[]string{"provider", "outcome"},
		),
		ProviderRoundTrip: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "socialauth_provider_round_trip_seconds",
				Help:    "Wall time from begin-auth to complete-auth",
				Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		UsersProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "socialauth_users_provisioned_total",
				Help: "Total number of auto-created local accounts",
			},
			[]string{"provider"},
		),
		PendingStatesSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "socialauth_pending_states_swept_total",
				Help: "Total number of expired pending auth states removed",
			},
		),
	}

	registry.MustRegister(
		m.LoginAttemptsTotal,
		m.ProviderRoundTrip,
		m.UsersProvisionedTotal,
		m.PendingStatesSwept,
	)

	return m
}

// RecordLogin counts a completed login attempt by outcome.
func (m *Metrics) RecordLogin(provider, outcome string) {
	m.LoginAttemptsTotal.WithLabelValues(provider, outcome).Inc()
}

// ObserveRoundTrip records how long the user spent at the provider.
func (m *Metrics) ObserveRoundTrip(provider string, d time.Duration) {
	m.ProviderRoundTrip.WithLabelValues(provider).Observe(d.Seconds())
}

// RecordProvisionedUser counts an auto-created account.
func (m *Metrics) RecordProvisionedUser(provider string) {
	m.UsersProvisionedTotal.WithLabelValues(provider).Inc()
}

// RecordSweep counts expired pending states removed by cleanup.
func (m *Metrics) RecordSweep(removed int) {
	m.PendingStatesSwept.Add(float64(removed))
}
