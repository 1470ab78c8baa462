package client

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds client-side meters. A nil *Metrics records nothing.
type Metrics struct {
	Offers               *prometheus.CounterVec
	BytesOffered         prometheus.Counter
	Claims               *prometheus.CounterVec
	FragmentsReceived    prometheus.Counter
	Registrations        *prometheus.CounterVec
	RegistrationDuration *prometheus.HistogramVec
}

// NewMetrics creates the client meters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Offers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_client_offers_total",
			Help: "Offers and claims by outcome.",
		}, []string{"outcome"}),
		BytesOffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_client_bytes_offered_total",
			Help: "Payload bytes accepted by publications.",
		}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_client_claims_total",
			Help: "Resolved buffer claims by state.",
		}, []string{"state"}),
		FragmentsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conduit_client_fragments_received_total",
			Help: "Fragments delivered to handlers.",
		}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conduit_client_registrations_total",
			Help: "Registrations by kind and terminal state.",
		}, []string{"kind", "state"}),
		RegistrationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conduit_client_registration_duration_seconds",
			Help:    "Time from registration to ready or failed.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Offers, m.BytesOffered, m.Claims, m.FragmentsReceived,
			m.Registrations, m.RegistrationDuration)
	}
	return m
}

func (m *Metrics) offer(err error, length int) {
	if m == nil {
		return
	}
	if err == nil {
		m.Offers.WithLabelValues("ok").Inc()
		m.BytesOffered.Add(float64(length))
		return
	}
	outcome := CodeGeneric.String()
	if pe, ok := err.(*PublicationError); ok {
		outcome = pe.Code.String()
	}
	m.Offers.WithLabelValues(strings.ReplaceAll(outcome, " ", "_")).Inc()
}

func (m *Metrics) claim(state ClaimState) {
	if m == nil {
		return
	}
	m.Claims.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) fragments(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FragmentsReceived.Add(float64(n))
}

func (m *Metrics) registration(kind Kind, state State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Registrations.WithLabelValues(kind.String(), state.String()).Inc()
	m.RegistrationDuration.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}
