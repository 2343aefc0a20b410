// Package obsmetrics exposes prometheus counters/gauges for the trust
// subsystem, grounded on the teacher's infrastructure/metrics package
// (CounterVec/Gauge/Histogram fields, New and NewWithRegistry constructors).
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every counter/gauge this subsystem publishes.
type Metrics struct {
	TrustScoreChanges      *prometheus.CounterVec
	TierTransitions        *prometheus.CounterVec
	Freezes                *prometheus.CounterVec
	CapabilityGrants       *prometheus.CounterVec
	CapabilityRevocations  *prometheus.CounterVec
	CircuitBreakerTrips    *prometheus.CounterVec
	ConfirmationGraduations *prometheus.CounterVec
	ActiveProfiles          prometheus.Gauge
	DecaySweepDuration      prometheus.Histogram
}

// New registers and returns a Metrics bound to the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry registers and returns a Metrics bound to registerer,
// mirroring the teacher's NewWithRegistry convenience constructor.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		TrustScoreChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "trust_score_changes_total", Help: "Trust score recalculations by agent.",
		}, []string{"agent_id"}),
		TierTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "tier_transitions_total", Help: "Tier transitions by from/to tier.",
		}, []string{"from_tier", "to_tier"}),
		Freezes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "freezes_total", Help: "Freeze/unfreeze events by kind.",
		}, []string{"kind"}),
		CapabilityGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "capability_grants_total", Help: "Capability grants by tier.",
		}, []string{"tier"}),
		CapabilityRevocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "capability_revocations_total", Help: "Capability revocations by reason.",
		}, []string{"reason"}),
		CircuitBreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "circuit_breaker_trips_total", Help: "Circuit breaker trips by category.",
		}, []string{"category"}),
		ConfirmationGraduations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName, Name: "confirmation_graduations_total", Help: "Confirmation graduations by bundle.",
		}, []string{"bundle"}),
		ActiveProfiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName, Name: "active_profiles", Help: "Number of trust profiles currently tracked.",
		}),
		DecaySweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: serviceName, Name: "decay_sweep_duration_seconds", Help: "Duration of each decay sweep pass.",
		}),
	}

	registerer.MustRegister(
		m.TrustScoreChanges, m.TierTransitions, m.Freezes, m.CapabilityGrants,
		m.CapabilityRevocations, m.CircuitBreakerTrips, m.ConfirmationGraduations,
		m.ActiveProfiles, m.DecaySweepDuration,
	)

	return m
}
