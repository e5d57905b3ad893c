// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Breaker states as exported in the state label.
var breakerStates = []string{"closed", "half-open", "open"}

var (
	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "auravision_transport_breaker_state",
		Help: "Analysis service breaker state (1 for the active state, 0 otherwise)",
	}, []string{"breaker", "state"})

	breakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_transport_breaker_trips_total",
		Help: "Breaker transitions to open by cause",
	}, []string{"breaker", "reason"})

	breakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_transport_breaker_rejections_total",
		Help: "Analysis service requests refused without being sent because the breaker was open",
	}, []string{"breaker"})
)

// SetBreakerState marks state as the active state of the named breaker.
func SetBreakerState(breaker, state string) {
	for _, s := range breakerStates {
		v := 0.0
		if s == state {
			v = 1
		}
		breakerState.WithLabelValues(breaker, s).Set(v)
	}
}

// RecordBreakerTrip counts a transition to open.
func RecordBreakerTrip(breaker, reason string) {
	breakerTrips.WithLabelValues(breaker, reason).Inc()
}

func RecordBreakerRejection(breaker string) {
	breakerRejections.WithLabelValues(breaker).Inc()
}
