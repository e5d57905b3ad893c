// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_session_transitions_total",
		Help: "Session store transitions by event and outcome",
	}, []string{"event", "outcome"}) // outcome=accepted|illegal|stale_seq|stale_session|invalid

	sessionTerminal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_session_terminal_total",
		Help: "Sessions reaching a terminal status, by status and reason",
	}, []string{"status", "reason"})

	sessionsSelected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_sessions_selected_total",
		Help: "Source selections by kind and outcome",
	}, []string{"kind", "outcome"}) // outcome=accepted|invalid_media|oversize

	reconcilerDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_reconciler_dropped_total",
		Help: "Inputs dropped by the update reconciler",
	}, []string{"channel", "reason"}) // channel=push|poll reason=duplicate_seq|superseded|after_terminal

	reconcilerMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auravision_reconciler_merge_passes_total",
		Help: "Merge passes that produced an analysis update",
	})

	pollMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_poll_misses_total",
		Help: "Poll ticks counted as misses",
	}, []string{"cause"}) // cause=skipped|timeout|error

	pollConnectivityLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auravision_poll_connectivity_lost_total",
		Help: "Poll loops that gave up after reaching the consecutive miss limit",
	})
)

// RecordTransition counts a store transition attempt.
func RecordTransition(event, outcome string) {
	sessionTransitions.WithLabelValues(event, outcome).Inc()
}

// RecordTerminal counts a session reaching completed or failed.
func RecordTerminal(status, reason string) {
	if reason == "" {
		reason = "R_NONE"
	}
	sessionTerminal.WithLabelValues(status, reason).Inc()
}

// RecordSelection counts a SelectSource call.
func RecordSelection(kind, outcome string) {
	sessionsSelected.WithLabelValues(kind, outcome).Inc()
}

// RecordReconcilerDrop counts an input discarded by the reconciler.
func RecordReconcilerDrop(channel, reason string) {
	reconcilerDropped.WithLabelValues(channel, reason).Inc()
}

// IncReconcilerMerge counts an emitted merge pass.
func IncReconcilerMerge() {
	reconcilerMerges.Inc()
}

// RecordPollMiss counts a missed poll tick.
func RecordPollMiss(cause string) {
	pollMisses.WithLabelValues(cause).Inc()
}

// IncPollConnectivityLost counts a poll loop giving up.
func IncPollConnectivityLost() {
	pollConnectivityLost.Inc()
}
