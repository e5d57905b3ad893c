// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auravision_controller_commands_total",
			Help: "Controller commands by name and result.",
		},
		[]string{"command", "result"},
	)

	uploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auravision_upload_duration_seconds",
			Help:    "Time from source selection to upload outcome.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"outcome"},
	)

	analysisDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "auravision_analysis_duration_seconds",
			Help:    "Time from analysis start to a terminal status.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"status"},
	)

	staleEpochDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auravision_controller_stale_epoch_drops_total",
			Help: "Async results discarded because their session was superseded.",
		},
	)
)

func recordCommand(command string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	commandsTotal.WithLabelValues(command, result).Inc()
}

func observeUpload(outcome string, d time.Duration) {
	uploadDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func observeAnalysis(status string, d time.Duration) {
	analysisDuration.WithLabelValues(status).Observe(d.Seconds())
}
