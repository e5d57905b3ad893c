// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transportRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "auravision_transport_request_duration_seconds",
		Help:    "Analysis service request duration by operation and outcome",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
	}, []string{"operation", "outcome"})

	transportUploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auravision_transport_upload_bytes_total",
		Help: "Bytes streamed to the analysis service by uploads",
	})

	pushMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auravision_push_messages_total",
		Help: "Push channel messages received by type",
	}, []string{"type"})

	pushChannelsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auravision_push_channels_open",
		Help: "Currently open push channels",
	})
)

// ObserveTransportRequest records the duration of one transport call.
func ObserveTransportRequest(operation, outcome string, d time.Duration) {
	transportRequestDuration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

// AddUploadBytes adds streamed upload bytes.
func AddUploadBytes(n int64) {
	if n > 0 {
		transportUploadBytes.Add(float64(n))
	}
}

// RecordPushMessage counts one received push message.
func RecordPushMessage(msgType string) {
	pushMessages.WithLabelValues(msgType).Inc()
}

// PushChannelOpened tracks an opened push channel.
func PushChannelOpened() { pushChannelsOpen.Inc() }

// PushChannelClosed tracks a closed push channel.
func PushChannelClosed() { pushChannelsOpen.Dec() }
