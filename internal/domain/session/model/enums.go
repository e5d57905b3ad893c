// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

// Status is the client-visible lifecycle of one analysis session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusReady     Status = "ready"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if the status is a final state for the session.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// HasWorkInFlight reports whether a session in this status owns transport
// resources (an upload, an analyze request, a push channel or a poll loop).
func (s Status) HasWorkInFlight() bool {
	switch s {
	case StatusUploading, StatusAnalyzing:
		return true
	default:
		return false
	}
}

// ReasonCode is a compact, typed failure signal.
// Keep these stable: metrics and rendered output depend on them.
type ReasonCode string

const (
	RNone             ReasonCode = "R_NONE"
	RCancelled        ReasonCode = "R_CANCELLED"
	RTransport        ReasonCode = "R_TRANSPORT"
	RConnectivityLost ReasonCode = "R_CONNECTIVITY_LOST"
	RAnalysisFailed   ReasonCode = "R_ANALYSIS_FAILED"
	RAnalyzeRejected  ReasonCode = "R_ANALYZE_REJECTED"
	RInvariantBreach  ReasonCode = "R_INTERNAL_INVARIANT_BREACH"
)

// Metric names a statistic reported by the analysis service.
type Metric string

const (
	MetricDetectionCount  Metric = "detection_count"
	MetricBehaviorCount   Metric = "behavior_count"
	MetricAvgConfidence   Metric = "avg_confidence"
	MetricProcessingRate  Metric = "processing_fps"
	MetricProcessedFrames Metric = "processed_frames"
	MetricTotalFrames     Metric = "total_frames"
)

// Statistics maps named metrics to their latest values.
type Statistics map[Metric]float64

// Clone returns an independent copy; nil stays nil.
func (s Statistics) Clone() Statistics {
	if s == nil {
		return nil
	}
	out := make(Statistics, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
