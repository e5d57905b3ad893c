// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/auravision/internal/domain/session/model"

// EventKind is a domain event in the session lifecycle.
type EventKind int

const (
	EvUnknown EventKind = iota
	EvUploadStarted
	EvUploadProgress
	EvUploadSucceeded
	EvAnalyzeStarted
	EvAnalysisUpdate
	EvAnalysisCompleted
	EvFailed
	EvCancelRequested
)

// AllEvents lists every event kind except EvUnknown.
var AllEvents = []EventKind{
	EvUploadStarted,
	EvUploadProgress,
	EvUploadSucceeded,
	EvAnalyzeStarted,
	EvAnalysisUpdate,
	EvAnalysisCompleted,
	EvFailed,
	EvCancelRequested,
}

func (k EventKind) String() string {
	switch k {
	case EvUploadStarted:
		return "upload_started"
	case EvUploadProgress:
		return "upload_progress"
	case EvUploadSucceeded:
		return "upload_succeeded"
	case EvAnalyzeStarted:
		return "analyze_started"
	case EvAnalysisUpdate:
		return "analysis_update"
	case EvAnalysisCompleted:
		return "analysis_completed"
	case EvFailed:
		return "failed"
	case EvCancelRequested:
		return "cancel_requested"
	default:
		return "unknown"
	}
}

// Event carries the payload of one state transition request.
//
// SessionID, when set, must match the session it is applied to; upload
// success is the exception since it is what assigns the id.
type Event struct {
	Kind      EventKind
	SessionID string

	// Seq orders analysis updates. Updates with Seq <= LastUpdateSeq are stale.
	Seq uint64

	// Progress is a percent in [0,100]; nil leaves progress untouched.
	Progress   *float64
	Statistics model.Statistics
	Results    []model.Result

	Mode   string
	Config map[string]string

	Reason model.ReasonCode
	Cause  string
}

// Percent is a convenience for building Event.Progress.
func Percent(v float64) *float64 {
	return &v
}
