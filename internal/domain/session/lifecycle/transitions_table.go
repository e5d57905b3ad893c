// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/auravision/internal/domain/session/model"

// Transition is a single allowed edge in the lifecycle state machine.
type Transition struct {
	From   model.Status
	To     model.Status
	Event  EventKind
	Reason model.ReasonCode
}

// Decision records whether a transition is allowed and why it is forbidden.
type Decision struct {
	Allowed bool
	Reason  string
}

var transitionsTable = []Transition{
	// Upload path
	{From: model.StatusIdle, To: model.StatusUploading, Event: EvUploadStarted},
	{From: model.StatusUploading, To: model.StatusUploading, Event: EvUploadProgress},
	{From: model.StatusUploading, To: model.StatusReady, Event: EvUploadSucceeded},

	// Analysis path
	{From: model.StatusReady, To: model.StatusAnalyzing, Event: EvAnalyzeStarted},
	{From: model.StatusAnalyzing, To: model.StatusAnalyzing, Event: EvAnalysisUpdate},
	{From: model.StatusAnalyzing, To: model.StatusCompleted, Event: EvAnalysisCompleted},

	// Failure from any non-terminal state
	{From: model.StatusIdle, To: model.StatusFailed, Event: EvFailed, Reason: model.RTransport},
	{From: model.StatusUploading, To: model.StatusFailed, Event: EvFailed, Reason: model.RTransport},
	{From: model.StatusReady, To: model.StatusFailed, Event: EvFailed, Reason: model.RTransport},
	{From: model.StatusAnalyzing, To: model.StatusFailed, Event: EvFailed, Reason: model.RTransport},

	// Cancellation only where work is in flight
	{From: model.StatusUploading, To: model.StatusFailed, Event: EvCancelRequested, Reason: model.RCancelled},
	{From: model.StatusAnalyzing, To: model.StatusFailed, Event: EvCancelRequested, Reason: model.RCancelled},
}

// TransitionFor returns the allowed transition for a given state+event.
func TransitionFor(from model.Status, ev EventKind) (Transition, bool) {
	for _, tr := range transitionsTable {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return Transition{}, false
}
