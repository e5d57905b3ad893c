// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import "github.com/ManuGH/auravision/internal/domain/session/model"

const (
	ForbiddenTerminalAbsorbing = "terminal_absorbing"
	ForbiddenOutOfOrder        = "out_of_order"
	ForbiddenAlreadyInState    = "already_in_state"
	ForbiddenRequiresUpload    = "requires_upload"
	ForbiddenRequiresAnalysis  = "requires_analysis"
	ForbiddenNothingInFlight   = "nothing_in_flight"
)

func allowed() Decision        { return Decision{Allowed: true} }
func forbid(r string) Decision { return Decision{Allowed: false, Reason: r} }

// decisionTable defines an explicit decision for every Status×Event combination.
var decisionTable = map[model.Status]map[EventKind]Decision{
	model.StatusIdle: {
		EvUploadStarted:     allowed(),
		EvUploadProgress:    forbid(ForbiddenRequiresUpload),
		EvUploadSucceeded:   forbid(ForbiddenRequiresUpload),
		EvAnalyzeStarted:    forbid(ForbiddenOutOfOrder),
		EvAnalysisUpdate:    forbid(ForbiddenRequiresAnalysis),
		EvAnalysisCompleted: forbid(ForbiddenRequiresAnalysis),
		EvFailed:            allowed(),
		EvCancelRequested:   forbid(ForbiddenNothingInFlight),
	},
	model.StatusUploading: {
		EvUploadStarted:     forbid(ForbiddenAlreadyInState),
		EvUploadProgress:    allowed(),
		EvUploadSucceeded:   allowed(),
		EvAnalyzeStarted:    forbid(ForbiddenOutOfOrder),
		EvAnalysisUpdate:    forbid(ForbiddenRequiresAnalysis),
		EvAnalysisCompleted: forbid(ForbiddenRequiresAnalysis),
		EvFailed:            allowed(),
		EvCancelRequested:   allowed(),
	},
	model.StatusReady: {
		EvUploadStarted:     forbid(ForbiddenOutOfOrder),
		EvUploadProgress:    forbid(ForbiddenOutOfOrder),
		EvUploadSucceeded:   forbid(ForbiddenAlreadyInState),
		EvAnalyzeStarted:    allowed(),
		EvAnalysisUpdate:    forbid(ForbiddenRequiresAnalysis),
		EvAnalysisCompleted: forbid(ForbiddenRequiresAnalysis),
		EvFailed:            allowed(),
		EvCancelRequested:   forbid(ForbiddenNothingInFlight),
	},
	model.StatusAnalyzing: {
		EvUploadStarted:     forbid(ForbiddenOutOfOrder),
		EvUploadProgress:    forbid(ForbiddenOutOfOrder),
		EvUploadSucceeded:   forbid(ForbiddenOutOfOrder),
		EvAnalyzeStarted:    forbid(ForbiddenAlreadyInState),
		EvAnalysisUpdate:    allowed(),
		EvAnalysisCompleted: allowed(),
		EvFailed:            allowed(),
		EvCancelRequested:   allowed(),
	},
	model.StatusCompleted: {
		EvUploadStarted:     forbid(ForbiddenTerminalAbsorbing),
		EvUploadProgress:    forbid(ForbiddenTerminalAbsorbing),
		EvUploadSucceeded:   forbid(ForbiddenTerminalAbsorbing),
		EvAnalyzeStarted:    forbid(ForbiddenTerminalAbsorbing),
		EvAnalysisUpdate:    forbid(ForbiddenTerminalAbsorbing),
		EvAnalysisCompleted: forbid(ForbiddenTerminalAbsorbing),
		EvFailed:            forbid(ForbiddenTerminalAbsorbing),
		EvCancelRequested:   forbid(ForbiddenTerminalAbsorbing),
	},
	model.StatusFailed: {
		EvUploadStarted:     forbid(ForbiddenTerminalAbsorbing),
		EvUploadProgress:    forbid(ForbiddenTerminalAbsorbing),
		EvUploadSucceeded:   forbid(ForbiddenTerminalAbsorbing),
		EvAnalyzeStarted:    forbid(ForbiddenTerminalAbsorbing),
		EvAnalysisUpdate:    forbid(ForbiddenTerminalAbsorbing),
		EvAnalysisCompleted: forbid(ForbiddenTerminalAbsorbing),
		EvFailed:            forbid(ForbiddenTerminalAbsorbing),
		EvCancelRequested:   forbid(ForbiddenTerminalAbsorbing),
	},
}

// DecisionFor returns the explicit decision for state×event.
func DecisionFor(from model.Status, ev EventKind) (Decision, bool) {
	m, ok := decisionTable[from]
	if !ok {
		return Decision{}, false
	}
	d, ok := m[ev]
	return d, ok
}

// ForbiddenTransitionReason documents why a transition is disallowed.
func ForbiddenTransitionReason(from model.Status, ev EventKind) string {
	decision, ok := DecisionFor(from, ev)
	if !ok || decision.Allowed {
		return ""
	}
	return decision.Reason
}
