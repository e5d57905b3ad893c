// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"errors"

	"github.com/ManuGH/auravision/internal/domain/session/model"
)

// Validation errors. The current session is left untouched.
var (
	ErrInvalidMedia = errors.New("invalid media: not a video source")
	ErrOversize     = errors.New("source exceeds maximum upload size")
)

// Usage errors. No state change.
var (
	ErrNoSession        = errors.New("no session ready for analysis")
	ErrAlreadyAnalyzing = errors.New("analysis already in progress")
	ErrNotComplete      = errors.New("session is not complete")
	ErrNotCancellable   = errors.New("session has no work to cancel")
)

// Failure classes. A session failing with one of these ends in StatusFailed.
var (
	ErrTransport          = errors.New("transport failure")
	ErrConnectivityLost   = errors.New("connectivity lost")
	ErrAnalyzeRejected    = errors.New("analysis request rejected")
	ErrAnalysisFailed     = errors.New("analysis failed")
	ErrCancelled          = errors.New("session cancelled")
	ErrInvariantViolation = errors.New("invariant violation")
)

// Rejections returned by Apply. The event is discarded.
var (
	ErrIllegalTransition = errors.New("illegal transition")
	ErrStaleUpdate       = errors.New("stale update")
	ErrStaleSession      = errors.New("event belongs to another session")
)

// ReasonErrorClass maps a reason code back to its failure sentinel.
func ReasonErrorClass(reason model.ReasonCode) error {
	switch reason {
	case model.RCancelled:
		return ErrCancelled
	case model.RTransport:
		return ErrTransport
	case model.RConnectivityLost:
		return ErrConnectivityLost
	case model.RAnalysisFailed:
		return ErrAnalysisFailed
	case model.RAnalyzeRejected:
		return ErrAnalyzeRejected
	case model.RInvariantBreach:
		return ErrInvariantViolation
	case model.RNone, "":
		return nil
	default:
		return ErrTransport
	}
}

// IsRejection reports whether err is one of the Apply rejections that are
// part of normal operation.
func IsRejection(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrStaleUpdate) ||
		errors.Is(err, ErrStaleSession)
}
