// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package lifecycle

import (
	"context"
	"errors"
	"strings"

	"github.com/ManuGH/auravision/internal/domain/session/model"
)

type reasonError struct {
	reason model.ReasonCode
	detail string
	err    error
}

func (e *reasonError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.detail != "" {
		return string(e.reason) + ": " + e.detail
	}
	return string(e.reason)
}

func (e *reasonError) Is(target error) bool {
	if target == nil {
		return false
	}
	class := ReasonErrorClass(e.reason)
	return class != nil && target == class
}

func (e *reasonError) Unwrap() error {
	return e.err
}

// NewReasonError tags err with a reason code so callers can recover it with
// ClassifyReason and match its class with errors.Is.
func NewReasonError(reason model.ReasonCode, detail string, err error) error {
	return &reasonError{reason: reason, detail: detail, err: err}
}

// ClassifyReason derives a reason code and a sanitized cause string from err.
func ClassifyReason(err error) (model.ReasonCode, string) {
	if err == nil {
		return model.RNone, ""
	}

	var rerr *reasonError
	if errors.As(err, &rerr) {
		detail := rerr.detail
		if detail == "" && rerr.err != nil {
			detail = rerr.err.Error()
		}
		return rerr.reason, sanitizeDetail(detail)
	}

	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return model.RCancelled, "cancelled by user"
	case errors.Is(err, ErrConnectivityLost):
		return model.RConnectivityLost, sanitizeDetail(err.Error())
	case errors.Is(err, ErrAnalyzeRejected):
		return model.RAnalyzeRejected, sanitizeDetail(err.Error())
	case errors.Is(err, ErrAnalysisFailed):
		return model.RAnalysisFailed, sanitizeDetail(err.Error())
	case errors.Is(err, ErrInvariantViolation):
		return model.RInvariantBreach, sanitizeDetail(err.Error())
	default:
		return model.RTransport, sanitizeDetail(err.Error())
	}
}

func sanitizeDetail(detail string) string {
	if detail == "" {
		return ""
	}
	const maxLen = 160
	clean := strings.ReplaceAll(detail, "\n", " ")
	if len(clean) > maxLen {
		return clean[:maxLen] + "..."
	}
	return clean
}
