// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package analysisapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
	"github.com/ManuGH/auravision/internal/resilience"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrNotFound            = errors.New("upstream: resource not found")
	ErrUpstreamUnavailable = errors.New("upstream: host unreachable or transport failure")
	ErrUpstreamError       = errors.New("upstream: internal error (5xx)")
	ErrUpstreamBadResponse = errors.New("upstream: invalid response format or malformed data")
	ErrTimeout             = errors.New("upstream: request timed out")
)

const maxErrorBody = 512

// APIError is a rich error type that wraps the sentinel errors with context.
// Every APIError also matches lifecycle.ErrTransport.
type APIError struct {
	Sentinel  error
	Operation string
	Status    int
	Body      string
	Err       error // Nested lower-level error (e.g. net.Error)
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("analysisapi: %s: %v", e.Operation, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *APIError) Unwrap() []error {
	out := []error{e.Sentinel, lifecycle.ErrTransport}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// wrapErr classifies a request-level failure.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return err
	}

	sentinel := ErrUpstreamUnavailable
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		// Caller cancellation is not an upstream condition.
		return err
	case errors.Is(err, context.DeadlineExceeded):
		sentinel = ErrTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		sentinel = ErrTimeout
	case errors.Is(err, resilience.ErrCircuitOpen):
		sentinel = ErrUpstreamUnavailable
	}
	return &APIError{Sentinel: sentinel, Operation: op, Err: err}
}

// statusErr maps a non-2xx response onto a sentinel. It consumes at most
// maxErrorBody bytes of the body.
func statusErr(op string, res *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return &APIError{
		Sentinel:  sentinelForStatus(res.StatusCode),
		Operation: op,
		Status:    res.StatusCode,
		Body:      strings.TrimSpace(string(body)),
	}
}

func sentinelForStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusServiceUnavailable, code == http.StatusBadGateway:
		return ErrUpstreamUnavailable
	case code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return ErrUpstreamError
	}
	return ErrUpstreamBadResponse
}

func badResponse(op string, err error) error {
	return &APIError{Sentinel: ErrUpstreamBadResponse, Operation: op, Err: err}
}

// tripsBreaker reports whether err says something about upstream health.
func tripsBreaker(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable) ||
		errors.Is(err, ErrUpstreamError) ||
		errors.Is(err, ErrTimeout)
}

// outcome is the metrics label for a finished request.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, ErrUpstreamError):
		return "upstream_error"
	default:
		return "bad_response"
	}
}
