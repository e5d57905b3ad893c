// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package manager

import (
	"errors"

	"github.com/ManuGH/auravision/internal/domain/session/lifecycle"
)

var (
	ErrInvalidMedia       = lifecycle.ErrInvalidMedia
	ErrOversize           = lifecycle.ErrOversize
	ErrNoSession          = lifecycle.ErrNoSession
	ErrAlreadyAnalyzing   = lifecycle.ErrAlreadyAnalyzing
	ErrNotComplete        = lifecycle.ErrNotComplete
	ErrNotCancellable     = lifecycle.ErrNotCancellable
	ErrTransport          = lifecycle.ErrTransport
	ErrConnectivityLost   = lifecycle.ErrConnectivityLost
	ErrAnalyzeRejected    = lifecycle.ErrAnalyzeRejected
	ErrCancelled          = lifecycle.ErrCancelled
	ErrInvariantViolation = lifecycle.ErrInvariantViolation
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("controller closed")

// errSuperseded marks async work whose session was replaced or cancelled.
var errSuperseded = errors.New("superseded by a newer session")
