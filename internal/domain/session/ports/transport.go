// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import (
	"context"

	"github.com/ManuGH/auravision/internal/domain/session/model"
)

// Transport is the contract the session controller consumes to talk to the
// analysis service. Implementations must honour ctx cancellation on every call.
type Transport interface {
	// Upload sends the source and returns the service-assigned session id.
	// progress receives percent values in [0,100]; it may be called from any goroutine.
	Upload(ctx context.Context, src model.Source, progress func(pct float64)) (UploadResult, error)

	// StartAnalyze asks the service to analyze an uploaded session.
	StartAnalyze(ctx context.Context, sessionID, mode string, config map[string]string) (AnalyzeResult, error)

	// PollStatus fetches the current service-side view of a session.
	PollStatus(ctx context.Context, sessionID string) (PollStatus, error)

	// OpenPushChannel subscribes to incremental updates. onEvent is called
	// sequentially in server send order until the channel is closed.
	OpenPushChannel(ctx context.Context, sessionID string, onEvent func(PushEvent)) (PushHandle, error)

	// ClosePushChannel releases the subscription. Closing an unknown or
	// already closed handle is not an error.
	ClosePushChannel(ctx context.Context, handle PushHandle) error
}

// AnalysisStopper is implemented by transports that can ask the service to
// abandon a running analysis.
type AnalysisStopper interface {
	StopAnalysis(ctx context.Context, sessionID string) error
}
