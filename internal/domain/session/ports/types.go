// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ports

import "github.com/ManuGH/auravision/internal/domain/session/model"

// PushHandle is an opaque identifier for an open push channel.
type PushHandle string

// UploadResult is returned by a successful upload.
type UploadResult struct {
	SessionID string
}

// AnalyzeResult reports whether the service accepted the analyze request.
type AnalyzeResult struct {
	Accepted bool
	// Detail carries the service's explanation when not accepted.
	Detail string
}

// ServiceStatus is the analysis service's own view of a session.
type ServiceStatus string

const (
	ServiceUploaded   ServiceStatus = "uploaded"
	ServiceProcessing ServiceStatus = "processing"
	ServicePaused     ServiceStatus = "paused"
	ServiceCompleted  ServiceStatus = "completed"
	ServiceError      ServiceStatus = "error"
	ServiceStopped    ServiceStatus = "stopped"
)

// IsTerminal reports whether no further updates will follow.
func (s ServiceStatus) IsTerminal() bool {
	switch s {
	case ServiceCompleted, ServiceError, ServiceStopped:
		return true
	}
	return false
}

// IsFailure reports whether the service ended the analysis without completing it.
func (s ServiceStatus) IsFailure() bool {
	return s == ServiceError || s == ServiceStopped
}

// PollStatus is a poll snapshot. It carries no sequence number.
type PollStatus struct {
	Status ServiceStatus
	// Progress is a percent in [0,100].
	Progress   float64
	Statistics model.Statistics
}

// PushEventType discriminates push channel messages.
type PushEventType string

const (
	PushUpdate   PushEventType = "update"
	PushComplete PushEventType = "complete"
)

// PushEvent is one message from the push channel. Seq is server-assigned and
// increases in send order.
type PushEvent struct {
	Type    PushEventType
	Seq     uint64
	Payload Update
}

// Update is the incremental analysis payload carried by a push event.
type Update struct {
	Status     ServiceStatus
	Progress   *float64
	Statistics model.Statistics
	Results    []model.Result
	Error      string
}
