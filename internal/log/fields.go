// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldSessionID     = "session_id"
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldTraceID       = "trace_id"
	FieldSpanID        = "span_id"
	FieldEpoch         = "epoch"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldHandle    = "handle"
	FieldOperation = "operation"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Reconciliation fields
	FieldSeq     = "seq"
	FieldTick    = "tick"
	FieldChannel = "channel"
	FieldMisses  = "misses"

	// Media fields
	FieldSource    = "source"
	FieldMIMEType  = "mime_type"
	FieldSizeBytes = "size_bytes"

	// Network fields
	FieldBaseURL = "base_url"
	FieldPath    = "path"
)
