// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	SessionIDKey     = "session.id"
	CorrelationIDKey = "session.correlation_id"
	SessionStatusKey = "session.status"
	SourceKindKey    = "source.kind"
	SourceMIMEKey    = "source.mime_type"
	SourceBytesKey   = "source.size_bytes"
	AnalysisModeKey  = "analysis.mode"

	TransportOpKey = "transport.operation"
	HTTPRouteKey   = "http.route"
	HTTPStatusKey  = "http.status_code"
)

// SessionAttributes builds span attributes for a session. Empty values are skipped.
func SessionAttributes(sessionID, correlationID, status string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if sessionID != "" {
		attrs = append(attrs, attribute.String(SessionIDKey, sessionID))
	}
	if correlationID != "" {
		attrs = append(attrs, attribute.String(CorrelationIDKey, correlationID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String(SessionStatusKey, status))
	}
	return attrs
}

// SourceAttributes describes the selected media.
func SourceAttributes(kind, mimeType string, sizeBytes int64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(SourceKindKey, kind)}
	if mimeType != "" {
		attrs = append(attrs, attribute.String(SourceMIMEKey, mimeType))
	}
	if sizeBytes > 0 {
		attrs = append(attrs, attribute.Int64(SourceBytesKey, sizeBytes))
	}
	return attrs
}

// TransportAttributes describes one call to the analysis service.
func TransportAttributes(op, route string, status int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(TransportOpKey, op),
		attribute.String(HTTPRouteKey, route),
	}
	if status > 0 {
		attrs = append(attrs, attribute.Int(HTTPStatusKey, status))
	}
	return attrs
}
