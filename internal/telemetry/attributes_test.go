// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSessionAttributesSkipsEmpty(t *testing.T) {
	attrs := SessionAttributes("vid-1", "", "analyzing")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String(SessionIDKey, "vid-1"),
		attribute.String(SessionStatusKey, "analyzing"),
	}, attrs)

	assert.Empty(t, SessionAttributes("", "", ""))
}

func TestSourceAttributes(t *testing.T) {
	attrs := SourceAttributes("live", "", 0)
	assert.Len(t, attrs, 1)

	attrs = SourceAttributes("file", "video/mp4", 1024)
	assert.Len(t, attrs, 3)
	assert.Equal(t, int64(1024), attrs[2].Value.AsInt64())
}

func TestTransportAttributes(t *testing.T) {
	attrs := TransportAttributes("poll", "/api/status/{id}", 0)
	assert.Len(t, attrs, 2)
	attrs = TransportAttributes("poll", "/api/status/{id}", 200)
	assert.Equal(t, 200, int(attrs[2].Value.AsInt64()))
}
