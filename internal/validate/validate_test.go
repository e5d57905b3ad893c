// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_URL(t *testing.T) {
	tests := []struct {
		name           string
		value          string
		allowedSchemes []string
		wantErr        bool
	}{
		{"valid http", "http://example.com", []string{"http", "https"}, false},
		{"valid ws", "ws://localhost:8000", []string{"ws", "wss"}, false},
		{"empty url", "", []string{"http"}, true},
		{"no host", "http://", []string{"http"}, true},
		{"invalid scheme", "ftp://example.com", []string{"http", "https"}, true},
		{"no scheme", "example.com", []string{"http"}, true},
		{"with path", "http://example.com/path", []string{"http"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.URL("testURL", tt.value, tt.allowedSchemes)
			assert.Equal(t, tt.wantErr, !v.IsValid(), "err: %v", v.Err())
		})
	}
}

func TestValidator_ListenAddr(t *testing.T) {
	tests := []struct {
		addr    string
		wantErr bool
	}{
		{":9090", false},
		{"127.0.0.1:8000", false},
		{"[::1]:8000", false},
		{"localhost", true},
		{":0", true},
		{":70000", true},
		{":http", true},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			v := New()
			v.ListenAddr("addr", tt.addr)
			assert.Equal(t, tt.wantErr, !v.IsValid())
		})
	}
}

func TestValidator_Ranges(t *testing.T) {
	v := New()
	v.Range("misses", 5, 1, 10)
	v.FloatRange("rate", 0.5, 0, 1)
	v.DurationRange("interval", time.Second, 100*time.Millisecond, time.Minute)
	require.NoError(t, v.Err())

	v.Range("misses", 0, 1, 10)
	v.FloatRange("rate", 1.5, 0, 1)
	v.DurationRange("interval", time.Millisecond, 100*time.Millisecond, time.Minute)
	v.Positive("maxBytes", 0)
	require.Len(t, v.Errors(), 4)
	assert.Equal(t, "misses", v.Errors()[0].Field)
	assert.Contains(t, v.Err().Error(), "duration must be between 100ms and 1m0s, got 1ms")
}

func TestValidator_OneOfAndNotEmpty(t *testing.T) {
	v := New()
	v.OneOf("exporter", "grpc", []string{"grpc", "http"})
	v.NotEmpty("mode", "standard")
	require.True(t, v.IsValid())

	v.OneOf("exporter", "zipkin", []string{"grpc", "http"})
	v.NotEmpty("mode", "   ")
	assert.Len(t, v.Errors(), 2)
}

func TestValidator_Custom(t *testing.T) {
	v := New()
	v.Custom("field", 3, func(x any) error {
		if x.(int)%2 == 1 {
			return errors.New("must be even")
		}
		return nil
	})
	require.Error(t, v.Err())
	assert.Equal(t, "validation failed for field: must be even", v.Err().Error())
}

func TestValidationError_Unwrapping(t *testing.T) {
	v := New()
	v.AddError("a", "bad", 1)
	v.AddError("b", "worse", 2)

	var verr ValidationError
	require.True(t, errors.As(v.Err(), &verr))
	assert.Len(t, verr.Errors(), 2)
	assert.Equal(t, "validation failed for a: bad; validation failed for b: worse", verr.Error())

	// Err snapshots; later errors do not leak into it.
	v.AddError("c", "later", 3)
	assert.Len(t, verr.Errors(), 2)
}

func TestParseLogLevel(t *testing.T) {
	for _, l := range LogLevels {
		got, err := ParseLogLevel(l)
		require.NoError(t, err)
		assert.Equal(t, LogLevel(l), got)
	}
	_, err := ParseLogLevel("verbose")
	assert.ErrorIs(t, err, ErrInvalidLogLevel)
}
