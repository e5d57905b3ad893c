// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseString(t *testing.T) {
	const key = "AURAVISION_TEST_STRING"

	assert.Equal(t, "fallback", ParseString(key, "fallback"), "unset")

	t.Setenv(key, "")
	assert.Equal(t, "fallback", ParseString(key, "fallback"), "empty")

	t.Setenv(key, "value")
	assert.Equal(t, "value", ParseString(key, "fallback"))
}

func TestParseInt(t *testing.T) {
	const key = "AURAVISION_TEST_INT"

	t.Setenv(key, "42")
	assert.Equal(t, 42, ParseInt(key, 1))

	t.Setenv(key, "forty-two")
	assert.Equal(t, 1, ParseInt(key, 1), "invalid falls back")
}

func TestParseInt64_AllowsUnderscores(t *testing.T) {
	const key = "AURAVISION_TEST_INT64"

	t.Setenv(key, "4_294_967_296")
	assert.Equal(t, int64(4<<30), ParseInt64(key, 0))
}

func TestParseDuration(t *testing.T) {
	const key = "AURAVISION_TEST_DURATION"

	t.Setenv(key, "1m30s")
	assert.Equal(t, 90*time.Second, ParseDuration(key, time.Second))

	t.Setenv(key, "90")
	assert.Equal(t, time.Second, ParseDuration(key, time.Second), "unitless rejected")
}

func TestParseFloat(t *testing.T) {
	const key = "AURAVISION_TEST_FLOAT"

	t.Setenv(key, "0.25")
	assert.InDelta(t, 0.25, ParseFloat(key, 1), 1e-9)

	t.Setenv(key, "quarter")
	assert.InDelta(t, 1.0, ParseFloat(key, 1), 1e-9)
}

func TestParseBool(t *testing.T) {
	const key = "AURAVISION_TEST_BOOL"

	tests := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"true", false, true},
		{"YES", false, true},
		{"1", false, true},
		{"false", true, false},
		{"No", true, false},
		{"0", true, false},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Setenv(key, tt.raw)
		assert.Equal(t, tt.want, ParseBool(key, tt.def), "raw=%q default=%v", tt.raw, tt.def)
	}
}

func TestKnownEnvKeysAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, k := range KnownEnvKeys() {
		assert.False(t, seen[k], "duplicate key %s", k)
		seen[k] = true
	}
}
