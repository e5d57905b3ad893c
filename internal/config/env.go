// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/auravision/internal/log"
)

// Environment keys.
const (
	EnvAPIBaseURL          = "AURAVISION_API_BASE_URL"
	EnvAPIPushURL          = "AURAVISION_API_PUSH_URL"
	EnvAPITimeout          = "AURAVISION_API_TIMEOUT"
	EnvMaxUploadBytes      = "AURAVISION_MAX_UPLOAD_BYTES"
	EnvPollInterval        = "AURAVISION_POLL_INTERVAL"
	EnvMaxPollMisses       = "AURAVISION_MAX_POLL_MISSES"
	EnvUploadProgressRate  = "AURAVISION_UPLOAD_PROGRESS_RATE"
	EnvControlTimeout      = "AURAVISION_CONTROL_TIMEOUT"
	EnvAnalysisMode        = "AURAVISION_ANALYSIS_MODE"
	EnvBreakerThreshold    = "AURAVISION_BREAKER_THRESHOLD"
	EnvBreakerResetTimeout = "AURAVISION_BREAKER_RESET_TIMEOUT"
	EnvLogLevel            = "AURAVISION_LOG_LEVEL"
	EnvTelemetryEnabled    = "AURAVISION_TELEMETRY_ENABLED"
	EnvTelemetryExporter   = "AURAVISION_TELEMETRY_EXPORTER"
	EnvTelemetryEndpoint   = "AURAVISION_TELEMETRY_ENDPOINT"
	EnvTelemetrySampling   = "AURAVISION_TELEMETRY_SAMPLING_RATE"
	EnvMetricsAddr         = "AURAVISION_METRICS_ADDR"
)

// KnownEnvKeys lists every key the loader reads.
func KnownEnvKeys() []string {
	return []string{
		EnvAPIBaseURL, EnvAPIPushURL, EnvAPITimeout,
		EnvMaxUploadBytes, EnvPollInterval, EnvMaxPollMisses, EnvUploadProgressRate, EnvControlTimeout,
		EnvAnalysisMode,
		EnvBreakerThreshold, EnvBreakerResetTimeout,
		EnvLogLevel,
		EnvTelemetryEnabled, EnvTelemetryExporter, EnvTelemetryEndpoint, EnvTelemetrySampling,
		EnvMetricsAddr,
	}
}

// parseEnv reads key and converts it with parse. Missing, empty or
// unparseable values yield defaultValue; the chosen source is logged.
func parseEnv[T any](logger zerolog.Logger, key string, defaultValue T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	if v == "" {
		logger.Debug().
			Str("key", key).
			Interface("default", defaultValue).
			Str("source", "default").
			Msg("using default value (environment variable is empty)")
		return defaultValue
	}
	parsed, err := parse(v)
	if err != nil {
		logger.Warn().
			Str("key", key).
			Str("value", v).
			Interface("default", defaultValue).
			Err(err).
			Msg("invalid value in environment variable, using default")
		return defaultValue
	}
	ev := logger.Debug().Str("key", key).Str("source", "environment")
	if isSensitiveKey(key) {
		ev = ev.Bool("sensitive", true)
	} else {
		ev = ev.Interface("value", parsed)
	}
	ev.Msg("using environment variable")
	return parsed
}

func isSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "token") || strings.Contains(k, "password") || strings.Contains(k, "secret")
}

func configLogger() zerolog.Logger {
	return log.WithComponent("config")
}

// ParseString reads a string from environment variable or returns default value.
func ParseString(key, defaultValue string) string {
	return parseEnv(configLogger(), key, defaultValue, func(s string) (string, error) { return s, nil })
}

// ParseInt reads an integer from environment variable or returns default value.
func ParseInt(key string, defaultValue int) int {
	return parseEnv(configLogger(), key, defaultValue, strconv.Atoi)
}

// ParseInt64 reads an int64, accepting underscores as digit separators.
func ParseInt64(key string, defaultValue int64) int64 {
	return parseEnv(configLogger(), key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(strings.ReplaceAll(s, "_", ""), 10, 64)
	})
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	return parseEnv(configLogger(), key, defaultValue, time.ParseDuration)
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	return parseEnv(configLogger(), key, defaultValue, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// ParseBool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	return parseEnv(configLogger(), key, defaultValue, func(s string) (bool, error) {
		switch strings.ToLower(s) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, strconv.ErrSyntax
	})
}
