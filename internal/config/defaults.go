// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// Defaults returns the configuration used when neither file nor environment
// set a value.
func Defaults() AppConfig {
	return AppConfig{
		API: APIConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 10 * time.Second,
		},
		Session: SessionConfig{
			MaxUploadBytes:     4 << 30,
			PollInterval:       time.Second,
			MaxPollMisses:      5,
			UploadProgressRate: 10,
			ControlTimeout:     5 * time.Second,
		},
		Analysis: AnalysisConfig{
			Mode: "standard",
		},
		Breaker: BreakerConfig{
			Threshold:    5,
			ResetTimeout: 30 * time.Second,
		},
		Log: LogConfig{
			Level:   "info",
			Service: "auravision",
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}
