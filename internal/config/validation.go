// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"strings"
	"time"

	"github.com/ManuGH/auravision/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.URL("api.baseURL", cfg.API.BaseURL, []string{"http", "https"})
	if strings.TrimSpace(cfg.API.PushURL) != "" {
		v.URL("api.pushURL", cfg.API.PushURL, []string{"ws", "wss"})
	}
	v.DurationRange("api.timeout", cfg.API.Timeout, 100*time.Millisecond, 5*time.Minute)

	v.Positive("session.maxUploadBytes", cfg.Session.MaxUploadBytes)
	v.DurationRange("session.pollInterval", cfg.Session.PollInterval, 50*time.Millisecond, time.Minute)
	v.Range("session.maxPollMisses", cfg.Session.MaxPollMisses, 1, 100)
	if cfg.Session.UploadProgressRate <= 0 {
		v.AddError("session.uploadProgressRate", "must be positive", cfg.Session.UploadProgressRate)
	}
	v.DurationRange("session.controlTimeout", cfg.Session.ControlTimeout, 100*time.Millisecond, time.Minute)

	v.NotEmpty("analysis.mode", cfg.Analysis.Mode)

	v.Range("breaker.threshold", cfg.Breaker.Threshold, 1, 100)
	v.DurationRange("breaker.resetTimeout", cfg.Breaker.ResetTimeout, time.Second, time.Hour)

	if _, err := validate.ParseLogLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		v.AddError("log.level", err.Error(), cfg.Log.Level)
	}

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)
	}

	if cfg.Metrics.ListenAddr != "" {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
	}

	return v.Err()
}
