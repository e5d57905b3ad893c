// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the client configuration with precedence
// ENV > file > defaults.
package config

import "time"

// AppConfig is the complete runtime configuration.
type AppConfig struct {
	API       APIConfig       `yaml:"api"`
	Session   SessionConfig   `yaml:"session"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// Version is injected from the binary, never read from file.
	Version string `yaml:"-"`
}

// APIConfig locates the analysis service.
type APIConfig struct {
	BaseURL string `yaml:"baseURL"`
	// PushURL overrides the WebSocket base; derived from BaseURL when empty.
	PushURL string        `yaml:"pushURL,omitempty"`
	Timeout time.Duration `yaml:"timeout"`
}

// SessionConfig tunes the session controller.
type SessionConfig struct {
	MaxUploadBytes     int64         `yaml:"maxUploadBytes"`
	PollInterval       time.Duration `yaml:"pollInterval"`
	MaxPollMisses      int           `yaml:"maxPollMisses"`
	UploadProgressRate float64       `yaml:"uploadProgressRate"`
	ControlTimeout     time.Duration `yaml:"controlTimeout"`
}

// AnalysisConfig holds the defaults sent with StartAnalysis.
type AnalysisConfig struct {
	Mode    string            `yaml:"mode"`
	Options map[string]string `yaml:"options,omitempty"`
}

// BreakerConfig tunes the transport circuit breaker.
type BreakerConfig struct {
	Threshold    int           `yaml:"threshold"`
	ResetTimeout time.Duration `yaml:"resetTimeout"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Environment  string  `yaml:"environment,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `yaml:"listenAddr,omitempty"`
}
