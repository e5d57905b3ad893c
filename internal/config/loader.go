// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownConfigField classifies strict YAML parse failures caused by unknown keys.
	// Use errors.Is(err, ErrUnknownConfigField) instead of string matching.
	ErrUnknownConfigField = errors.New("unknown config field")
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envInt64(key string, defaultVal int64) int64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt64(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults, then
// validates the result.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.API.BaseURL = strings.TrimRight(os.ExpandEnv(cfg.API.BaseURL), "/")
	cfg.API.PushURL = strings.TrimRight(os.ExpandEnv(cfg.API.PushURL), "/")
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing: unknown fields
// and trailing documents are errors.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.API.BaseURL = l.envString(EnvAPIBaseURL, cfg.API.BaseURL)
	cfg.API.PushURL = l.envString(EnvAPIPushURL, cfg.API.PushURL)
	cfg.API.Timeout = l.envDuration(EnvAPITimeout, cfg.API.Timeout)

	cfg.Session.MaxUploadBytes = l.envInt64(EnvMaxUploadBytes, cfg.Session.MaxUploadBytes)
	cfg.Session.PollInterval = l.envDuration(EnvPollInterval, cfg.Session.PollInterval)
	cfg.Session.MaxPollMisses = l.envInt(EnvMaxPollMisses, cfg.Session.MaxPollMisses)
	cfg.Session.UploadProgressRate = l.envFloat(EnvUploadProgressRate, cfg.Session.UploadProgressRate)
	cfg.Session.ControlTimeout = l.envDuration(EnvControlTimeout, cfg.Session.ControlTimeout)

	cfg.Analysis.Mode = l.envString(EnvAnalysisMode, cfg.Analysis.Mode)

	cfg.Breaker.Threshold = l.envInt(EnvBreakerThreshold, cfg.Breaker.Threshold)
	cfg.Breaker.ResetTimeout = l.envDuration(EnvBreakerResetTimeout, cfg.Breaker.ResetTimeout)

	cfg.Log.Level = l.envString(EnvLogLevel, cfg.Log.Level)

	cfg.Telemetry.Enabled = l.envBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvTelemetryExporter, cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvTelemetryEndpoint, cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvTelemetrySampling, cfg.Telemetry.SamplingRate)

	cfg.Metrics.ListenAddr = l.envString(EnvMetricsAddr, cfg.Metrics.ListenAddr)
}

// LoadFileConfig loads a YAML config file over the defaults without
// applying env overrides or validation.
func LoadFileConfig(path string) (AppConfig, error) {
	cfg := Defaults()
	err := NewLoader(path, "").loadFile(path, &cfg)
	return cfg, err
}
