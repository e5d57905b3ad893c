// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ManuGH/auravision/internal/analysisapi"
	"github.com/ManuGH/auravision/internal/config"
	"github.com/ManuGH/auravision/internal/domain/session/manager"
	"github.com/ManuGH/auravision/internal/telemetry"
	"github.com/ManuGH/auravision/internal/version"
)

func newClient(cfg config.AppConfig) (*analysisapi.Client, error) {
	client, err := analysisapi.New(analysisapi.Options{
		BaseURL: cfg.API.BaseURL,
		PushURL: cfg.API.PushURL,
		Timeout: cfg.API.Timeout,
		Breaker: analysisapi.NewBreaker(cfg.Breaker.Threshold, cfg.Breaker.ResetTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("analysis client: %w", err)
	}
	return client, nil
}

func sessionConfig(cfg config.AppConfig) manager.Config {
	return manager.Config{
		MaxUploadBytes:     cfg.Session.MaxUploadBytes,
		PollInterval:       cfg.Session.PollInterval,
		MaxPollMisses:      cfg.Session.MaxPollMisses,
		UploadProgressRate: rate.Limit(cfg.Session.UploadProgressRate),
		ControlTimeout:     cfg.Session.ControlTimeout,
	}
}

func startTelemetry(ctx context.Context, cfg config.AppConfig) (*telemetry.Provider, error) {
	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Log.Service,
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return tp, nil
}
