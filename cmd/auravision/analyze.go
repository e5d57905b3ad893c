// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/auravision/internal/config"
	"github.com/ManuGH/auravision/internal/domain/session/manager"
	"github.com/ManuGH/auravision/internal/domain/session/model"
	"github.com/ManuGH/auravision/internal/export"
	avlog "github.com/ManuGH/auravision/internal/log"
)

type analyzeFlags struct {
	live        string
	mode        string
	set         []string
	export      string
	metricsAddr string
}

// analyzeRequest is the fully resolved input of one analyze run.
type analyzeRequest struct {
	source     model.Source
	mode       string
	options    map[string]string
	exportPath string
}

func newAnalyzeCmd(c *cli) *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Upload a video or register a live feed and stream its analysis",
		Args: func(_ *cobra.Command, args []string) error {
			if f.live != "" {
				if len(args) != 0 {
					return usagef("a file argument cannot be combined with --live")
				}
				return nil
			}
			if len(args) != 1 {
				return usagef("analyze requires exactly one video file or --live WxH")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if f.metricsAddr != "" {
				cfg.Metrics.ListenAddr = f.metricsAddr
			}
			req, err := f.request(cfg, args)
			if err != nil {
				return err
			}
			return runAnalyze(cmd.Context(), cfg, req, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&f.live, "live", "", "analyze a live feed of the given resolution (WxH)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "analysis mode (defaults to analysis.mode from config)")
	cmd.Flags().StringArrayVar(&f.set, "set", nil, "analysis option as key=value (repeatable)")
	cmd.Flags().StringVar(&f.export, "export", "", "write the completed session export to this JSON file")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func (f analyzeFlags) request(cfg config.AppConfig, args []string) (analyzeRequest, error) {
	req := analyzeRequest{
		mode:       cfg.Analysis.Mode,
		exportPath: strings.TrimSpace(f.export),
	}
	if f.mode != "" {
		req.mode = f.mode
	}

	if f.live != "" {
		w, h, err := parseResolution(f.live)
		if err != nil {
			return req, usageError{err: err}
		}
		req.source = model.NewLiveSource(w, h)
	} else {
		src, err := model.FileSourceFromPath(args[0])
		if err != nil {
			return req, err
		}
		req.source = src
	}

	overrides, err := parseOptions(f.set)
	if err != nil {
		return req, usageError{err: err}
	}
	if len(cfg.Analysis.Options) > 0 || len(overrides) > 0 {
		req.options = make(map[string]string, len(cfg.Analysis.Options)+len(overrides))
		maps.Copy(req.options, cfg.Analysis.Options)
		maps.Copy(req.options, overrides)
	}
	return req, nil
}

// parseResolution parses "WxH", e.g. "1280x720".
func parseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid resolution %q (want WxH)", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution width %q: %w", ws, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid resolution height %q: %w", hs, err)
	}
	return w, h, nil
}

func parseOptions(kvs []string) (map[string]string, error) {
	if len(kvs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q (want key=value)", kv)
		}
		out[k] = v
	}
	return out, nil
}

// runAnalyze drives one session to a terminal state, rendering every
// snapshot to out. The metrics server, if configured, lives exactly as
// long as the session.
func runAnalyze(ctx context.Context, cfg config.AppConfig, req analyzeRequest, out io.Writer) error {
	logger := avlog.Derive(func(c *zerolog.Context) {
		*c = c.Str(avlog.FieldComponent, "cli").Str(avlog.FieldBaseURL, cfg.API.BaseURL)
	})

	tp, err := startTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	ctrl := manager.New(client, sessionConfig(cfg))
	defer func() { _ = ctrl.Close() }()

	r := newRenderer(out)
	unsubscribe := ctrl.Subscribe(r.observe)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return drive(gctx, ctrl, r, req)
	})
	if cfg.Metrics.ListenAddr != "" {
		serveMetrics(g, done, cfg.Metrics.ListenAddr)
		logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("serving metrics")
	}
	return g.Wait()
}

func drive(ctx context.Context, ctrl *manager.Controller, r *renderer, req analyzeRequest) error {
	if err := ctrl.SelectSource(ctx, req.source); err != nil {
		return fmt.Errorf("select source: %w", err)
	}

	snap, err := r.await(ctx, ctrl, func(s model.Session) bool {
		return s.Status == model.StatusReady || s.Status.IsTerminal()
	})
	if err != nil {
		return interrupt(ctrl)
	}
	if snap.Status != model.StatusReady {
		return sessionError(snap)
	}

	if err := ctrl.StartAnalysis(ctx, req.mode, req.options); err != nil {
		if ctx.Err() != nil {
			return interrupt(ctrl)
		}
		return fmt.Errorf("start analysis: %w", err)
	}

	snap, err = r.await(ctx, ctrl, func(s model.Session) bool { return s.Status.IsTerminal() })
	if err != nil {
		return interrupt(ctrl)
	}
	r.summary(snap)
	if snap.Status == model.StatusFailed {
		return sessionError(snap)
	}

	if req.exportPath == "" {
		return nil
	}
	doc, err := ctrl.ExportSnapshot()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	ctx = avlog.ContextWithSessionID(avlog.ContextWithCorrelationID(ctx, doc.CorrelationID), doc.SessionID)
	if err := export.WriteJSON(ctx, req.exportPath, doc); err != nil {
		return err
	}
	r.printf("export written to %s\n", req.exportPath)
	return nil
}

func interrupt(ctrl *manager.Controller) error {
	if err := ctrl.Cancel(); err != nil && !errors.Is(err, manager.ErrNotCancellable) {
		logger := avlog.WithComponent("cli")
		logger.Warn().Err(err).Msg("cancel failed")
	}
	return errInterrupted
}

// sessionFailedError reports a session that ended in the failed state.
type sessionFailedError struct {
	reason model.ReasonCode
	cause  string
}

func (e *sessionFailedError) Error() string {
	if e.cause == "" {
		return fmt.Sprintf("session failed (%s)", e.reason)
	}
	return fmt.Sprintf("session failed (%s): %s", e.reason, e.cause)
}

func sessionError(s model.Session) error {
	return &sessionFailedError{reason: s.Reason, cause: s.Cause}
}

func serveMetrics(g *errgroup.Group, stop <-chan struct{}, addr string) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}
