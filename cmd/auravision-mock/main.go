// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// auravision-mock serves a simulated analysis service for local development
// and demos.
//
// Usage:
//
//	auravision-mock --listen :8000 --step 100ms
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/auravision/internal/analysisapi"
	avlog "github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/validate"
	"github.com/ManuGH/auravision/internal/version"
)

const shutdownTimeout = 5 * time.Second

type mockFlags struct {
	listen      string
	step        time.Duration
	increment   float64
	frames      int
	uploadLimit int
	omitSeq     bool
	logLevel    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f mockFlags
	cmd := &cobra.Command{
		Use:           "auravision-mock",
		Short:         "Serve a simulated video analysis service",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.String(),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := f.validate(); err != nil {
				return err
			}
			avlog.Configure(avlog.Config{
				Level:   f.logLevel,
				Service: "auravision-mock",
				Version: version.Version,
			})
			lis, err := net.Listen("tcp", f.listen)
			if err != nil {
				return fmt.Errorf("listen %s: %w", f.listen, err)
			}
			return serve(cmd.Context(), lis, f.options())
		},
	}
	cmd.Flags().StringVar(&f.listen, "listen", ":8000", "listen address")
	cmd.Flags().DurationVar(&f.step, "step", 100*time.Millisecond, "simulated processing step")
	cmd.Flags().Float64Var(&f.increment, "increment", 0.1, "progress fraction gained per step")
	cmd.Flags().IntVar(&f.frames, "frames-per-step", 30, "frames processed per step")
	cmd.Flags().IntVar(&f.uploadLimit, "upload-limit", 60, "uploads per minute per client IP")
	cmd.Flags().BoolVar(&f.omitSeq, "omit-seq", false, "omit seq from push messages")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level")
	return cmd
}

func (f mockFlags) validate() error {
	v := validate.New()
	v.ListenAddr("listen", f.listen)
	v.DurationRange("step", f.step, time.Millisecond, time.Minute)
	v.FloatRange("increment", f.increment, 0.001, 1)
	v.Range("frames-per-step", f.frames, 1, 10_000)
	v.Range("upload-limit", f.uploadLimit, 1, 100_000)
	v.OneOf("log-level", f.logLevel, validate.LogLevels)
	return v.Err()
}

func (f mockFlags) options() analysisapi.MockOptions {
	return analysisapi.MockOptions{
		Step:          f.step,
		Increment:     f.increment,
		FramesPerStep: f.frames,
		OmitSeq:       f.omitSeq,
		UploadLimit:   f.uploadLimit,
	}
}

// serve runs the mock on lis until ctx ends, then shuts down gracefully.
func serve(ctx context.Context, lis net.Listener, opts analysisapi.MockOptions) error {
	logger := avlog.WithComponent("mock")
	mock := analysisapi.NewMockServer(opts)
	defer mock.Close()

	srv := &http.Server{
		Handler:           mock,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", lis.Addr().String()).
			Dur("step", opts.Step).
			Msg("mock analysis service listening")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// Push connections are hijacked; close them before waiting on the server.
		mock.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info().Msg("mock analysis service stopped")
		return nil
	})
	return g.Wait()
}
