// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// auravision uploads a video (or registers a live feed) with the analysis
// service and renders the session until it completes.
//
// Usage:
//
//	auravision analyze clip.mp4 --export report.json
//	auravision analyze --live 1280x720 --mode fast
//	auravision status
//	auravision control pause <video-id>
//	auravision results <video-id> --offset 100 --limit 50
//
// Exit codes:
//   - 0: success
//   - 1: the session failed or a command error occurred
//   - 2: usage error
//   - 130: interrupted
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ManuGH/auravision/internal/config"
	avlog "github.com/ManuGH/auravision/internal/log"
	"github.com/ManuGH/auravision/internal/version"
)

var errInterrupted = errors.New("interrupted")

// usageError marks errors caused by invalid flags or arguments.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

func main() {
	// Safe defaults until the config has been loaded.
	avlog.Configure(avlog.Config{
		Level:   "info",
		Service: "auravision",
		Version: version.Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

// cli carries state shared by all subcommands.
type cli struct {
	configPath string
}

func (c *cli) loadConfig() (config.AppConfig, error) {
	cfg, err := config.NewLoader(strings.TrimSpace(c.configPath), version.Version).Load()
	if err != nil {
		return cfg, err
	}
	avlog.Configure(avlog.Config{
		Level:   cfg.Log.Level,
		Service: cfg.Log.Service,
		Version: version.Version,
	})
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "auravision",
		Short:         "Client for the video behavior analysis service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file (YAML)")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	root.AddCommand(
		newAnalyzeCmd(c),
		newStatusCmd(c),
		newControlCmd(c),
		newResultsCmd(c),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return err
		},
	}
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return 0
	}
	if errors.Is(err, errInterrupted) {
		fmt.Fprintln(stderr, "interrupted")
		return 130
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	var uerr usageError
	if errors.As(err, &uerr) {
		return 2
	}
	return 1
}
