// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/auravision/internal/analysisapi"
	"github.com/ManuGH/auravision/internal/config"
)

var controlActions = []analysisapi.ControlAction{
	analysisapi.ActionPause,
	analysisapi.ActionResume,
	analysisapi.ActionStop,
	analysisapi.ActionRestart,
}

// remote loads config and builds a client for one-shot service calls.
func (c *cli) remote() (config.AppConfig, *analysisapi.Client, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return cfg, nil, err
	}
	client, err := newClient(cfg)
	return cfg, client, err
}

func newControlCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "control <pause|resume|stop|restart> <video-id>",
		Short: "Pause, resume, stop or restart an analysis on the service",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usagef("control requires an action and a video id")
			}
			if !slices.Contains(controlActions, analysisapi.ControlAction(args[0])) {
				return usagef("unknown action %q (want pause, resume, stop or restart)", args[0])
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := c.remote()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			st, err := client.Control(ctx, args[1], analysisapi.ControlAction(args[0]))
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[1], st)
			return err
		},
	}
}

func newResultsCmd(c *cli) *cobra.Command {
	var (
		offset, limit int
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "results <video-id>",
		Short: "List stored analysis results a page at a time",
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("results requires exactly one video id")
			}
			if offset < 0 || limit < 0 {
				return usagef("--offset and --limit must not be negative")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, client, err := c.remote()
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			page, err := client.Results(ctx, args[0], offset, limit)
			if err != nil {
				return fmt.Errorf("results: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(page)
			}
			if len(page.Results) == 0 {
				fmt.Fprintf(out, "no results at offset %d of %d\n", page.Offset, page.Total)
				return nil
			}
			fmt.Fprintf(out, "results %d-%d of %d\n", page.Offset+1, page.Offset+len(page.Results), page.Total)
			for _, r := range page.Results {
				fmt.Fprintf(out, "  %s  frame %6d  objects %2d  conf %5.1f%%  %s\n",
					r.Timecode(), r.FrameNumber, r.ObjectCount, r.Confidence*100, strings.Join(r.Behaviors, ","))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "index of the first result")
	cmd.Flags().IntVar(&limit, "limit", 0, "page size (service default when 0)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the page as JSON")
	return cmd
}
