// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show analysis service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.API.Timeout)
			defer cancel()
			st, err := client.SystemStatus(ctx)
			if err != nil {
				return fmt.Errorf("system status: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			fmt.Fprintf(out, "service:  %s (%s)\n", cfg.API.BaseURL, st.Status)
			if st.Version != "" {
				fmt.Fprintf(out, "version:  %s\n", st.Version)
			}
			fmt.Fprintf(out, "active:   %d analyses\n", st.ActiveAnalyses)
			fmt.Fprintf(out, "uptime:   %s\n", time.Duration(st.UptimeSeconds*float64(time.Second)).Round(time.Second))
			if len(st.SupportedModes) > 0 {
				fmt.Fprintf(out, "modes:    %s\n", strings.Join(st.SupportedModes, ", "))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status as JSON")
	return cmd
}
