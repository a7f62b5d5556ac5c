package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ManuGH/qtrader/internal/version"
)

type daemonStatus struct {
	Running       bool            `json:"running"`
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	IBKRConnected bool            `json:"ibkr_connected"`
	Services      map[string]bool `json:"services"`
	DataStats     struct {
		MarketDataSymbols int `json:"market_data_symbols"`
		TotalPositions    int `json:"total_positions"`
		ActiveAlerts      int `json:"active_alerts"`
	} `json:"data_stats"`
}

func newStatusCommand() *cobra.Command {
	var (
		baseURL string
		timeout time.Duration
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := http.Client{Timeout: timeout}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/v1/status", nil)
			if err != nil {
				return usagef(err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return fmt.Errorf("daemon unreachable: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("status request failed: %s", resp.Status)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				var raw json.RawMessage
				if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
					return fmt.Errorf("decode status: %w", err)
				}
				_, err = fmt.Fprintln(out, string(raw))
				return err
			}

			var st daemonStatus
			if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			gateway := "disconnected"
			if st.IBKRConnected {
				gateway = "connected"
			}
			fmt.Fprintf(out, "qtrader %s (cli %s)\n", st.Version, version.Version)
			fmt.Fprintf(out, "uptime:    %s\n", (time.Duration(st.UptimeSeconds) * time.Second).String())
			fmt.Fprintf(out, "gateway:   %s\n", gateway)
			fmt.Fprintf(out, "symbols:   %d\n", st.DataStats.MarketDataSymbols)
			fmt.Fprintf(out, "positions: %d\n", st.DataStats.TotalPositions)
			fmt.Fprintf(out, "alerts:    %d\n", st.DataStats.ActiveAlerts)

			names := make([]string, 0, len(st.Services))
			for name := range st.Services {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				state := "stopped"
				if st.Services[name] {
					state = "running"
				}
				fmt.Fprintf(out, "  %-12s %s\n", name, state)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", defaultDaemonURL, "base URL of the daemon API")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw status JSON")
	return cmd
}
