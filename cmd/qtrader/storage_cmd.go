// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/qtrader/internal/persistence/sqlite"
)

// errCorrupt is returned when the integrity check reports problems.
var errCorrupt = errors.New("database integrity check failed")

func newStorageCommand(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect the SQLite store",
	}

	var path, mode string
	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check database integrity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode = strings.ToLower(strings.TrimSpace(mode))
			if mode != sqlite.ModeQuick && mode != sqlite.ModeFull {
				return usagef(fmt.Errorf("invalid mode %q: use quick or full", mode))
			}
			if path == "" {
				cfg, err := loadConfig(cfgPath())
				if err != nil {
					return err
				}
				path = cfg.StoragePath()
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Verifying integrity of %s (mode: %s)...\n", path, mode)
			issues, err := sqlite.VerifyIntegrity(path, mode)
			if err != nil {
				return fmt.Errorf("verification interrupted: %w", err)
			}
			if issues != nil {
				fmt.Fprintln(out, "CORRUPTION DETECTED!")
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
				return errCorrupt
			}
			fmt.Fprintln(out, "Integrity check passed.")
			return nil
		},
	}
	verify.Flags().StringVar(&path, "path", "", "database file (defaults to the configured storage path)")
	verify.Flags().StringVar(&mode, "mode", sqlite.ModeQuick, "verification mode: quick or full")

	cmd.AddCommand(verify)
	return cmd
}
