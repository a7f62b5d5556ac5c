// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/qtrader/internal/config"
)

func newConfigCommand(cfgPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate or print the effective configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(cfgPath), newConfigDumpCommand(cfgPath))
	return cmd
}

func newConfigValidateCommand(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgPath()
			if _, err := loadConfig(path); err != nil {
				return err
			}
			if path == "" {
				path = "env+defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", path)
			return nil
		},
	}
}

func newConfigDumpCommand(cfgPath func() string) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format = strings.ToLower(strings.TrimSpace(format))
			if format != "yaml" && format != "json" {
				return usagef(fmt.Errorf("invalid format %q: use yaml or json", format))
			}
			if output != "" && format != "yaml" {
				return usagef(errors.New("--output only writes yaml"))
			}

			cfg, err := loadConfig(cfgPath())
			if err != nil {
				return err
			}

			if output != "" {
				if err := config.WriteFile(output, cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", output)
				return nil
			}

			var data []byte
			if format == "json" {
				data, err = json.MarshalIndent(cfg.Redacted(), "", "  ")
				data = append(data, '\n')
			} else {
				data, err = config.Marshal(cfg)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the yaml to this file atomically")
	return cmd
}
