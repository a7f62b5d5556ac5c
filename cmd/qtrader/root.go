// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/version"
)

const defaultDaemonURL = "http://localhost:8765"

// usageError marks argument problems. They exit with code 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(err error) error { return usageError{err: err} }

func exitCode(err error) int {
	var ue usageError
	if errors.As(err, &ue) {
		return 2
	}
	return 1
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "qtrader",
		Short:         "Interactive Brokers portfolio monitor",
		Long:          "qtrader tracks IBKR accounts, positions, option greeks and risk alerts and serves them over REST and WebSocket.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")

	cfgPath := func() string { return strings.TrimSpace(configPath) }

	root.AddCommand(
		newRunCommand(cfgPath),
		newConfigCommand(cfgPath),
		newHealthcheckCommand(),
		newStorageCommand(cfgPath),
		newManifestCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
	return root
}

func loadConfig(path string) (config.AppConfig, error) {
	return config.NewLoader(path, version.Version).Load()
}
