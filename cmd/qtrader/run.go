// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ManuGH/qtrader/internal/config"
	"github.com/ManuGH/qtrader/internal/daemon"
	"github.com/ManuGH/qtrader/internal/health"
	qlog "github.com/ManuGH/qtrader/internal/log"
	"github.com/ManuGH/qtrader/internal/version"
)

func newRunCommand(cfgPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), cfgPath())
		},
	}
}

func runDaemon(ctx context.Context, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	qlog.Configure(qlog.Config{
		Level:       cfg.LogLevel,
		Output:      os.Stdout,
		Service:     "qtrader",
		Version:     version.Version,
		Environment: cfg.Environment,
		Console:     cfg.Environment == "development" && isTerminal(os.Stdout),
	})
	logger := qlog.WithComponent("daemon")

	source := "env+defaults"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(qlog.FieldEvent, "config.loaded").
		Str("source", source).
		Str("path", path).
		Str("environment", cfg.Environment).
		Msg("loaded configuration")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Error().
			Err(err).
			Str(qlog.FieldEvent, "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
		return err
	}

	holder := config.NewConfigHolder(cfg, config.NewLoader(path, version.Version), path)
	components, err := daemon.Build(ctx, holder, version.Version)
	if err != nil {
		return err
	}

	mgr, err := daemon.NewManager(daemon.ServerConfigFrom(cfg), components.ManagerDeps(cfg, logger))
	if err != nil {
		return err
	}
	components.RegisterShutdownHooks(mgr)

	logger.Info().
		Str(qlog.FieldEvent, "daemon.starting").
		Str("version", version.Version).
		Str("listen", cfg.API.ListenAddr).
		Str("gateway", fmt.Sprintf("%s:%d", cfg.IBKR.Host, cfg.IBKR.Port)).
		Msg("starting qtrader")

	if err := daemon.NewApp(logger, mgr, components).Run(ctx); err != nil {
		logger.Error().Err(err).Str(qlog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		return err
	}
	logger.Info().Str(qlog.FieldEvent, "daemon.stopped").Msg("qtrader stopped")
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
