// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/ManuGH/qtrader/internal/config"
	qlog "github.com/ManuGH/qtrader/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := qlog.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if cfg.Storage.Enabled {
		if err := checkDataDir(logger, filepath.Dir(cfg.StoragePath())); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}

	for name, addr := range map[string]string{
		"api":     cfg.API.ListenAddr,
		"metrics": cfg.API.MetricsListenAddr,
	} {
		if err := checkListenAddr(addr); err != nil {
			return fmt.Errorf("invalid %s listen address: %w", name, err)
		}
	}

	if cfg.Watchlist.Enabled {
		if err := checkFileReadable(cfg.Watchlist.File); err != nil {
			logger.Warn().Err(err).Str(qlog.FieldPath, cfg.Watchlist.File).Msg("watchlist not readable, default symbols will be used")
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info().Msg("all startup checks passed")
	return nil
}

// checkDataDir creates path when missing and verifies it is writable.
func checkDataDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str(qlog.FieldPath, path).Msg("data directory is writable")
	return nil
}

func checkListenAddr(addr string) error {
	if addr == "" {
		return nil
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid port %q in %q", port, addr)
	}
	return nil
}

func checkFileReadable(path string) error {
	f, err := os.Open(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return err
	}
	return f.Close()
}
