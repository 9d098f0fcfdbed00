package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"grimm.is/hmdl/internal/brand"
	"grimm.is/hmdl/internal/coordinator"
	"grimm.is/hmdl/internal/logging"
)

// RunDaemon starts every service and blocks until SIGINT or SIGTERM, or
// until a service exits.
func RunDaemon(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logCfg := logging.DefaultConfig()
	logCfg.Level = level
	logCfg.JSON = cfg.LogJSON
	logger := logging.New(logCfg)
	logging.SetDefault(logger)

	if err := os.MkdirAll(cfg.StateDir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	c, err := coordinator.New(coordinator.Options{Config: cfg, Logger: logger})
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting", "version", brand.Version, "config", configPath, "state_dir", cfg.StateDir)
	if err := c.Run(ctx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
