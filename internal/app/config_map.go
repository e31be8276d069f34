package app

import (
	"context"
	"fmt"

	"tiersched/internal/config"
	"tiersched/internal/storage"
	"tiersched/internal/task/engine"
	logx "tiersched/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	if sc.Driver == "" || sc.Driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := sc.BusyTimeoutDuration()
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy}, true, nil
}

func mapEngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{InitialCapacity: cfg.Scheduler.InitialCapacity}
}

// validateConfig covers what the config package cannot check on its own.
// It runs on load and before every hot reload is committed.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if cfg.Trigger.Schedule != "" {
		if _, err := ParseTrigger(cfg.Trigger.Schedule); err != nil {
			return fmt.Errorf("trigger.schedule: %w", err)
		}
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}
