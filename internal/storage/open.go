package storage

import (
	"context"
	"errors"
	"strings"

	logx "tiersched/pkg/logx"
)

// Store is the outcome history API used by the app.
type Store interface {
	AppendOutcome(ctx context.Context, r Record) error
	// ListOutcomes returns stored records in insertion order. An empty runID
	// lists every run.
	ListOutcomes(ctx context.Context, runID string) ([]Record, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
