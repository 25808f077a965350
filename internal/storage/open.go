package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tajmer/pkg/logx"
)

// Store is the minimal persistence API used by the scheduler and notifier.
type Store interface {
	// PutJob upserts a job by key (same key replaces the previous record).
	PutJob(ctx context.Context, j Job) error
	// DeleteJob removes a job by key; absent keys are a no-op.
	DeleteJob(ctx context.Context, key string) error
	// ListJobs returns all pending jobs in unspecified order.
	ListJobs(ctx context.Context) ([]Job, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

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
