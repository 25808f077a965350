package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled and timers do not
// survive a process restart.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Job is one pending durable timer job.
// Keep it compact and schema-stable; the scheduler re-arms these on start.
type Job struct {
	Key         string    `json:"key"` // "timer_<id>", unique
	TimerID     string    `json:"timer_id"`
	Description string    `json:"description,omitempty"`
	FireAt      time.Time `json:"fire_at"`
	CreatedAt   time.Time `json:"created_at"`
}
