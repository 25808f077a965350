package notifier

import (
	"context"
	"time"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
	// FallbackBody is used when a fired timer has no description.
	FallbackBody string
}

// Notification is one user-visible alert.
type Notification struct {
	// Key is the platform dedup key, derived from the timer id, so two
	// delivery paths for the same timer coalesce into one alert.
	Key   string
	Title string
	Body  string
}

// Sink is the platform notification surface (chat adapter, desktop
// notification, push gateway).
type Sink interface {
	Push(ctx context.Context, n Notification) error
}

type HistoryItem struct {
	At   time.Time
	Key  string
	Body string
}

// NotificationEvent is emitted on the event bus for notifier lifecycle
// events. Keep it small; Data may be logged by subscribers.
type NotificationEvent struct {
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
