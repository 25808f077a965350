package config

// Config is the daemon's on-disk configuration. JSON and YAML are both
// accepted; unknown fields are rejected.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Transport TransportConfig `json:"transport"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
}

type TransportConfig struct {
	// Driver selects the chat surface: "console" (default) or "telegram".
	Driver   string         `json:"driver,omitempty"`
	Telegram TelegramConfig `json:"telegram,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token,omitempty"`
	// NotifyChat receives timer notifications.
	NotifyChat  int64  `json:"notify_chat,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	// Console is a pointer so "omitted" (default true) is distinguishable
	// from an explicit false.
	Console *bool             `json:"console,omitempty"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type SchedulerConfig struct {
	// ReconcileEvery is the persisted-job sweep interval.
	// Defaults to "1m"; "0s" disables the sweep.
	ReconcileEvery string `json:"reconcile_every,omitempty"`
}

type NotifierConfig struct {
	// Enabled is a pointer so "omitted" defaults to true.
	Enabled      *bool  `json:"enabled,omitempty"`
	Workers      int    `json:"workers,omitempty"`
	QueueSize    int    `json:"queue_size,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
	DedupWindow  string `json:"dedup_window,omitempty"`
	PersistDedup bool   `json:"persist_dedup,omitempty"`
	FallbackBody string `json:"fallback_body,omitempty"`
}

type StorageConfig struct {
	// Driver: "file", "sqlite", or "none" (timers then die with the process).
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

func (c TransportConfig) DriverOrDefault() string {
	if c.Driver == "" {
		return "console"
	}
	return c.Driver
}

func (c LoggingConfig) ConsoleEnabled() bool {
	return c.Console == nil || *c.Console
}

func (c NotifierConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
