package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{
		"transport": {"driver": "console"},
		"logging": {"level": "debug"},
		"scheduler": {"reconcile_every": "30s"},
		"notifier": {"rate_per_sec": 5},
		"storage": {"driver": "file", "path": "/tmp/tajmer.db"}
	}`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Level = %q", cfg.Logging.Level)
	}
	if cfg.Scheduler.ReconcileEvery != "30s" {
		t.Fatalf("ReconcileEvery = %q", cfg.Scheduler.ReconcileEvery)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
transport:
  driver: telegram
  telegram:
    token: "123:abc"
    notify_chat: -100123
logging:
  level: info
storage:
  driver: sqlite
  path: ./tajmer.db
  busy_timeout: 5s
scheduler: {}
notifier:
  dedup_window: 2m
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Transport.Telegram.Token != "123:abc" {
		t.Fatalf("Token = %q", cfg.Transport.Telegram.Token)
	}
	if cfg.Transport.Telegram.NotifyChat != -100123 {
		t.Fatalf("NotifyChat = %d", cfg.Transport.Telegram.NotifyChat)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	d, err := ParseDurationOrDefault("notifier.dedup_window", cfg.Notifier.DedupWindow, time.Minute)
	if err != nil || d != 2*time.Minute {
		t.Fatalf("dedup_window = %v, %v", d, err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"transprot": {}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "unknown transport", cfg: Config{Transport: TransportConfig{Driver: "smoke-signals"}}},
		{name: "telegram without token", cfg: Config{Transport: TransportConfig{Driver: "telegram"}}},
		{name: "unknown storage", cfg: Config{Storage: StorageConfig{Driver: "clay-tablets"}}},
		{name: "bad duration", cfg: Config{Scheduler: SchedulerConfig{ReconcileEvery: "soon"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if err := Validate(&tt.cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{}`)
	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := cfg.Transport.DriverOrDefault(); got != "console" {
		t.Fatalf("default driver = %q, want console", got)
	}
	if !cfg.Logging.ConsoleEnabled() {
		t.Fatal("console logging should default to enabled")
	}
	if !cfg.Notifier.IsEnabled() {
		t.Fatal("notifier should default to enabled")
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestParseDurationOrDefaultDistinguishesZero(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", time.Minute)
	if err != nil || d != time.Minute {
		t.Fatalf("empty: %v, %v", d, err)
	}
	// An explicit "0s" disables, it does not fall back to the default.
	d, err = ParseDurationOrDefault("x", "0s", time.Minute)
	if err != nil || d != 0 {
		t.Fatalf("explicit zero: %v, %v", d, err)
	}
}
