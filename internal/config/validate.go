package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate rejects configs that would fail at wiring time, so a hot reload
// never commits a config the daemon cannot run.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	switch cfg.Transport.DriverOrDefault() {
	case "console":
	case "telegram":
		if strings.TrimSpace(cfg.Transport.Telegram.Token) == "" {
			return errors.New("transport.telegram.token is required for the telegram driver")
		}
	default:
		return fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}

	if _, err := ParseDurationField("transport.telegram.poll_timeout", cfg.Transport.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("scheduler.reconcile_every", cfg.Scheduler.ReconcileEvery); err != nil {
		return err
	}
	if _, err := ParseDurationField("notifier.dedup_window", cfg.Notifier.DedupWindow); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}
