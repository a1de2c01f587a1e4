package config

import "time"

// Config is the full on-disk configuration.
//
// All duration fields are Go duration strings (e.g. "500ms", "30s", "10m").
type Config struct {
	Discord   DiscordConfig   `json:"discord"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
	Retry     RetryConfig     `json:"retry,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Health    HealthConfig    `json:"health,omitempty"`
}

type DiscordConfig struct {
	Token string `json:"token"`

	// SendRatePerSec bounds outbound message sends; SendBurst is the bucket size.
	// Defaults: 5/s, burst 5.
	SendRatePerSec float64 `json:"send_rate_per_sec,omitempty"`
	SendBurst      int     `json:"send_burst,omitempty"`
}

type LoggingConfig struct {
	Level   string `json:"level,omitempty"`
	Console bool   `json:"console"`
	File    struct {
		Enabled bool   `json:"enabled,omitempty"`
		Path    string `json:"path,omitempty"`
	} `json:"file,omitempty"`
}

// RemindersConfig tunes the scheduling core.
//
// Defaults (when fields are omitted/zero):
//   - min_interval: "5m", max_interval: "720h"
//   - debounce_delay: "3s"
//   - safety_margin: "500ms"
//   - min_wait: "1s", max_wait: "30m"
//   - safety_tick: "30s"
type RemindersConfig struct {
	MinInterval   string `json:"min_interval,omitempty"`
	MaxInterval   string `json:"max_interval,omitempty"`
	DebounceDelay string `json:"debounce_delay,omitempty"`
	SafetyMargin  string `json:"safety_margin,omitempty"`
	MinWait       string `json:"min_wait,omitempty"`
	MaxWait       string `json:"max_wait,omitempty"`
	SafetyTick    string `json:"safety_tick,omitempty"`
}

// RetryConfig tunes the outbound-call retry executor.
//
// Defaults: max_attempts 3, base "500ms", factor 2.0, max_delay "15s", jitter 0.2.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts,omitempty"`
	Base        string  `json:"base,omitempty"`
	Factor      float64 `json:"factor,omitempty"`
	MaxDelay    string  `json:"max_delay,omitempty"`
	Jitter      float64 `json:"jitter,omitempty"`
}

// StorageConfig selects the persistence driver.
//
// Driver values:
//   - "file": JSON snapshot file (atomic write-temp-then-rename)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", persistence is disabled.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type HealthConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:8390"
}

// ReminderDurations is RemindersConfig with every field parsed and defaulted.
type ReminderDurations struct {
	MinInterval   time.Duration
	MaxInterval   time.Duration
	DebounceDelay time.Duration
	SafetyMargin  time.Duration
	MinWait       time.Duration
	MaxWait       time.Duration
	SafetyTick    time.Duration
}

// Validate parses every duration field so a bad edit is rejected up front
// (the Watch hot-reload path runs it before committing) instead of failing
// somewhere mid-apply.
func (c *Config) Validate() error {
	if _, err := c.Reminders.Durations(); err != nil {
		return err
	}
	if _, err := ParseDurationField("retry.base", c.Retry.Base); err != nil {
		return err
	}
	if _, err := ParseDurationField("retry.max_delay", c.Retry.MaxDelay); err != nil {
		return err
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return err
	}
	return nil
}

// Durations parses the reminder tuning block, applying defaults for omitted fields.
func (c RemindersConfig) Durations() (ReminderDurations, error) {
	var (
		d   ReminderDurations
		err error
	)
	if d.MinInterval, err = ParseDurationOrDefault("reminders.min_interval", c.MinInterval, 5*time.Minute); err != nil {
		return d, err
	}
	if d.MaxInterval, err = ParseDurationOrDefault("reminders.max_interval", c.MaxInterval, 720*time.Hour); err != nil {
		return d, err
	}
	if d.DebounceDelay, err = ParseDurationOrDefault("reminders.debounce_delay", c.DebounceDelay, 3*time.Second); err != nil {
		return d, err
	}
	if d.SafetyMargin, err = ParseDurationOrDefault("reminders.safety_margin", c.SafetyMargin, 500*time.Millisecond); err != nil {
		return d, err
	}
	if d.MinWait, err = ParseDurationOrDefault("reminders.min_wait", c.MinWait, time.Second); err != nil {
		return d, err
	}
	if d.MaxWait, err = ParseDurationOrDefault("reminders.max_wait", c.MaxWait, 30*time.Minute); err != nil {
		return d, err
	}
	if d.SafetyTick, err = ParseDurationOrDefault("reminders.safety_tick", c.SafetyTick, 30*time.Second); err != nil {
		return d, err
	}
	return d, nil
}
