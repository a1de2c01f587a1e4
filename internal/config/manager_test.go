package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
discord:
  token: "tok"
  send_rate_per_sec: 5
logging:
  level: debug
  console: true
reminders:
  min_interval: 10m
  debounce_delay: 2s
storage:
  driver: file
  path: /tmp/reminders.json
`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Discord.Token != "tok" {
		t.Fatalf("token=%q", cfg.Discord.Token)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging block: %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "file" {
		t.Fatalf("storage block: %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}

	d, err := cfg.Reminders.Durations()
	if err != nil {
		t.Fatalf("durations: %v", err)
	}
	if d.MinInterval != 10*time.Minute {
		t.Fatalf("min_interval=%v", d.MinInterval)
	}
	if d.DebounceDelay != 2*time.Second {
		t.Fatalf("debounce_delay=%v", d.DebounceDelay)
	}
	// Omitted fields fall back to defaults.
	if d.SafetyMargin != 500*time.Millisecond || d.MaxWait != 30*time.Minute {
		t.Fatalf("defaults not applied: %+v", d)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
discord:
  token: "tok"
typo_block:
  whatever: 1
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatalf("expected unknown-field error")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	cfg := RemindersConfig{MinInterval: "five minutes"}
	if _, err := cfg.Durations(); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestWatchValidatorRejectsBadUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "reminders:\n  min_interval: 5m\n")

	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		return cfg.Validate()
	})

	updates := m.Subscribe(2)
	defer m.Unsubscribe(updates)

	ctx, cancel := context.WithCancel(context.Background())
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-watchDone
	}()
	time.Sleep(100 * time.Millisecond) // let the watcher attach

	// Parses as YAML but fails duration validation: must not be committed.
	writeFile(t, path, "reminders:\n  min_interval: bogus\n")
	select {
	case cfg := <-updates:
		t.Fatalf("invalid config was published: %+v", cfg.Reminders)
	case <-time.After(700 * time.Millisecond):
	}
	if got := m.Get().Reminders.MinInterval; got != "5m" {
		t.Fatalf("invalid edit was committed: min_interval=%q", got)
	}

	// A valid follow-up edit is committed and published.
	writeFile(t, path, "reminders:\n  min_interval: 10m\n")
	select {
	case cfg := <-updates:
		if cfg.Reminders.MinInterval != "10m" {
			t.Fatalf("published min_interval=%q", cfg.Reminders.MinInterval)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("valid edit never published")
	}
	if got := m.Get().Reminders.MinInterval; got != "10m" {
		t.Fatalf("valid edit not committed: min_interval=%q", got)
	}
}

func TestValidateCatchesBadDurations(t *testing.T) {
	good := &Config{}
	if err := good.Validate(); err != nil {
		t.Fatalf("empty config must validate (all defaults): %v", err)
	}

	bad := &Config{}
	bad.Retry.MaxDelay = "soon"
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected validation error for retry.max_delay")
	}
}

func TestSubscribePublishAndDropOldest(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b) // buffer full: the oldest is dropped, the newest delivered

	got := <-ch
	if got != b {
		t.Fatalf("expected newest config to win, got the older one")
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra delivery: %p", extra)
	default:
	}
}

func TestUnsubscribeCloses(t *testing.T) {
	m := NewManager("unused")
	ch := m.Subscribe(1)
	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed by Unsubscribe")
	}
	// Publishing after unsubscribe must not panic.
	m.publish(&Config{})
}

func TestParseDurationField(t *testing.T) {
	if _, err := ParseDurationField("x", ""); err != nil {
		t.Fatalf("empty value must parse to zero, got %v", err)
	}
	d, err := ParseDurationField("x", "1h30m")
	if err != nil || d != 90*time.Minute {
		t.Fatalf("got (%v,%v)", d, err)
	}
	if _, err := ParseDurationField("x", "90"); err == nil {
		t.Fatalf("bare numbers must be rejected")
	}
	if d, err := ParseDurationOrDefault("x", "", time.Second); err != nil || d != time.Second {
		t.Fatalf("default not applied: (%v,%v)", d, err)
	}
}
