package storage

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures persistence.
//
// Driver values:
//   - "file": JSON snapshot file, written temp-then-rename
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", persistence is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence port for the reminder collection.
//
// SaveAll must be atomic (a crash never leaves a partially written state)
// and idempotent. Failures are reported, not retried here; the caller owns
// retry policy.
type Store interface {
	LoadAll(ctx context.Context) ([]reminder.Reminder, error)
	SaveAll(ctx context.Context, rs []reminder.Reminder) error
	Close() error
}

// record is the stable on-disk shape of one reminder. Sets are flattened to
// sorted slices so snapshots diff cleanly and round-trip deterministically.
type record struct {
	MessageID string   `json:"message_id"`
	ChannelID string   `json:"channel_id"`
	GuildID   string   `json:"guild_id"`
	Title     string   `json:"title,omitempty"`
	Interval  int64    `json:"interval_ms"`
	Required  []string `json:"required_reactions,omitempty"`
	Reacted   []string `json:"reacted_user_ids,omitempty"`
	Eligible  []string `json:"eligible_user_ids,omitempty"`
	LastFired int64    `json:"last_fired_ms,omitempty"`
	Paused    bool     `json:"paused,omitempty"`
	CreatedAt int64    `json:"created_at_ms"`
}
