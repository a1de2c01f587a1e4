package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
)

func sampleReminders(now time.Time) []reminder.Reminder {
	return []reminder.Reminder{
		{
			MessageID:         "m1",
			ChannelID:         "c1",
			GuildID:           "g1",
			Title:             "standup",
			Interval:          time.Hour,
			RequiredReactions: reminder.SetOf("✅"),
			ReactedUserIDs:    reminder.SetOf("u1", "u2"),
			EligibleUserIDs:   reminder.SetOf("u1", "u2", "u3"),
			LastFired:         now.Add(-30 * time.Minute),
			CreatedAt:         now.Add(-24 * time.Hour),
		},
		{
			MessageID: "m2",
			ChannelID: "c2",
			GuildID:   "g2",
			Interval:  15 * time.Minute,
			Paused:    true,
			CreatedAt: now,
			// LastFired zero: never fired yet.
		},
	}
}

func assertRoundTrip(t *testing.T, st Store, want []reminder.Reminder) {
	t.Helper()
	ctx := context.Background()
	if err := st.SaveAll(ctx, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("loaded %d reminders, want %d", len(got), len(want))
	}

	byID := map[string]reminder.Reminder{}
	for _, r := range got {
		byID[r.MessageID] = r
	}
	for _, w := range want {
		g, ok := byID[w.MessageID]
		if !ok {
			t.Fatalf("reminder %s missing after round trip", w.MessageID)
		}
		if g.ChannelID != w.ChannelID || g.GuildID != w.GuildID || g.Title != w.Title {
			t.Fatalf("%s: identity fields changed: %+v", w.MessageID, g)
		}
		if g.Interval != w.Interval {
			t.Fatalf("%s: interval %v, want %v", w.MessageID, g.Interval, w.Interval)
		}
		if g.Paused != w.Paused {
			t.Fatalf("%s: paused %v, want %v", w.MessageID, g.Paused, w.Paused)
		}
		if len(g.ReactedUserIDs) != len(w.ReactedUserIDs) ||
			len(g.EligibleUserIDs) != len(w.EligibleUserIDs) ||
			len(g.RequiredReactions) != len(w.RequiredReactions) {
			t.Fatalf("%s: sets changed: %+v", w.MessageID, g)
		}
		if w.LastFired.IsZero() {
			if !g.LastFired.IsZero() {
				t.Fatalf("%s: zero LastFired became %v", w.MessageID, g.LastFired)
			}
		} else if !g.LastFired.Equal(w.LastFired.Truncate(time.Millisecond)) {
			t.Fatalf("%s: LastFired %v, want %v", w.MessageID, g.LastFired, w.LastFired)
		}
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	now := time.Now().Truncate(time.Millisecond)
	assertRoundTrip(t, st, sampleReminders(now))
}

func TestFileLoadMissingIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	got, err := st.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load of missing file: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty collection, got %d", len(got))
	}
}

func TestFileSaveEmptyCollection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reminders.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	now := time.Now().Truncate(time.Millisecond)
	if err := st.SaveAll(ctx, sampleReminders(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.SaveAll(ctx, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	got, err := st.LoadAll(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty snapshot to win, got %d", len(got))
	}
}

func TestFileSaveLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reminders.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer st.Close()

	if err := st.SaveAll(context.Background(), sampleReminders(time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestOpenDisabled(t *testing.T) {
	for _, driver := range []string{"", "none"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if !errors.Is(err, ErrDisabled) {
			t.Fatalf("driver %q: err=%v, want ErrDisabled", driver, err)
		}
		if st != nil {
			t.Fatalf("driver %q: expected nil store", driver)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
