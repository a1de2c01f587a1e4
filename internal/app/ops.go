package app

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/retry"
	logx "remindbot/pkg/logx"
)

// AddWatch starts tracking a message's reactions. The interval is clamped to
// policy bounds; the scheduler is kicked so the new reminder's due time is
// reflected immediately.
func (a *App) AddWatch(ctx context.Context, r reminder.Reminder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	if r.LastFired.IsZero() {
		// A fresh watch fires one interval from now, not immediately.
		r.LastFired = time.Now()
	}
	if err := a.store.Add(r); err != nil {
		return err
	}
	a.saveAsync(ctx)
	a.sched.Kick("watch added")

	// Seed the reaction set right away instead of waiting a full interval.
	a.OnReactionChanged(r.GuildID, r.ChannelID, r.MessageID)
	return nil
}

// Unwatch stops tracking a message. Unknown ids are a no-op.
func (a *App) Unwatch(ctx context.Context, messageID string) bool {
	r, ok := a.store.Remove(messageID)
	if !ok {
		return false
	}
	a.queue.Cancel(messageID)
	a.saveAsync(ctx)
	a.sched.Kick("watch removed")
	a.bus.Publish(eventbus.Event{
		Type: eventbus.TypeReminderRemoved,
		Data: map[string]string{"message_id": r.MessageID, "guild_id": r.GuildID},
	})
	a.locks.Cleanup(a.store.GuildIDs())
	return true
}

// SetInterval changes how often a reminder fires (clamped to policy bounds).
func (a *App) SetInterval(ctx context.Context, messageID string, interval time.Duration) error {
	err := a.store.Mutate(messageID, func(r *reminder.Reminder) error {
		r.Interval = interval
		return nil
	})
	if err != nil {
		return err
	}
	a.saveAsync(ctx)
	a.sched.Kick("interval changed")
	return nil
}

// SetPaused pauses or resumes a reminder. A paused reminder is never due.
func (a *App) SetPaused(ctx context.Context, messageID string, paused bool) error {
	err := a.store.Mutate(messageID, func(r *reminder.Reminder) error {
		r.Paused = paused
		return nil
	})
	if err != nil {
		return err
	}
	a.saveAsync(ctx)
	if paused {
		a.sched.Kick("reminder paused")
	} else {
		a.sched.Kick("reminder resumed")
	}
	return nil
}

// OnReactionChanged is the entry point for gateway reaction add/remove
// signals. Bursts for one message collapse into a single resync execution
// after the debounce window.
func (a *App) OnReactionChanged(guildID, channelID, messageID string) {
	if _, ok := a.store.Get(messageID); !ok {
		return
	}
	a.queue.Schedule(messageID, func(ctx context.Context) {
		a.resync(ctx, channelID, messageID)
	})
}

// resync refetches the reaction state for one message. The fetch runs inside
// Mutate so the whole read-refresh-commit sequence holds the guild lock; a
// fetch outside it could race the scheduler's in-lock fetch and commit a
// staler reaction set over a newer one.
func (a *App) resync(ctx context.Context, channelID, messageID string) {
	err := a.store.Mutate(messageID, func(r *reminder.Reminder) error {
		var byEmoji map[string][]string
		ferr := a.exec.Do(ctx, "fetch_reactions", func(ctx context.Context) error {
			m, err := a.ports.Reactions.FetchReactions(ctx, channelID, messageID)
			if err != nil {
				return err
			}
			byEmoji = m
			return nil
		})
		if retry.IsPermanent(ferr) {
			a.log.Warn("watched message gone during resync; removing reminder",
				logx.String("message_id", messageID), logx.Err(ferr))
			return reminder.ErrRemove
		}
		if ferr != nil {
			return ferr
		}
		r.ApplyReactions(byEmoji)
		return nil
	})

	switch {
	case err == nil:
		a.bus.Publish(eventbus.Event{
			Type: eventbus.TypeReminderSynced,
			Data: map[string]string{"message_id": messageID},
		})
		a.saveAsync(ctx)
	case errors.Is(err, reminder.ErrRemove):
		a.saveAsync(ctx)
		a.sched.Kick("watch removed")
	case errors.Is(err, reminder.ErrNotFound):
		// Unwatched while the debounce timer was armed.
	default:
		a.log.Warn("reaction resync failed", logx.String("message_id", messageID), logx.Err(err))
	}
}

// save writes the current collection through the persistence adapter.
// Saves are serialized; the on-disk state is atomic per write, and a failure
// is logged, not retried (at-least-once durability).
func (a *App) save(ctx context.Context) {
	if a.persist == nil {
		return
	}
	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if err := a.persist.SaveAll(ctx, a.store.List()); err != nil {
		a.log.Error("persist failed", logx.Err(err))
	}
}

// saveAsync persists in the background: durability is fire-and-forget
// relative to the in-memory mutation.
func (a *App) saveAsync(ctx context.Context) {
	if a.persist == nil {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.save(ctx)
	}()
}

// saveNow is the synchronous shutdown snapshot.
func (a *App) saveNow(ctx context.Context) {
	a.save(ctx)
}
