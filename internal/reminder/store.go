package reminder

import (
	"container/heap"
	"errors"
	"sync"
	"time"

	"remindbot/internal/guildlock"
)

// Store is the in-memory reminder collection plus a guild→messages index and
// a min-heap over active (unpaused) reminders keyed by next due time, so the
// scheduler's earliest-deadline read is a peek, not a scan.
//
// Two locks with distinct jobs:
//   - the per-guild lock (guildlock.Manager) serializes logical operations
//     for one tenant, including the network work a Mutate callback performs;
//   - mu protects the map structure itself and is only held for short
//     copy-in/copy-out sections, so cross-guild reads never wait on one
//     guild's in-flight operation.
//
// Reads return deep copies, never live references.
type Store struct {
	locks *guildlock.Manager

	mu        sync.RWMutex
	pol       Policy
	byMessage map[string]*Reminder
	byGuild   map[string]map[string]struct{}
	due       dueHeap
	dueByID   map[string]*dueEntry
}

// dueEntry is one active reminder's position in the due-time heap.
type dueEntry struct {
	messageID string
	due       time.Time
	index     int
}

type dueHeap []*dueEntry

func (h dueHeap) Len() int           { return len(h) }
func (h dueHeap) Less(i, j int) bool { return h[i].due.Before(h[j].due) }
func (h dueHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *dueHeap) Push(x any) {
	e := x.(*dueEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func NewStore(locks *guildlock.Manager, pol Policy) *Store {
	return &Store{
		locks:     locks,
		pol:       pol,
		byMessage: map[string]*Reminder{},
		byGuild:   map[string]map[string]struct{}{},
		dueByID:   map[string]*dueEntry{},
	}
}

// SetPolicy swaps the interval bounds (config hot reload). Existing reminders
// are re-clamped on their next mutation, not eagerly.
func (s *Store) SetPolicy(pol Policy) {
	s.mu.Lock()
	s.pol = pol
	s.mu.Unlock()
}

// Add inserts a new reminder under its guild lock. The interval is clamped,
// CreatedAt defaults to now, and a duplicate MessageID fails with ErrExists.
func (s *Store) Add(r Reminder) error {
	if r.MessageID == "" || r.GuildID == "" {
		return errors.New("reminder requires message_id and guild_id")
	}
	return s.locks.WithLock(r.GuildID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.byMessage[r.MessageID]; ok {
			return ErrExists
		}
		r.Interval = s.pol.Clamp(r.Interval)
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now()
		}
		cp := r.Clone()
		s.byMessage[r.MessageID] = &cp
		s.indexLocked(r.GuildID, r.MessageID)
		s.trackDueLocked(&cp)
		return nil
	})
}

// Remove deletes a reminder under its guild lock.
// It reports whether anything was removed; removing an unknown id is a no-op.
func (s *Store) Remove(messageID string) (Reminder, bool) {
	guildID, ok := s.guildOf(messageID)
	if !ok {
		return Reminder{}, false
	}
	var (
		out     Reminder
		removed bool
	)
	_ = s.locks.WithLock(guildID, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.byMessage[messageID]
		if !ok {
			return nil
		}
		out = cur.Clone()
		removed = true
		delete(s.byMessage, messageID)
		s.unindexLocked(cur.GuildID, messageID)
		s.untrackDueLocked(messageID)
		return nil
	})
	return out, removed
}

// Mutate runs fn on a working copy of the reminder while holding its guild
// lock, then commits the result. fn may perform blocking work (the lock
// serializes the whole logical operation for that guild).
//
// fn may return ErrDiscard to leave the stored reminder untouched, or
// ErrRemove to delete it under the same lock. Any other non-nil error is
// returned without committing.
//
// Commit enforces invariants regardless of what fn did: MessageID, GuildID,
// ChannelID and CreatedAt stay immutable, Interval is re-clamped, and
// LastFired never moves backwards.
func (s *Store) Mutate(messageID string, fn func(r *Reminder) error) error {
	guildID, ok := s.guildOf(messageID)
	if !ok {
		return ErrNotFound
	}
	return s.locks.WithLock(guildID, func() error {
		s.mu.RLock()
		cur, ok := s.byMessage[messageID]
		var work Reminder
		if ok {
			work = cur.Clone()
		}
		s.mu.RUnlock()
		if !ok {
			return ErrNotFound
		}

		err := fn(&work)
		switch {
		case errors.Is(err, ErrDiscard):
			return nil
		case errors.Is(err, ErrRemove):
			s.mu.Lock()
			delete(s.byMessage, messageID)
			s.unindexLocked(guildID, messageID)
			s.untrackDueLocked(messageID)
			s.mu.Unlock()
			return ErrRemove
		case err != nil:
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		prev, ok := s.byMessage[messageID]
		if !ok {
			return ErrNotFound
		}
		work.MessageID = prev.MessageID
		work.GuildID = prev.GuildID
		work.ChannelID = prev.ChannelID
		work.CreatedAt = prev.CreatedAt
		work.Interval = s.pol.Clamp(work.Interval)
		if work.LastFired.Before(prev.LastFired) {
			work.LastFired = prev.LastFired
		}
		s.byMessage[messageID] = &work
		s.trackDueLocked(&work)
		return nil
	})
}

// Get returns a copy of the reminder.
func (s *Store) Get(messageID string) (Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byMessage[messageID]
	if !ok {
		return Reminder{}, false
	}
	return r.Clone(), true
}

// List returns copies of all reminders (global snapshot; no guild lock held).
func (s *Store) List() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Reminder, 0, len(s.byMessage))
	for _, r := range s.byMessage {
		out = append(out, r.Clone())
	}
	return out
}

// ListByGuild returns copies of one guild's reminders via the secondary index.
func (s *Store) ListByGuild(guildID string) []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byGuild[guildID]
	out := make([]Reminder, 0, len(ids))
	for id := range ids {
		if r, ok := s.byMessage[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// ListDue returns copies of every non-paused reminder due at now.
// The heap holds exactly the active reminders, so that is the scan set.
func (s *Store) ListDue(now time.Time) []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Reminder
	for _, e := range s.due {
		if e.due.After(now) {
			continue
		}
		if r, ok := s.byMessage[e.messageID]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// NextDue returns the earliest due time across non-paused reminders
// (heap peek). ok is false when no active reminder exists.
func (s *Store) NextDue() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.due) == 0 {
		return time.Time{}, false
	}
	return s.due[0].due, true
}

// GuildIDs returns the set of guilds with at least one reminder
// (the active set for lock cleanup).
func (s *Store) GuildIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{}, len(s.byGuild))
	for id := range s.byGuild {
		out[id] = struct{}{}
	}
	return out
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byMessage)
}

// Replace swaps the whole collection (boot-time load). Intervals are clamped
// on the way in; the index is rebuilt.
func (s *Store) Replace(rs []Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMessage = make(map[string]*Reminder, len(rs))
	s.byGuild = map[string]map[string]struct{}{}
	s.due = nil
	s.dueByID = map[string]*dueEntry{}
	for i := range rs {
		cp := rs[i].Clone()
		cp.Interval = s.pol.Clamp(cp.Interval)
		if cp.MessageID == "" {
			continue
		}
		s.byMessage[cp.MessageID] = &cp
		s.indexLocked(cp.GuildID, cp.MessageID)
		s.trackDueLocked(&cp)
	}
}

// trackDueLocked places r in the due-time heap (or lifts it out when paused)
// and re-sifts on deadline changes. Caller holds mu.
func (s *Store) trackDueLocked(r *Reminder) {
	e, ok := s.dueByID[r.MessageID]
	if r.Paused {
		if ok {
			heap.Remove(&s.due, e.index)
			delete(s.dueByID, r.MessageID)
		}
		return
	}
	nd := r.NextDue()
	if ok {
		if !e.due.Equal(nd) {
			e.due = nd
			heap.Fix(&s.due, e.index)
		}
		return
	}
	e = &dueEntry{messageID: r.MessageID, due: nd}
	heap.Push(&s.due, e)
	s.dueByID[r.MessageID] = e
}

func (s *Store) untrackDueLocked(messageID string) {
	if e, ok := s.dueByID[messageID]; ok {
		heap.Remove(&s.due, e.index)
		delete(s.dueByID, messageID)
	}
}

func (s *Store) indexLocked(guildID, messageID string) {
	set := s.byGuild[guildID]
	if set == nil {
		set = map[string]struct{}{}
		s.byGuild[guildID] = set
	}
	set[messageID] = struct{}{}
}

func (s *Store) unindexLocked(guildID, messageID string) {
	set := s.byGuild[guildID]
	if set == nil {
		return
	}
	delete(set, messageID)
	if len(set) == 0 {
		delete(s.byGuild, guildID)
	}
}

func (s *Store) guildOf(messageID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byMessage[messageID]
	if !ok {
		return "", false
	}
	return r.GuildID, true
}
