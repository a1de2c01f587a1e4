package reminder

import (
	"errors"
	"sync"
	"testing"
	"time"

	"remindbot/internal/guildlock"
)

func newTestStore() *Store {
	return NewStore(guildlock.NewManager(), Policy{
		MinInterval: time.Minute,
		MaxInterval: 720 * time.Hour,
	})
}

func watch(messageID, guildID string, interval time.Duration) Reminder {
	return Reminder{
		MessageID: messageID,
		ChannelID: "chan-" + guildID,
		GuildID:   guildID,
		Title:     "standup",
		Interval:  interval,
		LastFired: time.Now(),
	}
}

func TestAddGetRemove(t *testing.T) {
	s := newTestStore()

	if err := s.Add(watch("m1", "g1", time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Add(watch("m1", "g1", time.Hour)); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate add: got %v, want ErrExists", err)
	}

	r, ok := s.Get("m1")
	if !ok || r.GuildID != "g1" {
		t.Fatalf("get returned %+v, %v", r, ok)
	}
	if r.CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not defaulted on add")
	}

	if _, ok := s.Remove("m1"); !ok {
		t.Fatalf("remove reported nothing removed")
	}
	if _, ok := s.Remove("m1"); ok {
		t.Fatalf("second remove must be a no-op")
	}
	if s.Count() != 0 {
		t.Fatalf("count=%d after remove", s.Count())
	}
}

func TestAddClampsInterval(t *testing.T) {
	s := newTestStore()
	if err := s.Add(watch("m1", "g1", time.Second)); err != nil {
		t.Fatalf("add: %v", err)
	}
	r, _ := s.Get("m1")
	if r.Interval != time.Minute {
		t.Fatalf("interval not clamped on add: %v", r.Interval)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := newTestStore()
	w := watch("m1", "g1", time.Hour)
	w.ReactedUserIDs = SetOf("u1")
	if err := s.Add(w); err != nil {
		t.Fatalf("add: %v", err)
	}

	r, _ := s.Get("m1")
	r.Title = "hacked"
	r.ReactedUserIDs["u2"] = struct{}{}

	again, _ := s.Get("m1")
	if again.Title != "standup" {
		t.Fatalf("stored title mutated through a read copy")
	}
	if _, ok := again.ReactedUserIDs["u2"]; ok {
		t.Fatalf("stored set mutated through a read copy")
	}
}

func TestGuildIndex(t *testing.T) {
	s := newTestStore()
	for _, w := range []Reminder{
		watch("m1", "g1", time.Hour),
		watch("m2", "g1", time.Hour),
		watch("m3", "g2", time.Hour),
	} {
		if err := s.Add(w); err != nil {
			t.Fatalf("add %s: %v", w.MessageID, err)
		}
	}

	if n := len(s.ListByGuild("g1")); n != 2 {
		t.Fatalf("g1 list: %d, want 2", n)
	}
	if n := len(s.ListByGuild("g2")); n != 1 {
		t.Fatalf("g2 list: %d, want 1", n)
	}

	s.Remove("m3")
	if _, ok := s.GuildIDs()["g2"]; ok {
		t.Fatalf("g2 still indexed after its last reminder was removed")
	}
	if _, ok := s.GuildIDs()["g1"]; !ok {
		t.Fatalf("g1 dropped from index while it still has reminders")
	}
}

func TestListDueAndNextDue(t *testing.T) {
	s := newTestStore()
	now := time.Now()

	due := watch("due", "g1", time.Hour)
	due.LastFired = now.Add(-2 * time.Hour)
	notDue := watch("later", "g1", time.Hour)
	notDue.LastFired = now.Add(-10 * time.Minute)
	paused := watch("paused", "g1", time.Hour)
	paused.LastFired = now.Add(-5 * time.Hour)
	paused.Paused = true

	for _, w := range []Reminder{due, notDue, paused} {
		if err := s.Add(w); err != nil {
			t.Fatalf("add %s: %v", w.MessageID, err)
		}
	}

	got := s.ListDue(now)
	if len(got) != 1 || got[0].MessageID != "due" {
		t.Fatalf("ListDue=%v, want exactly [due]", got)
	}

	next, ok := s.NextDue()
	if !ok {
		t.Fatalf("NextDue reported no active reminders")
	}
	// The earliest active deadline is the already-overdue reminder.
	if want := due.LastFired.Add(time.Hour); !next.Equal(want) {
		t.Fatalf("NextDue=%v, want %v", next, want)
	}
}

func TestNextDueEmptyAndAllPaused(t *testing.T) {
	s := newTestStore()
	if _, ok := s.NextDue(); ok {
		t.Fatalf("empty store reported a next due time")
	}

	w := watch("m1", "g1", time.Hour)
	w.Paused = true
	if err := s.Add(w); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := s.NextDue(); ok {
		t.Fatalf("all-paused store reported a next due time")
	}
}

func TestNextDueTracksMutations(t *testing.T) {
	s := newTestStore()
	base := time.Now()

	w := watch("m1", "g1", 2*time.Hour)
	w.LastFired = base
	if err := s.Add(w); err != nil {
		t.Fatalf("add: %v", err)
	}

	mutate := func(fn func(r *Reminder)) {
		t.Helper()
		if err := s.Mutate("m1", func(r *Reminder) error {
			fn(r)
			return nil
		}); err != nil {
			t.Fatalf("mutate: %v", err)
		}
	}

	// Shrinking the interval moves the deadline earlier.
	mutate(func(r *Reminder) { r.Interval = 30 * time.Minute })
	next, ok := s.NextDue()
	if !ok || !next.Equal(base.Add(30*time.Minute)) {
		t.Fatalf("NextDue after interval change=%v (%v), want %v", next, ok, base.Add(30*time.Minute))
	}

	// Pausing removes the reminder from the due set entirely.
	mutate(func(r *Reminder) { r.Paused = true })
	if _, ok := s.NextDue(); ok {
		t.Fatalf("paused reminder still has a due time")
	}
	if got := s.ListDue(base.Add(24 * time.Hour)); len(got) != 0 {
		t.Fatalf("paused reminder listed as due: %v", got)
	}

	// Resuming restores it at its current deadline.
	mutate(func(r *Reminder) { r.Paused = false })
	next, ok = s.NextDue()
	if !ok || !next.Equal(base.Add(30*time.Minute)) {
		t.Fatalf("NextDue after resume=%v (%v), want %v", next, ok, base.Add(30*time.Minute))
	}
}

func TestMutateCommitsAndEnforcesInvariants(t *testing.T) {
	s := newTestStore()
	w := watch("m1", "g1", time.Hour)
	fired := w.LastFired
	if err := s.Add(w); err != nil {
		t.Fatalf("add: %v", err)
	}

	// The callback tries everything the commit must undo: an interval below
	// the policy minimum, rewritten immutable fields, and a LastFired that
	// moves backwards.
	err := s.Mutate("m1", func(r *Reminder) error {
		r.Title = "retro"
		r.Interval = time.Second
		r.MessageID = "spoofed"
		r.GuildID = "spoofed"
		r.LastFired = fired.Add(-1 * time.Hour)
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}

	r, ok := s.Get("m1")
	if !ok {
		t.Fatalf("reminder disappeared after mutate")
	}
	if r.Title != "retro" {
		t.Fatalf("mutation not committed: %+v", r)
	}
	if r.MessageID != "m1" || r.GuildID != "g1" {
		t.Fatalf("immutable fields changed: %+v", r)
	}
	if r.Interval != time.Minute {
		t.Fatalf("interval not re-clamped: %v", r.Interval)
	}
	if r.LastFired.Before(fired) {
		t.Fatalf("LastFired moved backwards: %v < %v", r.LastFired, fired)
	}
}

func TestMutateDiscardAndRemove(t *testing.T) {
	s := newTestStore()
	if err := s.Add(watch("m1", "g1", time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.Mutate("m1", func(r *Reminder) error {
		r.Title = "ignored"
		return ErrDiscard
	}); err != nil {
		t.Fatalf("discard mutate: %v", err)
	}
	if r, _ := s.Get("m1"); r.Title != "standup" {
		t.Fatalf("discarded mutation was committed: %+v", r)
	}

	if err := s.Mutate("m1", func(r *Reminder) error {
		return ErrRemove
	}); !errors.Is(err, ErrRemove) {
		t.Fatalf("remove mutate: got %v", err)
	}
	if _, ok := s.Get("m1"); ok {
		t.Fatalf("reminder survived ErrRemove")
	}
	if err := s.Mutate("m1", func(r *Reminder) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mutate on removed id: got %v, want ErrNotFound", err)
	}
}

func TestMutatePropagatesCallbackError(t *testing.T) {
	s := newTestStore()
	if err := s.Add(watch("m1", "g1", time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}
	boom := errors.New("fetch failed")
	if err := s.Mutate("m1", func(r *Reminder) error {
		r.Title = "ignored"
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("got %v, want callback error", err)
	}
	if r, _ := s.Get("m1"); r.Title != "standup" {
		t.Fatalf("failed mutation was committed: %+v", r)
	}
}

func TestMutateSerializesPerGuild(t *testing.T) {
	s := newTestStore()
	if err := s.Add(watch("m1", "g1", time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}

	const n = 100
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Mutate("m1", func(r *Reminder) error {
				counter++
				return ErrDiscard
			})
		}()
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("lost update under concurrent mutate: %d/%d", counter, n)
	}
}

func TestReplaceRebuildsIndex(t *testing.T) {
	s := newTestStore()
	if err := s.Add(watch("old", "g9", time.Hour)); err != nil {
		t.Fatalf("add: %v", err)
	}

	s.Replace([]Reminder{
		watch("m1", "g1", time.Second), // clamped on the way in
		watch("m2", "g2", time.Hour),
	})

	if s.Count() != 2 {
		t.Fatalf("count=%d after replace", s.Count())
	}
	if _, ok := s.Get("old"); ok {
		t.Fatalf("stale reminder survived replace")
	}
	if _, ok := s.GuildIDs()["g9"]; ok {
		t.Fatalf("stale guild survived replace")
	}
	if r, _ := s.Get("m1"); r.Interval != time.Minute {
		t.Fatalf("replace did not clamp interval: %v", r.Interval)
	}
}
