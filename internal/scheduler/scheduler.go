// Package scheduler sleeps exactly until the earliest due reminder instead of
// polling on a fixed interval, and processes due reminders under their guild
// locks when it wakes.
//
// One run-loop goroutine owns the timer. The earliest deadline is a heap peek
// on the store; every structural change (add/remove/pause/resume/interval
// change) signals the wake channel and the loop recomputes from scratch. With
// no active reminders the loop parks on the wake channel alone. Timers are
// never cancelled and re-armed from outside the loop, so there is no armed
// callback to race against.
package scheduler

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/retry"
	logx "remindbot/pkg/logx"
)

type Service struct {
	log  logx.Logger
	deps Deps
	now  func() time.Time

	mu      sync.Mutex
	pol     Policy
	state   State
	until   time.Time
	started bool

	// wake has capacity 1: concurrent kicks coalesce, the loop recomputes
	// from the store on every pass anyway.
	wake chan struct{}

	runCtx context.Context
	cancel context.CancelFunc
	cycles atomic.Uint64

	cron *cron.Cron
	wg   sync.WaitGroup
}

func New(pol Policy, deps Deps, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		log:  log,
		deps: deps,
		now:  now,
		pol:  pol.withDefaults(),
		wake: make(chan struct{}, 1),
	}
}

// Apply swaps the wake policy (config hot reload) and recomputes.
func (s *Service) Apply(pol Policy) {
	s.mu.Lock()
	s.pol = pol.withDefaults()
	s.mu.Unlock()
	s.Kick("policy change")
}

func (s *Service) policy() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pol
}

// Start launches the run loop and the coarse safety tick. The loop's first
// pass handles anything already overdue.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.runCtx, s.cancel = context.WithCancel(ctx)
	runCtx := s.runCtx
	tick := s.pol.SafetyTick
	s.mu.Unlock()

	c := cron.New()
	if _, err := c.AddFunc("@every "+tick.String(), s.safetyTick); err != nil {
		return err
	}
	s.mu.Lock()
	s.cron = c
	s.mu.Unlock()
	c.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(runCtx)
	}()

	s.log.Info("scheduler started", logx.Duration("safety_tick", tick))
	return nil
}

// Stop ends the run loop and the safety tick, then waits for any in-flight
// cycle (bounded by ctx).
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c != nil {
		<-c.Stop().Done()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; cycle still draining")
	}
}

// Kick signals the run loop to recompute. Called on every structural change:
// reminder added, removed, paused/resumed, interval changed.
func (s *Service) Kick(reason string) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default: // a wake is already pending
	}
	s.log.Debug("scheduler kicked", logx.String("reason", reason))
}

// NextWake reports when the sleeping loop is due to wake; ok is false while
// the loop is idle, mid-cycle or stopped.
func (s *Service) NextWake() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSleeping {
		return time.Time{}, false
	}
	return s.until, true
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:    s.state.String(),
		HasTimer: s.state == StateSleeping,
		Cycles:   s.cycles.Load(),
	}
	if s.state == StateSleeping {
		snap.Until = s.until
	}
	s.mu.Unlock()
	if nd, ok := s.deps.Store.NextDue(); ok {
		snap.NextDue = nd
	}
	return snap
}

// run is the single scheduling loop: peek the earliest deadline, sleep until
// it (clamped), process, repeat. A wake signal interrupts any sleep.
func (s *Service) run(ctx context.Context) {
	defer s.setState(StateIdle, time.Time{})
	for {
		if ctx.Err() != nil {
			return
		}
		now := s.now()
		nextDue, ok := s.deps.Store.NextDue()
		if !ok {
			s.setState(StateIdle, time.Time{})
			s.log.Debug("scheduler idle; no active reminders")
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
			}
			continue
		}

		d := computeSleep(nextDue, now, s.policy())
		s.setState(StateSleeping, now.Add(d))
		s.log.Debug("scheduler sleeping",
			logx.Duration("for", d), logx.Time("next_due", nextDue))

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-s.wake:
			t.Stop()
			continue
		case <-t.C:
		}
		s.cycle(ctx, "timer")
	}
}

// safetyTick is the fixed-interval backstop against missed wakeups.
// It must be (and is) a no-op when nothing is due.
func (s *Service) safetyTick() {
	s.mu.Lock()
	ctx := s.runCtx
	started := s.started
	s.mu.Unlock()
	if !started || ctx == nil || ctx.Err() != nil {
		return
	}
	if len(s.deps.Store.ListDue(s.now())) == 0 {
		return
	}
	s.log.Warn("safety tick found due reminders; dynamic timer missed a wakeup")
	s.Kick("safety tick")
}

// cycle performs one due-check pass. Only the run loop calls it, so two
// cycles never interleave.
func (s *Service) cycle(ctx context.Context, reason string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in scheduler cycle",
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	now := s.now()
	due := s.deps.Store.ListDue(now)
	if len(due) == 0 {
		return
	}
	s.setState(StateProcessing, time.Time{})
	s.cycles.Add(1)
	s.log.Debug("processing due reminders",
		logx.Int("count", len(due)), logx.String("reason", reason))
	for i := range due {
		// A failure local to one reminder never aborts its siblings.
		s.processOne(ctx, &due[i], now)
	}
	if s.deps.Persist != nil {
		s.deps.Persist(ctx)
	}
}

func (s *Service) setState(st State, until time.Time) {
	s.mu.Lock()
	s.state = st
	s.until = until
	s.mu.Unlock()
}

// processOne handles a single due reminder entirely under its guild lock:
// refresh reactions (retry-wrapped), resolve eligibles, compute missing,
// notify, then advance LastFired regardless of notification success. Forward
// progress is preferred over guaranteed delivery so a broken target cannot
// pin the schedule into a retry storm.
func (s *Service) processOne(ctx context.Context, r *reminder.Reminder, now time.Time) {
	messageID := r.MessageID
	var ev FiredEvent

	err := s.deps.Store.Mutate(messageID, func(w *reminder.Reminder) error {
		// Re-check against current state: the copy from ListDue may be stale
		// by the time this guild's lock is acquired.
		if !w.Due(now) {
			return reminder.ErrDiscard
		}
		ev = FiredEvent{MessageID: w.MessageID, GuildID: w.GuildID}

		var byEmoji map[string][]string
		ferr := s.deps.Exec.Do(ctx, "fetch_reactions", func(ctx context.Context) error {
			m, err := s.deps.Reactions.FetchReactions(ctx, w.ChannelID, w.MessageID)
			if err != nil {
				return err
			}
			byEmoji = m
			return nil
		})
		if retry.IsPermanent(ferr) {
			// The watched message is permanently inaccessible: drop the
			// reminder. Logged once here, not per attempt.
			s.log.Warn("watched message gone; removing reminder",
				logx.String("message_id", w.MessageID), logx.Err(ferr))
			return reminder.ErrRemove
		}
		if ferr == nil {
			w.ApplyReactions(byEmoji)
		} else {
			ev.Error = ferr.Error()
			s.log.Warn("reaction refresh failed; using last known set",
				logx.String("message_id", w.MessageID), logx.Err(ferr))
		}

		if s.deps.Eligibility != nil {
			eerr := s.deps.Exec.Do(ctx, "eligible_users", func(ctx context.Context) error {
				set, err := s.deps.Eligibility.EligibleUsers(ctx, w.GuildID, w.ChannelID)
				if err != nil {
					return err
				}
				w.EligibleUserIDs = set
				return nil
			})
			if eerr != nil {
				s.log.Warn("eligibility refresh failed; using last known set",
					logx.String("message_id", w.MessageID), logx.Err(eerr))
			}
		}

		missing := w.MissingUsers()
		ev.Missing = missing
		if len(missing) > 0 && s.deps.Notify != nil {
			payload := reminder.Payload{
				Title:          w.Title,
				MessageID:      w.MessageID,
				MissingUserIDs: missing,
			}
			nerr := s.deps.Exec.Do(ctx, "notify", func(ctx context.Context) error {
				return s.deps.Notify.Send(ctx, w.GuildID, w.ChannelID, payload)
			})
			if nerr != nil {
				ev.Error = nerr.Error()
				s.log.Warn("notification failed; schedule advances anyway",
					logx.String("message_id", w.MessageID), logx.Err(nerr))
			} else {
				ev.Notified = true
			}
		}

		// Advances even on delivery failure; see the processOne doc comment.
		w.LastFired = now
		return nil
	})

	switch {
	case err == nil:
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeReminderFired, Data: ev})
		}
	case errors.Is(err, reminder.ErrRemove):
		if s.deps.Bus != nil {
			s.deps.Bus.Publish(eventbus.Event{Type: eventbus.TypeReminderRemoved, Data: ev})
		}
	case errors.Is(err, reminder.ErrNotFound):
		// Removed concurrently between ListDue and the guild lock; nothing to do.
	default:
		s.log.Error("reminder cycle failed", logx.String("message_id", messageID), logx.Err(err))
	}
}
