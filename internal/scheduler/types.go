package scheduler

import (
	"context"
	"time"

	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/retry"
)

// Policy controls wake-time computation and the safety tick.
type Policy struct {
	// SafetyMargin is shaved off the computed sleep so small timing error
	// lands just before the due time instead of just after.
	SafetyMargin time.Duration
	// MinWait / MaxWait clamp the sleep. MaxWait bounds how long a
	// scheduling defect can silently stall the system.
	MinWait time.Duration
	MaxWait time.Duration
	// SafetyTick re-runs the due check as a coarse backstop; it is a no-op
	// when nothing is due.
	SafetyTick time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.SafetyMargin <= 0 {
		p.SafetyMargin = 500 * time.Millisecond
	}
	if p.MinWait <= 0 {
		p.MinWait = time.Second
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 30 * time.Minute
	}
	if p.SafetyTick <= 0 {
		p.SafetyTick = 30 * time.Second
	}
	return p
}

// State of the dynamic timer.
type State int

const (
	// StateIdle: no active, unpaused reminders; no timer armed. Only an
	// external event (add/resume/interval change) leaves this state.
	StateIdle State = iota
	StateSleeping
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateSleeping:
		return "sleeping"
	case StateProcessing:
		return "processing"
	default:
		return "idle"
	}
}

// Deps are the collaborators a Service drives. Notify, Eligibility, Persist
// and Bus may be nil (degraded modes used by tests and partial wiring).
type Deps struct {
	Store       *reminder.Store
	Exec        *retry.Executor
	Notify      reminder.NotificationPort
	Reactions   reminder.ReactionSource
	Eligibility reminder.EligibilityResolver

	// Persist saves the collection after a cycle that mutated state.
	// Fire-and-forget relative to the in-memory mutation.
	Persist func(ctx context.Context)

	Bus eventbus.Bus

	// Now is the clock; nil means time.Now. Tests inject a fixed clock.
	Now func() time.Time
}

// Snapshot is a diagnostics view for the health surface.
type Snapshot struct {
	State    string    `json:"state"`
	Until    time.Time `json:"until,omitempty"`
	NextDue  time.Time `json:"next_due,omitempty"`
	HasTimer bool      `json:"has_timer"`
	Cycles   uint64    `json:"cycles"`
}

// FiredEvent is published on the bus for each reminder processed in a cycle.
type FiredEvent struct {
	MessageID string   `json:"message_id"`
	GuildID   string   `json:"guild_id"`
	Missing   []string `json:"missing,omitempty"`
	Notified  bool     `json:"notified"`
	Error     string   `json:"error,omitempty"`
}

// computeSleep is the sleep-until-next-due arithmetic:
// clamp(nextDue - now - margin, minWait, maxWait).
func computeSleep(nextDue, now time.Time, pol Policy) time.Duration {
	d := nextDue.Sub(now) - pol.SafetyMargin
	if d < pol.MinWait {
		return pol.MinWait
	}
	if d > pol.MaxWait {
		return pol.MaxWait
	}
	return d
}
