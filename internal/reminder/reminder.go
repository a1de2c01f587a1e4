package reminder

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("reminder not found")
	ErrExists   = errors.New("reminder already exists")

	// ErrRemove may be returned from a Mutate callback to delete the reminder
	// under the same guild lock (e.g. when the watched message is gone).
	ErrRemove = errors.New("remove reminder")

	// ErrDiscard may be returned from a Mutate callback to leave the stored
	// reminder untouched.
	ErrDiscard = errors.New("discard mutation")
)

// Reminder watches one message's reactions and periodically pings users who
// have not reacted yet.
//
// MessageID is the unique key. GuildID, MessageID and CreatedAt are immutable
// after Add.
type Reminder struct {
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
	GuildID   string `json:"guild_id"`
	Title     string `json:"title"`

	// Interval is clamped to the active policy's [Min,Max] on every write.
	Interval time.Duration `json:"interval"`

	// RequiredReactions is the set of emoji identifiers that count.
	// Empty means any reaction counts.
	RequiredReactions map[string]struct{} `json:"required_reactions,omitempty"`

	// ReactedUserIDs may transiently contain users no longer eligible
	// (stale membership); MissingUsers filters against EligibleUserIDs.
	ReactedUserIDs  map[string]struct{} `json:"reacted_user_ids,omitempty"`
	EligibleUserIDs map[string]struct{} `json:"eligible_user_ids,omitempty"`

	LastFired time.Time `json:"last_fired"`
	Paused    bool      `json:"paused"`
	CreatedAt time.Time `json:"created_at"`
}

// Due reports whether the reminder should fire at now.
// A paused reminder is never due.
func (r *Reminder) Due(now time.Time) bool {
	if r.Paused {
		return false
	}
	return !r.LastFired.Add(r.Interval).After(now)
}

// NextDue is the time the reminder becomes due. Meaningless for paused reminders.
func (r *Reminder) NextDue() time.Time {
	return r.LastFired.Add(r.Interval)
}

// MissingUsers returns eligible users who have not reacted, sorted not at all
// (callers sort for presentation). Reacted users outside the eligible set are
// ignored.
func (r *Reminder) MissingUsers() []string {
	missing := make([]string, 0, len(r.EligibleUserIDs))
	for id := range r.EligibleUserIDs {
		if _, ok := r.ReactedUserIDs[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

// ApplyReactions replaces the reacted set from a fresh emoji→users fetch,
// honoring RequiredReactions when non-empty.
func (r *Reminder) ApplyReactions(byEmoji map[string][]string) {
	reacted := map[string]struct{}{}
	for emoji, users := range byEmoji {
		if len(r.RequiredReactions) > 0 {
			if _, ok := r.RequiredReactions[emoji]; !ok {
				continue
			}
		}
		for _, u := range users {
			reacted[u] = struct{}{}
		}
	}
	r.ReactedUserIDs = reacted
}

// Clone returns a deep copy. Store reads hand out clones so callers can never
// mutate shared state outside the guild lock.
func (r *Reminder) Clone() Reminder {
	cp := *r
	cp.RequiredReactions = cloneSet(r.RequiredReactions)
	cp.ReactedUserIDs = cloneSet(r.ReactedUserIDs)
	cp.EligibleUserIDs = cloneSet(r.EligibleUserIDs)
	return cp
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	if in == nil {
		return nil
	}
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

// SetOf is a convenience constructor for the string sets above.
func SetOf(vals ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		out[v] = struct{}{}
	}
	return out
}

// Policy bounds reminder intervals.
type Policy struct {
	MinInterval time.Duration
	MaxInterval time.Duration
}

// Clamp bounds d to [MinInterval, MaxInterval].
func (p Policy) Clamp(d time.Duration) time.Duration {
	if p.MinInterval > 0 && d < p.MinInterval {
		return p.MinInterval
	}
	if p.MaxInterval > 0 && d > p.MaxInterval {
		return p.MaxInterval
	}
	return d
}
