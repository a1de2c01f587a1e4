// Package debounce collapses bursts of reaction-changed signals for one
// message into a single resync execution.
//
// Timers are invalidated by generation number, never by racing against
// timer cancellation: a callback that fires after being superseded compares
// its captured generation with the current one and no-ops on mismatch.
package debounce

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// UpdateFunc performs the actual resync for one message.
type UpdateFunc func(ctx context.Context)

type entry struct {
	gen   uint64
	timer *time.Timer
	fn    UpdateFunc
}

type Queue struct {
	log logx.Logger

	mu      sync.Mutex
	delay   time.Duration
	entries map[string]*entry
	closed  bool

	// inflight counts running updates; it moves under mu so Flush never
	// races a timer callback claiming its entry. idle is lazily created by
	// a waiting Flush and closed when inflight drains to zero.
	inflight int
	idle     chan struct{}
}

func NewQueue(delay time.Duration, log logx.Logger) *Queue {
	if delay <= 0 {
		delay = 3 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		log:     log,
		delay:   delay,
		entries: map[string]*entry{},
	}
}

// SetDelay swaps the debounce window (config hot reload). Already-armed
// timers keep their original deadline.
func (q *Queue) SetDelay(d time.Duration) {
	if d <= 0 {
		return
	}
	q.mu.Lock()
	q.delay = d
	q.mu.Unlock()
}

// Schedule arms (or re-arms) the update for messageID. A rapid sequence of
// calls for the same message collapses into a single execution of the most
// recently supplied fn; calls for distinct messages are independent.
func (q *Queue) Schedule(messageID string, fn UpdateFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	e := q.entries[messageID]
	if e == nil {
		e = &entry{}
		q.entries[messageID] = e
	}
	e.gen++
	e.fn = fn
	gen := e.gen
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(q.delay, func() {
		q.fire(messageID, gen)
	})
}

// Cancel disarms a pending update. It reports false for unknown or
// already-fired keys and never panics.
func (q *Queue) Cancel(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[messageID]
	if !ok {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(q.entries, messageID)
	return true
}

// Pending reports the number of armed updates (diagnostics and tests).
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Flush executes every currently armed update immediately and waits for
// those plus all in-flight updates to finish (shutdown and deterministic
// tests). Updates scheduled after Flush starts are not covered.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	type armed struct {
		id  string
		gen uint64
	}
	pending := make([]armed, 0, len(q.entries))
	for id, e := range q.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		pending = append(pending, armed{id: id, gen: e.gen})
	}
	q.mu.Unlock()

	for _, p := range pending {
		q.fire(p.id, p.gen)
	}

	q.mu.Lock()
	if q.inflight == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.idle == nil {
		q.idle = make(chan struct{})
	}
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disarms everything and rejects further scheduling. In-flight updates
// are not interrupted; use Flush first for a clean shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, e := range q.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(q.entries, id)
	}
}

// fire runs the update if its generation is still current; a superseded or
// canceled timer callback is a no-op. Exactly one execution wins per burst.
func (q *Queue) fire(messageID string, gen uint64) {
	q.mu.Lock()
	e, ok := q.entries[messageID]
	if !ok || e.gen != gen || q.closed {
		q.mu.Unlock()
		return
	}
	fn := e.fn
	delete(q.entries, messageID)
	q.inflight++
	q.mu.Unlock()

	defer q.finish()
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("panic in debounced update",
				logx.String("message_id", messageID),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	fn(context.Background())
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.inflight--
	if q.inflight == 0 && q.idle != nil {
		close(q.idle)
		q.idle = nil
	}
	q.mu.Unlock()
}
