// Package retry wraps outbound calls with error classification, exponential
// backoff, and outcome statistics.
package retry

import (
	"context"
	"math/rand"
	"sync"
	"time"

	logx "remindbot/pkg/logx"
)

// Options controls backoff behavior.
type Options struct {
	MaxAttempts int           // total attempts including the first (default 3)
	Base        time.Duration // first backoff delay (default 500ms)
	Factor      float64       // exponential growth factor (default 2.0)
	MaxDelay    time.Duration // backoff ceiling (default 15s)
	Jitter      float64       // 0.2 = ±20% (default 0.2)

	// Sleep is the wait primitive; nil means a real timer honoring ctx.
	// Tests inject a recording sleeper here.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Base <= 0 {
		o.Base = 500 * time.Millisecond
	}
	if o.Factor <= 1 {
		o.Factor = 2.0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 15 * time.Second
	}
	if o.Jitter <= 0 {
		o.Jitter = 0.2
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	return o
}

// Executor runs outbound calls under the retry policy. Failures are isolated
// per call: Do never affects sibling calls in the same batch.
type Executor struct {
	log   logx.Logger
	stats *Stats

	mu          sync.Mutex
	opt         Options
	onExhausted func(call string, attempts int, err error)

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewExecutor(opt Options, stats *Stats, log logx.Logger) *Executor {
	if stats == nil {
		stats = NewStats()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{
		log:   log,
		stats: stats,
		opt:   opt.withDefaults(),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Apply swaps the backoff options (config hot reload).
func (x *Executor) Apply(opt Options) {
	x.mu.Lock()
	x.opt = opt.withDefaults()
	x.mu.Unlock()
}

func (x *Executor) Stats() *Stats { return x.stats }

// OnExhausted registers a hook invoked after a call fails with its retries
// used up (not for permanent failures or canceled waits). The bus publisher
// hangs off this during wiring.
func (x *Executor) OnExhausted(fn func(call string, attempts int, err error)) {
	x.mu.Lock()
	x.onExhausted = fn
	x.mu.Unlock()
}

func (x *Executor) exhaustedHook() func(string, int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.onExhausted
}

func (x *Executor) options() Options {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.opt
}

// Do runs fn under the retry policy:
//
//   - Permanent: no retry, the error propagates after the first attempt.
//   - RateLimited: wait exactly the server-specified delay, then retry.
//   - Unavailable/unclassified: exponential backoff with jitter, bounded by
//     MaxAttempts and MaxDelay.
//
// Every outcome is recorded into Stats. A canceled ctx stops waiting and
// surfaces the last call error.
func (x *Executor) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	opt := x.options()
	x.stats.call()

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			x.stats.ok()
			if attempt > 1 {
				x.stats.recover()
				x.log.Debug("call recovered", logx.String("call", name), logx.Int("attempts", attempt))
			}
			return nil
		}

		class := ClassOf(err)
		x.stats.countError(class.String())

		if class == ClassPermanent {
			x.stats.fail()
			x.log.Warn("call failed permanently", logx.String("call", name), logx.Err(err))
			return err
		}
		if attempt >= opt.MaxAttempts {
			x.stats.fail()
			x.log.Warn("call failed; retries exhausted",
				logx.String("call", name), logx.Int("attempts", attempt), logx.Err(err))
			if hook := x.exhaustedHook(); hook != nil {
				hook(name, attempt, err)
			}
			return err
		}

		var delay time.Duration
		if after, ok := RetryAfterOf(err); ok {
			// Honor the server's wait exactly; no jitter, no cap.
			delay = after
		} else {
			delay = x.backoff(opt, attempt)
		}

		if attempt == 1 {
			x.stats.retry()
		}
		x.log.Debug("call retry scheduled",
			logx.String("call", name), logx.Int("attempt", attempt+1),
			logx.String("class", class.String()), logx.Duration("delay", delay), logx.Err(err))

		if serr := opt.Sleep(ctx, delay); serr != nil {
			x.stats.fail()
			return err
		}
	}
}

// backoff computes min(base * factor^(attempt-1), maxDelay) with ±Jitter.
func (x *Executor) backoff(opt Options, attempt int) time.Duration {
	d := float64(opt.Base)
	for i := 1; i < attempt; i++ {
		d *= opt.Factor
		if d >= float64(opt.MaxDelay) {
			d = float64(opt.MaxDelay)
			break
		}
	}
	if opt.Jitter > 0 {
		r := (x.randFloat()*2 - 1) * opt.Jitter
		d *= 1 + r
	}
	if d < 0 {
		d = 0
	}
	if d > float64(opt.MaxDelay) {
		d = float64(opt.MaxDelay)
	}
	return time.Duration(d)
}

func (x *Executor) randFloat() float64 {
	x.rngMu.Lock()
	defer x.rngMu.Unlock()
	return x.rng.Float64()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
