package retry

import (
	"sync"
	"sync/atomic"
)

// maxErrorKinds bounds the error histogram; further kinds fold into "other".
const maxErrorKinds = 32

// Stats holds rolling call-outcome counters. Increments are safe from the
// event path and from synchronous callers (tests, the health server) at the
// same time, and Snapshot never blocks writers for long: counters are
// atomics, only the small histogram takes a mutex.
type Stats struct {
	total     atomic.Uint64
	success   atomic.Uint64
	failed    atomic.Uint64
	retried   atomic.Uint64
	recovered atomic.Uint64

	mu        sync.Mutex
	errCounts map[string]uint64
}

func NewStats() *Stats {
	return &Stats{errCounts: map[string]uint64{}}
}

func (s *Stats) call()    { s.total.Add(1) }
func (s *Stats) ok()      { s.success.Add(1) }
func (s *Stats) fail()    { s.failed.Add(1) }
func (s *Stats) retry()   { s.retried.Add(1) }
func (s *Stats) recover() { s.recovered.Add(1) }

func (s *Stats) countError(kind string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.errCounts[kind]; !ok && len(s.errCounts) >= maxErrorKinds {
		kind = "other"
	}
	s.errCounts[kind]++
}

// Snapshot is an atomic-enough view: each counter is read atomically and the
// histogram is copied under its mutex.
type Snapshot struct {
	Total     uint64            `json:"total"`
	Success   uint64            `json:"success"`
	Failed    uint64            `json:"failed"`
	Retried   uint64            `json:"retried"`
	Recovered uint64            `json:"recovered"`
	Errors    map[string]uint64 `json:"errors,omitempty"`
}

func (s *Stats) Snapshot() Snapshot {
	out := Snapshot{
		Total:     s.total.Load(),
		Success:   s.success.Load(),
		Failed:    s.failed.Load(),
		Retried:   s.retried.Load(),
		Recovered: s.recovered.Load(),
	}
	s.mu.Lock()
	if len(s.errCounts) > 0 {
		out.Errors = make(map[string]uint64, len(s.errCounts))
		for k, v := range s.errCounts {
			out.Errors[k] = v
		}
	}
	s.mu.Unlock()
	return out
}
