// Package guildlock provides one mutual-exclusion lock per guild id.
//
// Every reminder mutation for a guild runs under that guild's lock, so two
// operations against the same guild never interleave while operations against
// different guilds proceed independently.
package guildlock

import "sync"

type Manager struct {
	// mu is a short-lived creation mutex: it only guards the map, never
	// wraps user work.
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

func NewManager() *Manager {
	return &Manager{locks: map[string]*sync.Mutex{}}
}

// Get returns the lock for guildID, creating it exactly once even under
// concurrent first access (double-checked under the creation mutex).
func (m *Manager) Get(guildID string) *sync.Mutex {
	m.mu.RLock()
	l := m.locks[guildID]
	m.mu.RUnlock()
	if l != nil {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l = m.locks[guildID]; l != nil {
		return l
	}
	l = &sync.Mutex{}
	m.locks[guildID] = l
	return l
}

// WithLock runs fn while holding the guild's lock. The lock is released on
// all paths, including panics inside fn.
//
// A Cleanup sweep can delete the instance between Get and Lock; acquiring
// that orphan would let a second operation for the same guild run on a fresh
// mutex. After acquiring, the map is re-checked and the acquisition retried
// until the held instance is the mapped one.
func (m *Manager) WithLock(guildID string, fn func() error) error {
	for {
		l := m.Get(guildID)
		l.Lock()
		m.mu.RLock()
		cur := m.locks[guildID]
		m.mu.RUnlock()
		if cur == l {
			defer l.Unlock()
			return fn()
		}
		l.Unlock()
	}
}

// Cleanup drops locks for guilds not present in active, bounding memory as
// tenants become inactive. A lock currently held is never removed: the probe
// is TryLock, and contended locks are skipped until a later sweep.
// Returns the number of locks removed.
func (m *Manager) Cleanup(active map[string]struct{}) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, l := range m.locks {
		if _, ok := active[id]; ok {
			continue
		}
		if !l.TryLock() {
			continue
		}
		l.Unlock()
		delete(m.locks, id)
		removed++
	}
	return removed
}

// Len reports the number of cached locks (diagnostics).
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.locks)
}
