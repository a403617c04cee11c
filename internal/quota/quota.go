// Package quota enforces the per-client poem allowance: a short debounce
// between consecutive requests plus a fixed rolling window with a maximum
// request count. State lives in process memory; the Store interface is the
// seam where a shared backend would plug in for multi-instance deployments.
package quota

import (
	"sync"
	"time"
)

type Reason int

const (
	ReasonAllowed Reason = iota
	ReasonDebounced
	ReasonLimited
)

// Decision is the outcome of one admission check. Remaining is the wait until
// the client may retry when the request was denied.
type Decision struct {
	Allowed   bool
	Reason    Reason
	Remaining time.Duration
}

// Store admits or rejects requests per client identifier.
type Store interface {
	Admit(key string, now time.Time) Decision
	Sweep(now time.Time) int
}

type windowEntry struct {
	count     int
	resetTime time.Time
}

// MemoryStore is the in-memory Store for single-instance deployments.
type MemoryStore struct {
	Window   time.Duration
	Max      int
	Debounce time.Duration

	mu       sync.Mutex
	windows  map[string]*windowEntry
	lastSeen map[string]time.Time
}

func NewMemoryStore(window time.Duration, max int, debounce time.Duration) *MemoryStore {
	return &MemoryStore{
		Window:   window,
		Max:      max,
		Debounce: debounce,
		windows:  make(map[string]*windowEntry),
		lastSeen: make(map[string]time.Time),
	}
}

// Admit runs the debounce check and the fixed-window check in order. A
// debounce rejection leaves the window counter untouched. On admission the
// counter is incremented before returning, so concurrent requests from the
// same client observe each other's slot immediately, and the debounce
// timestamp is refreshed.
func (s *MemoryStore) Admit(key string, now time.Time) Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.lastSeen[key]; ok {
		if elapsed := now.Sub(last); elapsed < s.Debounce {
			return Decision{Reason: ReasonDebounced, Remaining: s.Debounce - elapsed}
		}
	}

	entry, ok := s.windows[key]
	if !ok || !now.Before(entry.resetTime) {
		s.windows[key] = &windowEntry{count: 1, resetTime: now.Add(s.Window)}
		s.lastSeen[key] = now
		return Decision{Allowed: true}
	}

	if entry.count >= s.Max {
		return Decision{Reason: ReasonLimited, Remaining: entry.resetTime.Sub(now)}
	}

	entry.count++
	s.lastSeen[key] = now
	return Decision{Allowed: true}
}

// Sweep drops entries whose window has expired and whose debounce timestamp
// is stale, and reports how many were removed. Without it the maps would grow
// for the life of the process.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.windows {
		if !now.Before(entry.resetTime) {
			delete(s.windows, key)
			removed++
		}
	}
	for key, last := range s.lastSeen {
		if _, active := s.windows[key]; !active && now.Sub(last) >= s.Debounce {
			delete(s.lastSeen, key)
		}
	}
	return removed
}

// Len reports how many clients currently hold an active window.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}
