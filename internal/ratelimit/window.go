// Package ratelimit implements a keyed sliding-window counter that protects
// the gateway from runaway clients.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter counts events per key inside a trailing window. Every checked event
// is recorded, rejected ones included, so a client cannot reset its window by
// pausing; entries only leave the window by aging out.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string][]time.Time
}

// New creates a Limiter that accepts at most limit events per window.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}

	return &Limiter{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// Allow records an event for key at now and reports whether it fits in the
// window. Stale entries are pruned first; the stored window never grows past
// limit+1 entries.
func (l *Limiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := prune(l.entries[key], now.Add(-l.window))
	events = append(events, now)
	if over := len(events) - (l.limit + 1); over > 0 {
		events = events[over:]
	}
	l.entries[key] = events

	return len(events) <= l.limit
}

// Sweep drops keys whose events have all aged out and returns how many were
// removed.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cut := now.Add(-l.window)
	removed := 0
	for key, events := range l.entries {
		if len(events) == 0 || !events[len(events)-1].After(cut) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// prune keeps the events strictly newer than cut. Events are appended in
// order, so the first fresh one ends the scan.
func prune(events []time.Time, cut time.Time) []time.Time {
	for i, ts := range events {
		if ts.After(cut) {
			return append(events[:0], events[i:]...)
		}
	}
	return events[:0]
}
