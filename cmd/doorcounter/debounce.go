package main

import (
	"math"
	"sync/atomic"
	"time"
)

// neverAccepted marks a barrier that has not accepted an edge yet.
const neverAccepted = math.MinInt64

// DebounceGuard rejects edges that arrive within the window of the last
// accepted edge on the same barrier.
//
// Timestamps are stored as monotonic nanoseconds since the guard's epoch so
// acceptance is a single compare-and-swap. Accept is safe to call from any
// goroutine and never blocks.
type DebounceGuard struct {
	window time.Duration
	epoch  time.Time
	last   [numBarriers]atomic.Int64
}

// NewDebounceGuard returns a guard with no prior acceptances.
func NewDebounceGuard(window time.Duration) *DebounceGuard {
	g := &DebounceGuard{
		window: window,
		epoch:  time.Now(),
	}
	for i := range g.last {
		g.last[i].Store(neverAccepted)
	}
	return g
}

// Window returns the configured debounce window.
func (g *DebounceGuard) Window() time.Duration { return g.window }

// Accept reports whether an edge on b at now should pass. Passing records
// now as the barrier's last stable timestamp.
func (g *DebounceGuard) Accept(b Barrier, now time.Time) bool {
	if !b.valid() {
		return false
	}
	ts := int64(now.Sub(g.epoch))
	slot := &g.last[b]

	for {
		last := slot.Load()
		if last != neverAccepted && time.Duration(ts-last) <= g.window {
			return false
		}
		if slot.CompareAndSwap(last, ts) {
			return true
		}
		// Lost a race with a concurrent sample on the same barrier; re-evaluate
		// against the winner's timestamp.
	}
}

// LastAccepted returns the time of the last accepted edge on b, or the zero
// time when nothing has been accepted yet.
func (g *DebounceGuard) LastAccepted(b Barrier) time.Time {
	if !b.valid() {
		return time.Time{}
	}
	last := g.last[b].Load()
	if last == neverAccepted {
		return time.Time{}
	}
	return g.epoch.Add(time.Duration(last))
}
