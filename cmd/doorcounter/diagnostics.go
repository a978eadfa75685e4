package main

import (
	"sync"
	"time"
)

// chatterMonitor watches the debounce rejection counters. A stuck or
// flickering sensor shows up as a burst of rejected edges; the matchers only
// recover from it by timing out, so the daemon reports it separately.
//
// Thread-safe: the status endpoint and the daemon ticker may both call it.
type chatterMonitor struct {
	window    time.Duration
	threshold uint64

	mu         sync.Mutex
	samples    [numBarriers][]chatterSample
	chattering [numBarriers]bool
}

// chatterSample is a cumulative rejection count observed at a point in time.
type chatterSample struct {
	at    time.Time
	total uint64
}

// chatterChange is emitted when a barrier starts or stops chattering.
type chatterChange struct {
	Barrier    Barrier
	Rejected   uint64 // rejections inside the window
	Chattering bool
}

func newChatterMonitor(window time.Duration, threshold int) *chatterMonitor {
	m := &chatterMonitor{
		window:    window,
		threshold: uint64(threshold),
	}
	for i := range m.samples {
		m.samples[i] = make([]chatterSample, 0, 16)
	}
	return m
}

// observe records the cumulative rejection total for b and returns the number
// of rejections that happened inside the window ending at now.
func (m *chatterMonitor) observe(b Barrier, total uint64, now time.Time) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.observeLocked(b, total, now)
}

func (m *chatterMonitor) observeLocked(b Barrier, total uint64, now time.Time) uint64 {
	cutoff := now.Add(-m.window)

	// Drop samples outside the window, reusing the backing array.
	filtered := m.samples[b][:0]
	for _, s := range m.samples[b] {
		if !s.at.Before(cutoff) {
			filtered = append(filtered, s)
		}
	}
	filtered = append(filtered, chatterSample{at: now, total: total})
	m.samples[b] = filtered

	oldest := filtered[0].total
	if total < oldest {
		return 0
	}
	return total - oldest
}

// check samples the classifier and reports barriers whose chatter state
// changed since the previous check.
func (m *chatterMonitor) check(c *Classifier, now time.Time) []chatterChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changes []chatterChange
	for b := Barrier(0); b < numBarriers; b++ {
		rejected := m.observeLocked(b, c.Stats(b).Debounced, now)
		chattering := m.threshold > 0 && rejected > m.threshold
		if chattering != m.chattering[b] {
			m.chattering[b] = chattering
			changes = append(changes, chatterChange{Barrier: b, Rejected: rejected, Chattering: chattering})
		}
	}
	return changes
}

func (m *chatterMonitor) isChattering(b Barrier) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return b.valid() && m.chattering[b]
}
