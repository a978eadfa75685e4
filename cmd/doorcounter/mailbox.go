package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Mailbox delivers classified events from the input path to one crossing
// worker. Post never blocks; Receive blocks until a notification is
// available or ctx is done.
type Mailbox interface {
	// Post hands n to the worker. It returns false when a notification was
	// lost: overwritten in a latest mailbox, discarded in a full queue.
	Post(n Notification) bool
	Receive(ctx context.Context) (Notification, error)
	Pending() int
	Dropped() uint64
}

// DeliveryMode selects the mailbox implementation.
type DeliveryMode string

const (
	// DeliveryLatest keeps a single slot; an unconsumed notification is
	// overwritten by the next one.
	DeliveryLatest DeliveryMode = "latest"

	// DeliveryQueued keeps a bounded FIFO and never overwrites.
	DeliveryQueued DeliveryMode = "queued"
)

func NewMailbox(mode DeliveryMode, queueSize int) (Mailbox, error) {
	switch mode {
	case DeliveryLatest, "":
		return newLatestMailbox(), nil
	case DeliveryQueued:
		if queueSize <= 0 {
			queueSize = defaultQueueSize
		}
		return newQueuedMailbox(queueSize), nil
	default:
		return nil, fmt.Errorf("unknown delivery mode %q", mode)
	}
}

// ============================================================================
// Latest-wins single slot
// ============================================================================

type latestMailbox struct {
	mu   sync.Mutex
	slot Notification
	full bool

	// ready holds at most one wakeup token. A stale token only causes one
	// extra empty check in Receive.
	ready chan struct{}

	dropped atomic.Uint64
}

func newLatestMailbox() *latestMailbox {
	return &latestMailbox{ready: make(chan struct{}, 1)}
}

func (m *latestMailbox) Post(n Notification) bool {
	m.mu.Lock()
	overwrote := m.full
	m.slot = n
	m.full = true
	m.mu.Unlock()

	if overwrote {
		m.dropped.Add(1)
	}

	select {
	case m.ready <- struct{}{}:
	default:
	}
	return !overwrote
}

func (m *latestMailbox) Receive(ctx context.Context) (Notification, error) {
	for {
		m.mu.Lock()
		if m.full {
			n := m.slot
			m.full = false
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return Notification{}, ctx.Err()
		case <-m.ready:
		}
	}
}

func (m *latestMailbox) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return 1
	}
	return 0
}

func (m *latestMailbox) Dropped() uint64 { return m.dropped.Load() }

// ============================================================================
// Bounded queue
// ============================================================================

type queuedMailbox struct {
	ch      chan Notification
	dropped atomic.Uint64
}

func newQueuedMailbox(size int) *queuedMailbox {
	return &queuedMailbox{ch: make(chan Notification, size)}
}

func (m *queuedMailbox) Post(n Notification) bool {
	select {
	case m.ch <- n:
		return true
	default:
		m.dropped.Add(1)
		return false
	}
}

func (m *queuedMailbox) Receive(ctx context.Context) (Notification, error) {
	select {
	case <-ctx.Done():
		return Notification{}, ctx.Err()
	case n := <-m.ch:
		return n, nil
	}
}

func (m *queuedMailbox) Pending() int { return len(m.ch) }
func (m *queuedMailbox) Dropped() uint64 { return m.dropped.Load() }
