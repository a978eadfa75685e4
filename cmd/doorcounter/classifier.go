package main

import (
	"sync/atomic"
	"time"
)

// Thresholds maps a raw sample to an edge. Samples strictly below Enter are
// ENTER, samples strictly above Exit are EXIT, everything in between is a
// dead zone.
type Thresholds struct {
	Enter int
	Exit  int
}

func (t Thresholds) Edge(raw int) Edge {
	switch {
	case raw < t.Enter:
		return EdgeEnter
	case raw > t.Exit:
		return EdgeExit
	default:
		return EdgeNone
	}
}

// Verdict is the classifier's decision for one sample.
type Verdict uint8

const (
	VerdictAccepted Verdict = iota
	VerdictDeadZone
	VerdictDebounced
	VerdictUnknownBarrier
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictDeadZone:
		return "dead_zone"
	case VerdictDebounced:
		return "debounced"
	default:
		return "unknown_barrier"
	}
}

// Classifier turns raw samples into classified events. It runs on the input
// path: no blocking, no I/O, no allocation.
type Classifier struct {
	thresholds Thresholds
	guard      *DebounceGuard

	accepted  [numBarriers]atomic.Uint64
	deadZone  [numBarriers]atomic.Uint64
	debounced [numBarriers]atomic.Uint64
}

func NewClassifier(t Thresholds, guard *DebounceGuard) *Classifier {
	return &Classifier{thresholds: t, guard: guard}
}

// Classify thresholds raw and then consults the debounce guard. Dead-zone
// samples never reach the guard, so they do not consume a debounce slot.
func (c *Classifier) Classify(b Barrier, raw int, now time.Time) (ClassifiedEvent, Verdict) {
	if !b.valid() {
		return 0, VerdictUnknownBarrier
	}

	edge := c.thresholds.Edge(raw)
	if edge == EdgeNone {
		c.deadZone[b].Add(1)
		return 0, VerdictDeadZone
	}

	if !c.guard.Accept(b, now) {
		c.debounced[b].Add(1)
		return 0, VerdictDebounced
	}

	ev, _ := NewClassifiedEvent(b, edge)
	c.accepted[b].Add(1)
	return ev, VerdictAccepted
}

// BarrierStats are cumulative verdict counts for one barrier.
type BarrierStats struct {
	Accepted  uint64 `json:"accepted"`
	DeadZone  uint64 `json:"dead_zone"`
	Debounced uint64 `json:"debounced"`
}

func (c *Classifier) Stats(b Barrier) BarrierStats {
	if !b.valid() {
		return BarrierStats{}
	}
	return BarrierStats{
		Accepted:  c.accepted[b].Load(),
		DeadZone:  c.deadZone[b].Load(),
		Debounced: c.debounced[b].Load(),
	}
}
