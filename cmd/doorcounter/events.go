package main

import (
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Barrier Event Types
// ============================================================================
// A doorway is instrumented with two light barriers. The outer barrier faces
// the outside of the room, the inner barrier faces the inside. Every accepted
// sample becomes one ClassifiedEvent which is delivered to both crossing
// workers.
// ============================================================================

// Barrier identifies one of the two light barriers.
type Barrier uint8

const (
	BarrierOuter Barrier = iota
	BarrierInner

	numBarriers
)

func (b Barrier) String() string {
	switch b {
	case BarrierOuter:
		return "outer"
	case BarrierInner:
		return "inner"
	default:
		return fmt.Sprintf("barrier(%d)", uint8(b))
	}
}

func (b Barrier) valid() bool { return b < numBarriers }

// ParseBarrier accepts "outer"/"inner" and the single letter forms "o"/"i".
func ParseBarrier(s string) (Barrier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "outer", "o":
		return BarrierOuter, nil
	case "inner", "i":
		return BarrierInner, nil
	default:
		return 0, fmt.Errorf("unknown barrier %q (must be outer or inner)", s)
	}
}

// Edge is the thresholded direction of a raw sample.
type Edge uint8

const (
	EdgeNone Edge = iota
	EdgeEnter
	EdgeExit
)

func (e Edge) String() string {
	switch e {
	case EdgeEnter:
		return "enter"
	case EdgeExit:
		return "exit"
	default:
		return "none"
	}
}

// ClassifiedEvent is a barrier crossed with an edge.
type ClassifiedEvent uint8

const (
	OuterEnter ClassifiedEvent = iota
	OuterExit
	InnerEnter
	InnerExit
)

// NewClassifiedEvent combines a barrier and a non-none edge.
func NewClassifiedEvent(b Barrier, e Edge) (ClassifiedEvent, bool) {
	switch {
	case b == BarrierOuter && e == EdgeEnter:
		return OuterEnter, true
	case b == BarrierOuter && e == EdgeExit:
		return OuterExit, true
	case b == BarrierInner && e == EdgeEnter:
		return InnerEnter, true
	case b == BarrierInner && e == EdgeExit:
		return InnerExit, true
	default:
		return 0, false
	}
}

func (c ClassifiedEvent) Barrier() Barrier {
	if c == InnerEnter || c == InnerExit {
		return BarrierInner
	}
	return BarrierOuter
}

func (c ClassifiedEvent) Edge() Edge {
	if c == OuterEnter || c == InnerEnter {
		return EdgeEnter
	}
	return EdgeExit
}

func (c ClassifiedEvent) String() string {
	switch c {
	case OuterEnter:
		return "OUTER_ENTER"
	case OuterExit:
		return "OUTER_EXIT"
	case InnerEnter:
		return "INNER_ENTER"
	case InnerExit:
		return "INNER_EXIT"
	default:
		return fmt.Sprintf("EVENT(%d)", uint8(c))
	}
}

// Notification is what a mailbox carries: the event and the time the
// classifier accepted it. Passed by value so posting never allocates.
type Notification struct {
	Event ClassifiedEvent
	At    time.Time
}

// Hypothesis is an ordered 4-step pattern a crossing worker waits for.
type Hypothesis [4]ClassifiedEvent

var (
	// Someone walking in blocks the outer beam, then the inner one, then
	// clears them in the same order.
	IncrementHypothesis = Hypothesis{OuterEnter, InnerEnter, OuterExit, InnerExit}

	// Walking out is the mirror image.
	DecrementHypothesis = Hypothesis{InnerEnter, OuterEnter, InnerExit, OuterExit}
)

func (h Hypothesis) String() string {
	parts := make([]string, len(h))
	for i, ev := range h {
		parts[i] = ev.String()
	}
	return "<" + strings.Join(parts, ", ") + ">"
}
