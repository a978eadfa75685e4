package main

import (
	"fmt"
	"time"
)

// ============================================================================
// Crossing Matcher - pure 4-step state machine
// ============================================================================
// A matcher tests the classified event stream against one Hypothesis. It
// performs no I/O and never blocks; the crossing worker owns it and applies
// the side effects of a completed match.
//
// Transition rules:
//   - IDLE: only the first step of the hypothesis advances, anything else is
//     ignored.
//   - STEPk: if the sequence has been open longer than the timeout, reset to
//     IDLE. Otherwise the expected next step advances and any other event
//     resets to IDLE.
//   - The fourth step completes the match and returns to IDLE in the same
//     transition.
//   - A resetting event is consumed; it is not re-evaluated from IDLE.
//
// The timeout is evaluated lazily when the next event arrives.
// ============================================================================

// WorkerState is the position of a matcher inside its hypothesis.
type WorkerState uint8

const (
	StateIdle WorkerState = iota
	StateStep1
	StateStep2
	StateStep3
)

func (s WorkerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStep1:
		return "STEP1"
	case StateStep2:
		return "STEP2"
	case StateStep3:
		return "STEP3"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// Outcome is the result of feeding one notification to a matcher.
type Outcome uint8

const (
	OutcomeIgnored Outcome = iota
	OutcomeAdvanced
	OutcomeMatched
	OutcomeGlitch
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAdvanced:
		return "advanced"
	case OutcomeMatched:
		return "matched"
	case OutcomeGlitch:
		return "glitch"
	case OutcomeTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(o))
	}
}

type Matcher struct {
	hypothesis Hypothesis
	timeout    time.Duration

	state         WorkerState
	sequenceStart time.Time
}

// NewMatcher returns an idle matcher. A timeout <= 0 disables the timeout.
func NewMatcher(h Hypothesis, timeout time.Duration) *Matcher {
	return &Matcher{hypothesis: h, timeout: timeout}
}

func (m *Matcher) State() WorkerState { return m.state }

// SequenceStart is the acceptance time of the event that left IDLE. It is
// zero while idle.
func (m *Matcher) SequenceStart() time.Time { return m.sequenceStart }

func (m *Matcher) Hypothesis() Hypothesis { return m.hypothesis }

// Advance applies one notification.
func (m *Matcher) Advance(n Notification) Outcome {
	if m.state == StateIdle {
		if n.Event != m.hypothesis[0] {
			return OutcomeIgnored
		}
		m.state = StateStep1
		m.sequenceStart = n.At
		return OutcomeAdvanced
	}

	if m.timeout > 0 && n.At.Sub(m.sequenceStart) > m.timeout {
		m.reset()
		return OutcomeTimeout
	}

	// StateStepK has satisfied k steps; the next expected index is k.
	next := int(m.state)
	if n.Event != m.hypothesis[next] {
		m.reset()
		return OutcomeGlitch
	}

	if next == len(m.hypothesis)-1 {
		m.reset()
		return OutcomeMatched
	}
	m.state++
	return OutcomeAdvanced
}

func (m *Matcher) reset() {
	m.state = StateIdle
	m.sequenceStart = time.Time{}
}
