package main

import (
	"testing"
	"time"
)

func TestChatterMonitor_Observe(t *testing.T) {
	m := newChatterMonitor(10*time.Second, 5)
	t0 := time.Now()

	if got := m.observe(BarrierOuter, 0, t0); got != 0 {
		t.Errorf("first sample: expected 0, got %d", got)
	}
	if got := m.observe(BarrierOuter, 4, t0.Add(2*time.Second)); got != 4 {
		t.Errorf("expected 4 rejections in window, got %d", got)
	}
	if got := m.observe(BarrierOuter, 9, t0.Add(5*time.Second)); got != 9 {
		t.Errorf("expected 9 rejections in window, got %d", got)
	}

	// t0 falls out of the window; the oldest remaining sample is 4.
	if got := m.observe(BarrierOuter, 10, t0.Add(11*time.Second)); got != 6 {
		t.Errorf("expected 6 after window slide, got %d", got)
	}

	// The other barrier has its own history.
	if got := m.observe(BarrierInner, 100, t0); got != 0 {
		t.Errorf("inner: expected 0, got %d", got)
	}
}

// TestChatterMonitor_CheckEdgeTriggered tests that state changes are reported
// once, not on every check.
func TestChatterMonitor_CheckEdgeTriggered(t *testing.T) {
	c := NewClassifier(Thresholds{Enter: 1800, Exit: 2270}, NewDebounceGuard(time.Hour))
	m := newChatterMonitor(10*time.Second, 3)
	t0 := time.Now()

	if changes := m.check(c, t0); len(changes) != 0 {
		t.Fatalf("expected no changes on a quiet classifier, got %v", changes)
	}

	// One accepted edge, then a burst the guard rejects.
	c.Classify(BarrierOuter, 0, t0)
	for i := 0; i < 5; i++ {
		c.Classify(BarrierOuter, 4095, t0.Add(time.Duration(i+1)*time.Millisecond))
	}

	changes := m.check(c, t0.Add(time.Second))
	if len(changes) != 1 || changes[0].Barrier != BarrierOuter || !changes[0].Chattering {
		t.Fatalf("expected outer to start chattering, got %+v", changes)
	}
	if changes[0].Rejected != 5 {
		t.Errorf("expected 5 rejected, got %d", changes[0].Rejected)
	}
	if !m.isChattering(BarrierOuter) || m.isChattering(BarrierInner) {
		t.Errorf("unexpected chatter flags")
	}

	if changes := m.check(c, t0.Add(2*time.Second)); len(changes) != 0 {
		t.Errorf("expected no repeat report, got %v", changes)
	}

	// Once the burst leaves the window the barrier settles.
	changes = m.check(c, t0.Add(12*time.Second))
	if len(changes) != 1 || changes[0].Chattering {
		t.Fatalf("expected outer to settle, got %+v", changes)
	}
}

func TestChatterMonitor_ZeroThresholdNeverChatters(t *testing.T) {
	c := NewClassifier(Thresholds{Enter: 1800, Exit: 2270}, NewDebounceGuard(time.Hour))
	m := newChatterMonitor(time.Second, 0)
	t0 := time.Now()

	m.check(c, t0)
	c.Classify(BarrierInner, 0, t0)
	for i := 0; i < 50; i++ {
		c.Classify(BarrierInner, 0, t0)
	}
	if changes := m.check(c, t0.Add(100*time.Millisecond)); len(changes) != 0 {
		t.Errorf("expected no changes with threshold 0, got %v", changes)
	}
}
