package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	rawBlocked = defaultBlockedSample
	rawClear   = defaultClearSample
)

type recordingReporter struct {
	mu      sync.Mutex
	changes []CountChange
}

func (r *recordingReporter) OnCountChanged(c CountChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recordingReporter) snapshot() []CountChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CountChange(nil), r.changes...)
}

// newTestEngine builds and starts an engine. setup, when non-nil, runs
// before the workers start.
func newTestEngine(t *testing.T, delivery DeliveryMode, setup func(*Engine)) (*Engine, *recordingReporter) {
	t.Helper()

	rep := &recordingReporter{}
	e, err := NewEngine(EngineConfig{
		Thresholds:      Thresholds{Enter: defaultEnterThreshold, Exit: defaultExitThreshold},
		Debounce:        defaultDebounce,
		SequenceTimeout: defaultSequenceTimeout,
		Delivery:        delivery,
		QueueSize:       16,
	}, rep, discardLogger())
	require.NoError(t, err)
	if setup != nil {
		setup(e)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Error("timeout waiting for engine to stop")
		}
	})
	return e, rep
}

type sample struct {
	b   Barrier
	raw int
}

var (
	walkIn  = []sample{{BarrierOuter, rawBlocked}, {BarrierInner, rawBlocked}, {BarrierOuter, rawClear}, {BarrierInner, rawClear}}
	walkOut = []sample{{BarrierInner, rawBlocked}, {BarrierOuter, rawBlocked}, {BarrierInner, rawClear}, {BarrierOuter, rawClear}}
)

// feed ingests samples 150ms apart starting at t0, waiting for both workers
// to consume each notification so the latest-wins slot never overwrites.
func feed(t *testing.T, e *Engine, t0 time.Time, samples []sample) time.Time {
	t.Helper()

	at := t0
	for _, s := range samples {
		_, v := e.IngestAt(s.b, s.raw, at)
		require.Equal(t, VerdictAccepted, v, "%s raw=%d", s.b, s.raw)
		require.Eventually(t, func() bool {
			return e.IncrementWorker().Inbox().Pending() == 0 && e.DecrementWorker().Inbox().Pending() == 0
		}, time.Second, time.Millisecond)
		at = at.Add(150 * time.Millisecond)
	}
	return at
}

func TestEngine_WalkInThenOut(t *testing.T) {
	e, rep := newTestEngine(t, DeliveryLatest, nil)
	t0 := time.Now()

	next := feed(t, e, t0, walkIn)
	require.Eventually(t, func() bool { return e.Counter().Load() == 1 }, time.Second, time.Millisecond)

	feed(t, e, next, walkOut)
	require.Eventually(t, func() bool { return e.Counter().Load() == 0 }, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { return len(rep.snapshot()) == 2 }, time.Second, time.Millisecond)
	changes := rep.snapshot()

	assert.Equal(t, DirectionIn, changes[0].Direction)
	assert.Equal(t, 1, changes[0].Applied)
	assert.Equal(t, uint64(1), changes[0].Count)
	assert.NotEmpty(t, changes[0].ID)

	assert.Equal(t, DirectionOut, changes[1].Direction)
	assert.Equal(t, -1, changes[1].Applied)
	assert.Equal(t, uint64(0), changes[1].Count)
	assert.NotEqual(t, changes[0].ID, changes[1].ID)
}

func TestEngine_WalkOutOfEmptyRoomClamps(t *testing.T) {
	e, rep := newTestEngine(t, DeliveryQueued, nil)

	feed(t, e, time.Now(), walkOut)

	require.Eventually(t, func() bool { return len(rep.snapshot()) == 1 }, time.Second, time.Millisecond)
	c := rep.snapshot()[0]
	assert.Equal(t, ReasonCrossing, c.Reason)
	assert.Equal(t, "decrement", c.Worker)
	assert.Equal(t, -1, c.Delta)
	assert.Equal(t, 0, c.Applied, "decrement at zero is clamped")
	assert.Equal(t, uint64(0), e.Counter().Load())
}

func TestEngine_WorkersIdleAfterCrossing(t *testing.T) {
	var mu sync.Mutex
	var decOutcomes []Outcome
	e, _ := newTestEngine(t, DeliveryQueued, func(e *Engine) {
		e.DecrementWorker().SetObserver(func(tr WorkerTransition) {
			mu.Lock()
			decOutcomes = append(decOutcomes, tr.Outcome)
			mu.Unlock()
		})
	})

	feed(t, e, time.Now(), walkIn)

	require.Eventually(t, func() bool { return e.Counter().Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return e.IncrementWorker().Status().Processed == 4 && e.DecrementWorker().Status().Processed == 4
	}, time.Second, time.Millisecond)

	assert.Equal(t, StateIdle, e.IncrementWorker().State())
	assert.Equal(t, StateIdle, e.DecrementWorker().State())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, decOutcomes, OutcomeMatched)
	assert.Equal(t, uint64(1), e.DecrementWorker().Status().Glitches)
}

func TestEngine_RejectedSamplesNeverReachWorkers(t *testing.T) {
	e, _ := newTestEngine(t, DeliveryQueued, nil)
	t0 := time.Now()

	_, v := e.IngestAt(BarrierOuter, 2000, t0)
	assert.Equal(t, VerdictDeadZone, v)

	_, v = e.IngestAt(BarrierOuter, rawBlocked, t0.Add(10*time.Millisecond))
	assert.Equal(t, VerdictAccepted, v)

	_, v = e.IngestAt(BarrierOuter, rawClear, t0.Add(20*time.Millisecond))
	assert.Equal(t, VerdictDebounced, v)

	require.Eventually(t, func() bool {
		return e.IncrementWorker().Status().Processed == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateStep1, e.IncrementWorker().State())
}

func TestEngine_SlowSequenceTimesOut(t *testing.T) {
	e, rep := newTestEngine(t, DeliveryQueued, nil)
	t0 := time.Now()

	// Same walk-in, but the last step lands after the sequence timeout.
	at := t0
	for i, s := range walkIn {
		if i == len(walkIn)-1 {
			at = t0.Add(defaultSequenceTimeout + time.Second)
		}
		_, v := e.IngestAt(s.b, s.raw, at)
		require.Equal(t, VerdictAccepted, v)
		at = at.Add(150 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return e.IncrementWorker().Status().Timeouts == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(0), e.Counter().Load())
	assert.Empty(t, rep.snapshot())
}
