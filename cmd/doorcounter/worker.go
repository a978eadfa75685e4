package main

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction of a completed crossing.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// WorkerConfig describes one crossing worker.
type WorkerConfig struct {
	Name       string
	Hypothesis Hypothesis
	Direction  Direction
	Delta      int
	Timeout    time.Duration

	// CPU pins the worker goroutine's OS thread when >= 0.
	CPU int
}

// WorkerTransition is reported to an observer after every notification.
type WorkerTransition struct {
	Worker  string
	Event   ClassifiedEvent
	At      time.Time
	From    WorkerState
	To      WorkerState
	Outcome Outcome
}

// Worker runs one Matcher against its own mailbox and applies completed
// matches to the shared counter.
//
// The matcher is confined to the Run goroutine. Other goroutines only see the
// atomically published state and counters.
type Worker struct {
	name      string
	direction Direction
	delta     int
	cpu       int

	matcher  *Matcher
	inbox    Mailbox
	counter  *OccupancyCounter
	reporter Reporter
	logger   *slog.Logger

	observe func(WorkerTransition)

	state     atomic.Uint32
	processed atomic.Uint64
	matches   atomic.Uint64
	glitches  atomic.Uint64
	timeouts  atomic.Uint64
}

func NewWorker(cfg WorkerConfig, inbox Mailbox, counter *OccupancyCounter, reporter Reporter, logger *slog.Logger) *Worker {
	if reporter == nil {
		reporter = nopReporter{}
	}
	return &Worker{
		name:      cfg.Name,
		direction: cfg.Direction,
		delta:     cfg.Delta,
		cpu:       cfg.CPU,
		matcher:   NewMatcher(cfg.Hypothesis, cfg.Timeout),
		inbox:     inbox,
		counter:   counter,
		reporter:  reporter,
		logger:    logger.With("worker", cfg.Name),
	}
}

// SetObserver installs a transition hook. It must be called before Run.
func (w *Worker) SetObserver(fn func(WorkerTransition)) { w.observe = fn }

func (w *Worker) Name() string { return w.name }
func (w *Worker) State() WorkerState { return WorkerState(w.state.Load()) }
func (w *Worker) Inbox() Mailbox { return w.inbox }

// Run consumes notifications until ctx is canceled. Cancellation is a clean
// exit and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	if w.cpu >= 0 {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := pinToCPU(w.cpu); err != nil {
			w.logger.Warn("cpu pinning failed, running unpinned", "cpu", w.cpu, "error", err)
		} else {
			w.logger.Debug("worker pinned", "cpu", w.cpu)
		}
	}

	w.logger.Debug("worker starting", "hypothesis", w.matcher.Hypothesis().String())

	for {
		n, err := w.inbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Debug("worker stopping (context canceled)")
				return nil
			}
			return err
		}
		w.handle(n)
	}
}

func (w *Worker) handle(n Notification) {
	from := w.matcher.State()
	outcome := w.matcher.Advance(n)
	to := w.matcher.State()

	w.state.Store(uint32(to))
	w.processed.Add(1)

	switch outcome {
	case OutcomeMatched:
		w.matches.Add(1)
		w.complete(n)
	case OutcomeGlitch:
		w.glitches.Add(1)
		w.logger.Debug("sequence reset (glitch)", "event", n.Event.String(), "from", from.String())
	case OutcomeTimeout:
		w.timeouts.Add(1)
		w.logger.Debug("sequence reset (timeout)", "event", n.Event.String(), "from", from.String())
	}

	if w.observe != nil {
		w.observe(WorkerTransition{
			Worker:  w.name,
			Event:   n.Event,
			At:      n.At,
			From:    from,
			To:      to,
			Outcome: outcome,
		})
	}
}

func (w *Worker) complete(n Notification) {
	count, applied := w.counter.Apply(w.delta)
	change := CountChange{
		ID:        uuid.NewString(),
		Reason:    ReasonCrossing,
		Worker:    w.name,
		Direction: w.direction,
		Delta:     w.delta,
		Applied:   applied,
		Count:     count,
		At:        n.At,
	}
	w.logger.Info("crossing", "direction", string(w.direction), "applied", applied, "count", count)
	w.reporter.OnCountChanged(change)
}

// WorkerStatus is a point-in-time view of a worker for status queries.
type WorkerStatus struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Processed uint64 `json:"processed"`
	Matches   uint64 `json:"matches"`
	Glitches  uint64 `json:"glitches"`
	Timeouts  uint64 `json:"timeouts"`
	Pending   int    `json:"pending"`
	Dropped   uint64 `json:"dropped"`
}

func (w *Worker) Status() WorkerStatus {
	return WorkerStatus{
		Name:      w.name,
		State:     w.State().String(),
		Processed: w.processed.Load(),
		Matches:   w.matches.Load(),
		Glitches:  w.glitches.Load(),
		Timeouts:  w.timeouts.Load(),
		Pending:   w.inbox.Pending(),
		Dropped:   w.inbox.Dropped(),
	}
}
