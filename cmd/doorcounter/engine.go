package main

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// EngineConfig holds the classification and matching parameters. They are
// fixed for the lifetime of an Engine.
type EngineConfig struct {
	Thresholds      Thresholds
	Debounce        time.Duration
	SequenceTimeout time.Duration
	Delivery        DeliveryMode
	QueueSize       int

	// CPUs pins the increment and decrement workers when PinWorkers is set.
	PinWorkers bool
	CPUs       [2]int
}

// Engine wires the classifier, the two mailboxes, the two crossing workers
// and the occupancy counter.
//
// Ingest is the input callback. It may be called from any goroutine and never
// blocks. Run starts both workers.
type Engine struct {
	classifier *Classifier
	guard      *DebounceGuard
	counter    *OccupancyCounter

	increment *Worker
	decrement *Worker

	logger *slog.Logger
}

func NewEngine(cfg EngineConfig, reporter Reporter, logger *slog.Logger) (*Engine, error) {
	incBox, err := NewMailbox(cfg.Delivery, cfg.QueueSize)
	if err != nil {
		return nil, err
	}
	decBox, err := NewMailbox(cfg.Delivery, cfg.QueueSize)
	if err != nil {
		return nil, err
	}

	incCPU, decCPU := -1, -1
	if cfg.PinWorkers {
		incCPU, decCPU = cfg.CPUs[0], cfg.CPUs[1]
	}

	guard := NewDebounceGuard(cfg.Debounce)
	counter := &OccupancyCounter{}

	e := &Engine{
		classifier: NewClassifier(cfg.Thresholds, guard),
		guard:      guard,
		counter:    counter,
		logger:     logger,
	}
	e.increment = NewWorker(WorkerConfig{
		Name:       "increment",
		Hypothesis: IncrementHypothesis,
		Direction:  DirectionIn,
		Delta:      1,
		Timeout:    cfg.SequenceTimeout,
		CPU:        incCPU,
	}, incBox, counter, reporter, logger)
	e.decrement = NewWorker(WorkerConfig{
		Name:       "decrement",
		Hypothesis: DecrementHypothesis,
		Direction:  DirectionOut,
		Delta:      -1,
		Timeout:    cfg.SequenceTimeout,
		CPU:        decCPU,
	}, decBox, counter, reporter, logger)

	return e, nil
}

// Ingest classifies a sample taken now.
func (e *Engine) Ingest(b Barrier, raw int) Verdict {
	_, v := e.IngestAt(b, raw, time.Now())
	return v
}

// IngestAt classifies a sample taken at now and, when accepted, notifies both
// workers.
func (e *Engine) IngestAt(b Barrier, raw int, now time.Time) (ClassifiedEvent, Verdict) {
	ev, v := e.classifier.Classify(b, raw, now)
	if v != VerdictAccepted {
		return ev, v
	}

	n := Notification{Event: ev, At: now}
	if !e.increment.inbox.Post(n) {
		e.logger.Debug("notification overwritten", "worker", e.increment.name, "event", ev.String())
	}
	if !e.decrement.inbox.Post(n) {
		e.logger.Debug("notification overwritten", "worker", e.decrement.name, "event", ev.String())
	}
	return ev, v
}

// Run runs both workers until ctx is canceled or one of them fails.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.increment.Run(gctx) })
	g.Go(func() error { return e.decrement.Run(gctx) })
	return g.Wait()
}

func (e *Engine) Counter() *OccupancyCounter { return e.counter }
func (e *Engine) Classifier() *Classifier { return e.classifier }
func (e *Engine) Guard() *DebounceGuard { return e.guard }
func (e *Engine) IncrementWorker() *Worker { return e.increment }
func (e *Engine) DecrementWorker() *Worker { return e.decrement }

// SetObserver installs the same transition hook on both workers. It must be
// called before Run.
func (e *Engine) SetObserver(fn func(WorkerTransition)) {
	e.increment.SetObserver(fn)
	e.decrement.SetObserver(fn)
}
