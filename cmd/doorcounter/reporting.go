package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ============================================================================
// Reporting
// ============================================================================
// Workers report every counter change through Reporter.OnCountChanged. The
// call must return promptly, so the daemon wires workers to a Dispatcher
// which queues the change and fans it out to sinks on its own goroutine.
// ============================================================================

// ChangeReason says why a CountChange was emitted.
type ChangeReason string

const (
	ReasonCrossing ChangeReason = "crossing"
	ReasonReset    ChangeReason = "reset"
	ReasonReport   ChangeReason = "report"
)

// CountChange is the payload handed to the reporting sink.
type CountChange struct {
	ID        string       `json:"id,omitempty"`
	Reason    ChangeReason `json:"reason"`
	Worker    string       `json:"worker,omitempty"`
	Direction Direction    `json:"direction,omitempty"`
	Origin    string       `json:"origin,omitempty"` // who requested a reset

	// Delta is the worker's configured delta. Applied is what took effect,
	// 0 when a decrement hit the floor.
	Delta   int `json:"delta"`
	Applied int `json:"applied"`

	Count uint64    `json:"count"`
	At    time.Time `json:"at"`
}

// Reporter is the boundary workers report through. Implementations must not
// block.
type Reporter interface {
	OnCountChanged(CountChange)
}

type nopReporter struct{}

func (nopReporter) OnCountChanged(CountChange) {}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(CountChange)

func (f ReporterFunc) OnCountChanged(c CountChange) { f(c) }

// Sink consumes count changes on the dispatcher goroutine. It may do I/O.
type Sink interface {
	Name() string
	Report(ctx context.Context, c CountChange) error
}

// Dispatcher queues count changes and delivers them to every sink in order.
type Dispatcher struct {
	queue   chan CountChange
	sinks   []Sink
	logger  *slog.Logger
	dropped atomic.Uint64
}

func NewDispatcher(queueSize int, logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultReportQueue
	}
	return &Dispatcher{
		queue:  make(chan CountChange, queueSize),
		sinks:  sinks,
		logger: logger,
	}
}

// AddSink registers another sink. It must be called before Run.
func (d *Dispatcher) AddSink(s Sink) { d.sinks = append(d.sinks, s) }

// OnCountChanged enqueues c. It never blocks; a full queue drops c.
func (d *Dispatcher) OnCountChanged(c CountChange) {
	select {
	case d.queue <- c:
	default:
		d.dropped.Add(1)
		d.logger.Warn("report queue full, dropping count change", "reason", string(c.Reason), "count", c.Count)
	}
}

func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }

// Run delivers queued changes until ctx is canceled, then drains whatever is
// already queued.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			d.drain()
			return nil
		case c := <-d.queue:
			d.deliver(ctx, c)
		}
	}
}

func (d *Dispatcher) drain() {
	// Sinks get a short grace period so a final crossing still reaches the log.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case c := <-d.queue:
			d.deliver(ctx, c)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, c CountChange) {
	for _, s := range d.sinks {
		if err := s.Report(ctx, c); err != nil {
			d.logger.Error("sink report failed", "sink", s.Name(), "reason", string(c.Reason), "error", err)
		}
	}
}

// logSink records count changes in the daemon log.
type logSink struct {
	logger *slog.Logger
}

func (logSink) Name() string { return "log" }

func (s logSink) Report(_ context.Context, c CountChange) error {
	switch c.Reason {
	case ReasonCrossing:
		s.logger.Debug("count changed", "direction", string(c.Direction), "applied", c.Applied, "count", c.Count, "id", c.ID)
	case ReasonReset:
		s.logger.Info("count reset", "origin", c.Origin, "previous", -c.Applied)
	case ReasonReport:
		s.logger.Info("occupancy", "count", c.Count)
	}
	return nil
}
