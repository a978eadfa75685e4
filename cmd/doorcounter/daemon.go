package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Daemon
// ============================================================================
//
// The daemon owns the counting engine and everything around it:
//   - the report dispatcher and its sinks (log, WebSocket, crossing log)
//   - the periodic occupancy report
//   - the daily reset schedule
//   - the sensor chatter monitor
//
// Input sources, IPC and HTTP live in main.go and reach the daemon through
// the Controller interface.
//
// ============================================================================

type Daemon struct {
	engine     *Engine
	dispatcher *Dispatcher
	store      *Store // nil when the crossing log is disabled
	state      *StateServer
	broadcasts chan CountChange

	chatter       *chatterMonitor
	resetSchedule *dailySchedule

	engineCfg      EngineConfig
	reportInterval time.Duration
	startedAt      time.Time

	logger *slog.Logger
}

// NewDaemon builds the daemon from a validated config. The caller owns the
// returned daemon and must call Close.
func NewDaemon(cfg Config, logger *slog.Logger) (*Daemon, error) {
	d := &Daemon{
		engineCfg:      cfg.ToEngineConfig(),
		reportInterval: time.Duration(cfg.Report.IntervalSec) * time.Second,
		startedAt:      time.Now(),
		broadcasts:     make(chan CountChange, cfg.Report.QueueSize),
		logger:         logger,
	}

	d.dispatcher = NewDispatcher(cfg.Report.QueueSize, logger, logSink{logger: logger})
	d.state = NewStateServer(logger, d.stateSnapshot, HubConfig{})
	d.dispatcher.AddSink(hubSink{out: d.broadcasts, logger: logger})

	if cfg.Store.Enabled {
		store, err := OpenStore(ExpandPath(cfg.Store.Path), logger)
		if err != nil {
			return nil, err
		}
		d.store = store
		d.dispatcher.AddSink(store)
	}

	if cfg.Reset.DailyAt != "" {
		sched, err := parseDailySchedule(cfg.Reset.DailyAt, time.Local)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.resetSchedule = &sched
	}

	if cfg.Diagnostics.ChatterThreshold > 0 {
		d.chatter = newChatterMonitor(
			time.Duration(cfg.Diagnostics.ChatterWindowMS)*time.Millisecond,
			cfg.Diagnostics.ChatterThreshold,
		)
	}

	engine, err := NewEngine(d.engineCfg, d.dispatcher, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("build engine: %w", err)
	}
	d.engine = engine

	return d, nil
}

func (d *Daemon) Engine() *Engine { return d.engine }
func (d *Daemon) StateServer() *StateServer { return d.state }
func (d *Daemon) Dispatcher() *Dispatcher { return d.dispatcher }

// Close releases the crossing log.
func (d *Daemon) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

// Run runs the workers and the background loops until ctx is canceled or
// one of them fails.
func (d *Daemon) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return d.engine.Run(gctx) })
	g.Go(func() error { return d.dispatcher.Run(gctx) })
	g.Go(func() error { return d.state.Hub().Run(gctx) })
	g.Go(func() error { return RunBroadcaster(gctx, d.state.Hub(), d.broadcasts, d.logger) })

	if d.reportInterval > 0 {
		g.Go(func() error { return d.runReports(gctx) })
	}
	if d.resetSchedule != nil {
		sched := *d.resetSchedule
		d.logger.Info("daily count reset enabled", "at", sched.String())
		g.Go(func() error {
			return runDailyReset(gctx, sched, func(time.Time) { d.ResetCount("schedule") }, d.logger)
		})
	}
	if d.chatter != nil {
		g.Go(func() error { return d.runChatterMonitor(gctx) })
	}

	err := g.Wait()
	d.logger.Info("daemon stopped", "count", d.engine.Counter().Load())
	return err
}

// runReports emits the current count on a fixed cadence.
func (d *Daemon) runReports(ctx context.Context) error {
	ticker := time.NewTicker(d.reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			d.dispatcher.OnCountChanged(CountChange{
				Reason: ReasonReport,
				Count:  d.engine.Counter().Load(),
				At:     now,
			})
		}
	}
}

func (d *Daemon) runChatterMonitor(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, c := range d.chatter.check(d.engine.Classifier(), now) {
				if c.Chattering {
					d.logger.Warn("barrier chattering, check sensor alignment",
						"barrier", c.Barrier.String(), "rejected", c.Rejected, "window", d.chatter.window)
				} else {
					d.logger.Info("barrier settled", "barrier", c.Barrier.String())
				}
			}
		}
	}
}

// ============================================================================
// Controller
// ============================================================================

func (d *Daemon) InjectSample(b Barrier, raw int) Verdict {
	v := d.engine.Ingest(b, raw)
	d.logger.Debug("sample", "barrier", b.String(), "raw", raw, "verdict", v.String())
	return v
}

func (d *Daemon) Count() uint64 { return d.engine.Counter().Load() }

func (d *Daemon) ResetCount(origin string) uint64 {
	prev := d.engine.Counter().Reset()
	d.dispatcher.OnCountChanged(CountChange{
		Reason:  ReasonReset,
		Origin:  origin,
		Delta:   -int(prev),
		Applied: -int(prev),
		Count:   0,
		At:      time.Now(),
	})
	return prev
}

func (d *Daemon) Status(ctx context.Context) DaemonStatus {
	now := time.Now()
	st := DaemonStatus{
		Count:           d.engine.Counter().Load(),
		StartedAt:       d.startedAt.UTC(),
		Uptime:          now.Sub(d.startedAt).Truncate(time.Second).String(),
		Delivery:        d.engineCfg.Delivery,
		SequenceTimeout: d.engineCfg.SequenceTimeout.String(),
		Debounce:        d.engineCfg.Debounce.String(),
		Barriers:        make(map[string]BarrierStatus, numBarriers),
		Workers: []WorkerStatus{
			d.engine.IncrementWorker().Status(),
			d.engine.DecrementWorker().Status(),
		},
		ReportsDropped: d.dispatcher.Dropped(),
	}
	if st.Delivery == "" {
		st.Delivery = DeliveryLatest
	}

	for b := Barrier(0); b < numBarriers; b++ {
		bs := BarrierStatus{BarrierStats: d.engine.Classifier().Stats(b)}
		if last := d.engine.Guard().LastAccepted(b); !last.IsZero() {
			utc := last.UTC()
			bs.LastAccepted = &utc
		}
		if d.chatter != nil {
			bs.Chattering = d.chatter.isChattering(b)
		}
		st.Barriers[b.String()] = bs
	}

	if d.store != nil {
		totals, err := d.store.TotalsSince(ctx, startOfDay(now))
		if err != nil {
			d.logger.Warn("status: crossing totals unavailable", "error", err)
		} else {
			st.Today = &totals
		}
	}
	return st
}

func (d *Daemon) RecentCrossings(ctx context.Context, limit int) ([]CrossingRecord, error) {
	if d.store == nil {
		return nil, ErrNoStore
	}
	return d.store.RecentCrossings(ctx, limit)
}

func (d *Daemon) stateSnapshot() wsStateSnapshot {
	return wsStateSnapshot{
		Count:     d.engine.Counter().Load(),
		StartedAt: d.startedAt.UTC(),
	}
}
