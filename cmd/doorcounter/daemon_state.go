package main

import (
	"context"
	"errors"
	"time"
)

// Controller is what the IPC and HTTP surfaces need from the daemon. Every
// method is safe to call concurrently; none of them touches worker state.
type Controller interface {
	// InjectSample feeds a raw sample through the classifier, exactly like a
	// hardware source.
	InjectSample(b Barrier, raw int) Verdict
	Count() uint64
	// ResetCount zeroes the counter and returns the previous value.
	ResetCount(origin string) uint64
	Status(ctx context.Context) DaemonStatus
	RecentCrossings(ctx context.Context, limit int) ([]CrossingRecord, error)
}

// ErrNoStore is returned by crossing queries when the crossing log is
// disabled.
var ErrNoStore = errors.New("crossing log is disabled")

// DaemonStatus is a coherent-enough snapshot for operators. Each field is
// read atomically on its own; the snapshot as a whole is not a transaction.
type DaemonStatus struct {
	Count     uint64    `json:"count"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`

	Delivery        DeliveryMode `json:"delivery"`
	SequenceTimeout string       `json:"sequence_timeout"`
	Debounce        string       `json:"debounce"`

	Barriers map[string]BarrierStatus `json:"barriers"`
	Workers  []WorkerStatus           `json:"workers"`

	ReportsDropped uint64 `json:"reports_dropped"`

	// Today is filled from the crossing log when it is enabled.
	Today *CrossingTotals `json:"today,omitempty"`
}

type BarrierStatus struct {
	BarrierStats
	Chattering   bool       `json:"chattering"`
	LastAccepted *time.Time `json:"last_accepted,omitempty"`
}

// startOfDay returns local midnight of t's day.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
