package main

import "sync/atomic"

// OccupancyCounter is the shared people count. It never goes below zero.
type OccupancyCounter struct {
	v atomic.Uint64
}

// Apply adds delta with a floor of zero and returns the new count together
// with the delta that actually took effect (0 when a decrement was clamped).
func (c *OccupancyCounter) Apply(delta int) (count uint64, applied int) {
	for {
		cur := c.v.Load()
		next := cur
		switch {
		case delta >= 0:
			next = cur + uint64(delta)
		case uint64(-delta) >= cur:
			next = 0
		default:
			next = cur - uint64(-delta)
		}
		if c.v.CompareAndSwap(cur, next) {
			return next, int(int64(next) - int64(cur))
		}
	}
}

func (c *OccupancyCounter) Load() uint64 { return c.v.Load() }

// Reset sets the count to zero and returns the previous value.
func (c *OccupancyCounter) Reset() uint64 { return c.v.Swap(0) }
