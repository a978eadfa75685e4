//go:build linux

package main

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// pinToCPU restricts the calling OS thread to one CPU. The caller must hold
// runtime.LockOSThread for the pinning to stick to its goroutine.
func pinToCPU(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	// pid 0 is the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("sched_setaffinity cpu=%d: %w", cpu, err)
	}
	return nil
}
