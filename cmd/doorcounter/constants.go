package main

import "time"

// Linux input event types (from <linux/input.h>)
const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_ABS = 0x03
)

// Input event value constants for EV_KEY
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Classification defaults. Samples are 12-bit ADC readings: a blocked beam
// reads low, a clear beam reads high.
const (
	defaultEnterThreshold = 1800
	defaultExitThreshold  = 2270

	defaultDebounce        = 100 * time.Millisecond
	defaultSequenceTimeout = 3 * time.Second

	// Samples synthesized for digital (EV_KEY) barriers.
	defaultBlockedSample = 0
	defaultClearSample   = 4095
)

// Daemon defaults
const (
	defaultQueueSize      = 16
	defaultReportQueue    = 64
	defaultReportInterval = 5 * time.Minute
	defaultIPCSocket      = "/tmp/doorcounter.sock"
	defaultHTTPPort       = 8080
	defaultSerialBaud     = 115200

	// A barrier rejecting more than this many edges inside the window is
	// reported as chattering.
	defaultChatterWindow    = 10 * time.Second
	defaultChatterThreshold = 20
)
