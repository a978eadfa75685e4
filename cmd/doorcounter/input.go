package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// rawSample is one barrier reading from any input source.
type rawSample struct {
	Barrier Barrier
	Raw     int
}

// edgeFilter turns a level stream into an edge stream. Serial links and
// EV_ABS devices repeat the current level on every reading; only a change
// of thresholded edge per barrier is passed on to the classifier.
//
// The remembered edge moves only when the classifier accepts the sample, so
// a transition that was debounced is retried by the next reading at the same
// level. Dead-zone samples are always passed on for the classifier's stats.
// Not safe for concurrent use; each input loop owns one.
type edgeFilter struct {
	thresholds Thresholds
	last       [numBarriers]Edge
}

func newEdgeFilter(t Thresholds) *edgeFilter {
	return &edgeFilter{thresholds: t}
}

// feed forwards s to ctrl unless it repeats the barrier's last accepted edge.
// forwarded reports whether ctrl saw the sample.
func (f *edgeFilter) feed(ctrl Controller, s rawSample) (v Verdict, forwarded bool) {
	if !s.Barrier.valid() {
		return ctrl.InjectSample(s.Barrier, s.Raw), true
	}

	edge := f.thresholds.Edge(s.Raw)
	if edge != EdgeNone && edge == f.last[s.Barrier] {
		return 0, false
	}

	v = ctrl.InjectSample(s.Barrier, s.Raw)
	if v == VerdictAccepted {
		f.last[s.Barrier] = edge
	}
	return v, true
}

// readInputEvents reads input events from a single device and sends them to a channel.
// This runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f io.Reader, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			continue
		}

		events <- ev
	}
}

// evdevMapping turns input events into barrier samples.
//
// Digital barriers (gpio-keys and similar) report EV_KEY: press means the
// beam is blocked and is mapped to BlockedSample, release to ClearSample.
// Analog barriers (adc-joystick and similar) report EV_ABS and the value is
// passed through as the raw sample.
type evdevMapping struct {
	Type          uint16
	OuterCode     uint16
	InnerCode     uint16
	BlockedSample int
	ClearSample   int
}

func (m evdevMapping) translate(ev inputEvent) (rawSample, bool) {
	if ev.Type != m.Type {
		return rawSample{}, false
	}

	var b Barrier
	switch ev.Code {
	case m.OuterCode:
		b = BarrierOuter
	case m.InnerCode:
		b = BarrierInner
	default:
		return rawSample{}, false
	}

	switch ev.Type {
	case EV_KEY:
		switch ev.Value {
		case evValuePress:
			return rawSample{Barrier: b, Raw: m.BlockedSample}, true
		case evValueRelease:
			return rawSample{Barrier: b, Raw: m.ClearSample}, true
		default:
			// Key repeat carries no new edge.
			return rawSample{}, false
		}
	case EV_ABS:
		return rawSample{Barrier: b, Raw: int(ev.Value)}, true
	default:
		return rawSample{}, false
	}
}

// parseEventType maps a config value to an input event type.
func parseEventType(s string) (uint16, error) {
	switch s {
	case "key", "":
		return EV_KEY, nil
	case "abs":
		return EV_ABS, nil
	default:
		return 0, fmt.Errorf("unknown event type %q (must be key or abs)", s)
	}
}

// openInputDevices opens every configured device, closing the already-open
// ones on failure.
func openInputDevices(paths []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			for _, opened := range files {
				opened.Close()
			}
			return nil, fmt.Errorf("open input device %s: %w", p, err)
		}
		files = append(files, f)
	}
	return files, nil
}
