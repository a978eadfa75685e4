package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
	"time"
)

func TestEvdevMapping_TranslateKey(t *testing.T) {
	m := evdevMapping{Type: EV_KEY, OuterCode: 0x100, InnerCode: 0x101, BlockedSample: 0, ClearSample: 4095}

	tests := []struct {
		name   string
		ev     inputEvent
		want   rawSample
		wantOK bool
	}{
		{"outer press", inputEvent{Type: EV_KEY, Code: 0x100, Value: evValuePress}, rawSample{BarrierOuter, 0}, true},
		{"outer release", inputEvent{Type: EV_KEY, Code: 0x100, Value: evValueRelease}, rawSample{BarrierOuter, 4095}, true},
		{"inner press", inputEvent{Type: EV_KEY, Code: 0x101, Value: evValuePress}, rawSample{BarrierInner, 0}, true},
		{"repeat ignored", inputEvent{Type: EV_KEY, Code: 0x101, Value: evValueRepeat}, rawSample{}, false},
		{"other code", inputEvent{Type: EV_KEY, Code: 0x102, Value: evValuePress}, rawSample{}, false},
		{"sync", inputEvent{Type: EV_SYN}, rawSample{}, false},
		{"abs on key mapping", inputEvent{Type: EV_ABS, Code: 0x100, Value: 10}, rawSample{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.translate(tt.ev)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("translate(%+v) = %+v, %v; want %+v, %v", tt.ev, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestEvdevMapping_TranslateAbs(t *testing.T) {
	m := evdevMapping{Type: EV_ABS, OuterCode: 0x00, InnerCode: 0x01}

	got, ok := m.translate(inputEvent{Type: EV_ABS, Code: 0x01, Value: 1234})
	if !ok || got != (rawSample{BarrierInner, 1234}) {
		t.Errorf("got %+v, %v", got, ok)
	}
}

func TestParseEventType(t *testing.T) {
	if v, err := parseEventType(""); err != nil || v != EV_KEY {
		t.Errorf("empty: got %d, %v", v, err)
	}
	if v, err := parseEventType("abs"); err != nil || v != EV_ABS {
		t.Errorf("abs: got %d, %v", v, err)
	}
	if _, err := parseEventType("rel"); err == nil {
		t.Errorf("expected error for rel")
	}
}

func TestReadInputEvents(t *testing.T) {
	var buf bytes.Buffer
	for _, ev := range []inputEvent{
		{Sec: 1, Type: EV_KEY, Code: 0x100, Value: evValuePress},
		{Sec: 1, Usec: 500, Type: EV_SYN},
	} {
		if err := binary.Write(&buf, binary.LittleEndian, ev); err != nil {
			t.Fatal(err)
		}
	}

	events := make(chan inputEvent, 4)
	readErr := make(chan error, 1)
	go readInputEvents(&buf, events, readErr)

	for i, want := range []uint16{EV_KEY, EV_SYN} {
		select {
		case ev := <-events:
			if ev.Type != want {
				t.Errorf("event %d: type %d, want %d", i, ev.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for event %d", i)
		}
	}

	select {
	case err := <-readErr:
		if err != io.EOF {
			t.Errorf("expected io.EOF, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for EOF")
	}
}

func TestEdgeFilter_ForwardsOnlyEdgeChanges(t *testing.T) {
	ctrl := &fakeController{}
	f := newEdgeFilter(Thresholds{Enter: 1800, Exit: 2270})

	in := []rawSample{
		{BarrierOuter, 100},
		{BarrierOuter, 120}, // still blocked
		{BarrierInner, 90},
		{BarrierOuter, 2000}, // dead zone
		{BarrierOuter, 4000},
		{BarrierOuter, 3990}, // still clear
		{BarrierInner, 4000},
		{BarrierInner, 100},
	}
	var forwarded int
	for _, s := range in {
		if _, ok := f.feed(ctrl, s); ok {
			forwarded++
		}
	}

	want := []rawSample{
		{BarrierOuter, 100},
		{BarrierInner, 90},
		{BarrierOuter, 2000},
		{BarrierOuter, 4000},
		{BarrierInner, 4000},
		{BarrierInner, 100},
	}
	if forwarded != len(want) {
		t.Fatalf("forwarded = %d, want %d", forwarded, len(want))
	}
	for i := range want {
		if ctrl.samples[i] != want[i] {
			t.Errorf("sample %d = %+v, want %+v", i, ctrl.samples[i], want[i])
		}
	}
}

func TestEdgeFilter_RetriesDebouncedEdge(t *testing.T) {
	ctrl := &fakeController{verdict: VerdictDebounced}
	f := newEdgeFilter(Thresholds{Enter: 1800, Exit: 2270})

	if v, ok := f.feed(ctrl, rawSample{BarrierOuter, 100}); !ok || v != VerdictDebounced {
		t.Fatalf("first blocked reading: verdict=%v forwarded=%v", v, ok)
	}

	ctrl.verdict = VerdictAccepted
	if _, ok := f.feed(ctrl, rawSample{BarrierOuter, 110}); !ok {
		t.Fatal("blocked reading after a debounced edge was not retried")
	}
	if _, ok := f.feed(ctrl, rawSample{BarrierOuter, 120}); ok {
		t.Fatal("repeated blocked reading after an accepted edge was forwarded")
	}
}
