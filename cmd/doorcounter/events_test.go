package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBarrier(t *testing.T) {
	tests := []struct {
		in      string
		want    Barrier
		wantErr bool
	}{
		{"outer", BarrierOuter, false},
		{"OUTER", BarrierOuter, false},
		{" o ", BarrierOuter, false},
		{"inner", BarrierInner, false},
		{"I", BarrierInner, false},
		{"middle", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseBarrier(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewClassifiedEvent(t *testing.T) {
	for _, ev := range []ClassifiedEvent{OuterEnter, OuterExit, InnerEnter, InnerExit} {
		got, ok := NewClassifiedEvent(ev.Barrier(), ev.Edge())
		require.True(t, ok, ev.String())
		assert.Equal(t, ev, got)
	}

	_, ok := NewClassifiedEvent(BarrierOuter, EdgeNone)
	assert.False(t, ok, "dead zone has no event")

	_, ok = NewClassifiedEvent(numBarriers, EdgeEnter)
	assert.False(t, ok, "unknown barrier has no event")
}

func TestHypotheses(t *testing.T) {
	assert.Equal(t, "<OUTER_ENTER, INNER_ENTER, OUTER_EXIT, INNER_EXIT>", IncrementHypothesis.String())
	assert.Equal(t, "<INNER_ENTER, OUTER_ENTER, INNER_EXIT, OUTER_EXIT>", DecrementHypothesis.String())

	// The patterns must not share a first step or one worker would shadow
	// the other on every crossing.
	assert.NotEqual(t, IncrementHypothesis[0], DecrementHypothesis[0])
}
