package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSampleLine(t *testing.T) {
	tests := []struct {
		line    string
		want    rawSample
		ok      bool
		wantErr bool
	}{
		{line: "O 1234", want: rawSample{BarrierOuter, 1234}, ok: true},
		{line: "inner\t0", want: rawSample{BarrierInner, 0}, ok: true},
		{line: "i,2300", want: rawSample{BarrierInner, 2300}, ok: true},
		{line: "outer: 4095\r", want: rawSample{BarrierOuter, 4095}, ok: true},
		{line: "o -5", want: rawSample{BarrierOuter, -5}, ok: true},
		{line: "", ok: false},
		{line: "   ", ok: false},
		{line: "# boot v1.2", ok: false},
		{line: "O", wantErr: true},
		{line: "O 12 34", wantErr: true},
		{line: "X 100", wantErr: true},
		{line: "O high", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok, err := parseSampleLine(tt.line)
			if tt.wantErr {
				assert.Error(t, err)
				assert.False(t, ok)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestReadSerialSamples(t *testing.T) {
	input := strings.Join([]string{
		"# doorway sensor ready",
		"O 100",
		"garbage",
		"I 200",
		"",
		"o 4000",
	}, "\n")

	samples := make(chan rawSample, 8)
	readErr := make(chan error, 1)
	go readSerialSamples(strings.NewReader(input), samples, readErr, discardLogger())

	var got []rawSample
	for len(got) < 3 {
		select {
		case s := <-samples:
			got = append(got, s)
		case <-time.After(time.Second):
			t.Fatalf("timeout, got %v", got)
		}
	}

	assert.Equal(t, []rawSample{
		{BarrierOuter, 100},
		{BarrierInner, 200},
		{BarrierOuter, 4000},
	}, got)
	assert.ErrorIs(t, <-readErr, io.EOF)
}

func TestSerialLevelStream_CountsOneCrossing(t *testing.T) {
	cfg := testDaemonConfig(t)
	cfg.Matcher.Delivery = string(DeliveryQueued)
	d := startTestDaemon(t, cfg)

	// A sensor that reports its level on every reading, several times per
	// state, for one person walking in.
	lines := []string{
		"O 100", "O 120", "O 90",
		"I 100", "I 110",
		"O 4000", "O 3990",
		"I 4000", "I 4050", "I 4010",
	}
	samples := make(chan rawSample, len(lines))
	for _, line := range lines {
		s, ok, err := parseSampleLine(line)
		require.NoError(t, err)
		require.True(t, ok)
		samples <- s
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- runSampleLoop(ctx, newEdgeFilter(cfg.ToEngineConfig().Thresholds), samples, make(chan error), d) }()

	inc := d.Engine().IncrementWorker()
	require.Eventually(t, func() bool { return d.Count() == 1 }, 2*time.Second, time.Millisecond)
	dec := d.Engine().DecrementWorker()
	require.Eventually(t, func() bool {
		return inc.Status().Processed == 4 && dec.Status().Processed == 4
	}, time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), inc.Status().Matches)
	assert.Zero(t, inc.Status().Glitches)
	assert.Zero(t, dec.Status().Matches)
	st := d.Status(context.Background())
	assert.Equal(t, uint64(2), st.Barriers["outer"].Accepted)
	assert.Equal(t, uint64(2), st.Barriers["inner"].Accepted)

	cancel()
	assert.NoError(t, <-done)
}
