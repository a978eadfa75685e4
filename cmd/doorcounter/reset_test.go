package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDailySchedule(t *testing.T) {
	s, err := parseDailySchedule("06:30", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 6, s.hour)
	assert.Equal(t, 30, s.minute)
	assert.Equal(t, "06:30 UTC", s.String())

	for _, bad := range []string{"", "6", "24:00", "12:60", "noon", "12:00:00"} {
		_, err := parseDailySchedule(bad, time.UTC)
		assert.Error(t, err, "%q", bad)
	}
}

func TestDailySchedule_Next(t *testing.T) {
	s, err := parseDailySchedule("00:00", time.UTC)
	require.NoError(t, err)

	evening := time.Date(2026, 5, 10, 21, 15, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC), s.next(evening))

	// Exactly at the reset time rolls to the next day.
	midnight := time.Date(2026, 5, 11, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 12, 0, 0, 0, 0, time.UTC), s.next(midnight))

	// Month boundary.
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), s.next(time.Date(2026, 5, 31, 8, 0, 0, 0, time.UTC)))
}

func TestDailySchedule_NextAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	s, err := parseDailySchedule("03:30", loc)
	require.NoError(t, err)

	// Clocks go forward in the night to 2026-03-29, so that day starts one
	// hour late and the gap between resets is 23 hours.
	first := s.next(time.Date(2026, 3, 28, 1, 0, 0, 0, loc))
	second := s.next(first)

	assert.Equal(t, 28, first.Day())
	assert.Equal(t, 29, second.Day())
	assert.Equal(t, 3, second.Hour())
	assert.Equal(t, 30, second.Minute())
	assert.Equal(t, 23*time.Hour, second.Sub(first))
}

func TestRunDailyReset_StopsOnCancel(t *testing.T) {
	s, err := parseDailySchedule("00:00", time.UTC)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runDailyReset(ctx, s, func(time.Time) { t.Error("reset fired unexpectedly") }, discardLogger())
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runDailyReset did not stop")
	}
}
