package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// dailySchedule is a wall-clock time of day, evaluated in loc.
type dailySchedule struct {
	hour   int
	minute int
	loc    *time.Location
}

// parseDailySchedule parses "HH:MM" (24h).
func parseDailySchedule(s string, loc *time.Location) (dailySchedule, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation("15:04", s, loc)
	if err != nil {
		return dailySchedule{}, fmt.Errorf("parse reset time %q (want HH:MM): %w", s, err)
	}
	return dailySchedule{hour: t.Hour(), minute: t.Minute(), loc: loc}, nil
}

// next returns the first occurrence strictly after t. Building the candidate
// with time.Date keeps it on the wall-clock time across DST changes.
func (d dailySchedule) next(t time.Time) time.Time {
	lt := t.In(d.loc)
	candidate := time.Date(lt.Year(), lt.Month(), lt.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !candidate.After(lt) {
		candidate = time.Date(lt.Year(), lt.Month(), lt.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return candidate
}

func (d dailySchedule) String() string {
	return fmt.Sprintf("%02d:%02d %s", d.hour, d.minute, d.loc)
}

// runDailyReset calls reset at every occurrence of sched until ctx is
// canceled.
func runDailyReset(ctx context.Context, sched dailySchedule, reset func(at time.Time), logger *slog.Logger) error {
	for {
		at := sched.next(time.Now())
		logger.Debug("next scheduled count reset", "at", at)

		timer := time.NewTimer(time.Until(at))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case fired := <-timer.C:
			reset(fired)
		}
	}
}
