package util

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCadence fires every Friday.
const DefaultCadence = "0 0 * * 5"

// CheckpointCalendar produces the dates a backtest evaluates on. The
// cadence is a standard five-field cron expression evaluated in UTC; only
// the calendar date of each firing is used.
type CheckpointCalendar struct {
	expr  string
	sched cron.Schedule
}

// NewCheckpointCalendar parses expr. An empty expr means DefaultCadence.
func NewCheckpointCalendar(expr string) (*CheckpointCalendar, error) {
	if expr == "" {
		expr = DefaultCadence
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cadence %q: %w", expr, err)
	}
	return &CheckpointCalendar{expr: expr, sched: sched}, nil
}

// Expr returns the cadence expression.
func (c *CheckpointCalendar) Expr() string { return c.expr }

// Between returns every checkpoint date in [start, end], ascending and
// de-duplicated, as UTC midnights.
func (c *CheckpointCalendar) Between(start, end time.Time) []time.Time {
	from := dateUTC(start)
	to := dateUTC(end)
	if to.Before(from) {
		return nil
	}

	var out []time.Time
	t := from.Add(-time.Second)
	for {
		t = c.sched.Next(t)
		if t.IsZero() {
			return out
		}
		d := dateUTC(t)
		if d.After(to) {
			return out
		}
		if len(out) == 0 || !out[len(out)-1].Equal(d) {
			out = append(out, d)
		}
		// Skip the rest of the day so intraday schedules yield one date.
		t = d.Add(24*time.Hour - time.Second)
	}
}

func dateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
