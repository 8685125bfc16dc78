package us

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

// A session's daily bar is considered final at 20:05 ET.
const (
	settleHour   = 20
	settleMinute = 5
)

// AlpacaEndDate returns an end-date source for DailyBarGatherer backed by
// the Alpaca trading calendar.
func AlpacaEndDate(apiKey, apiSecret, baseURL string) func(context.Context) (time.Time, error) {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return func(ctx context.Context) (time.Time, error) {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		now := time.Now()
		calendar, err := client.GetCalendar(alpaca.GetCalendarRequest{
			Start: now.AddDate(0, 0, -7),
			End:   now,
		})
		if err != nil {
			return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
		}
		sessions := make([]string, 0, len(calendar))
		for _, d := range calendar {
			sessions = append(sessions, d.Date)
		}
		return LatestFinishedSession(sessions, now)
	}
}

// LatestFinishedSession picks the most recent session date (YYYY-MM-DD,
// ascending) whose bar has settled at now. Today's session counts only
// after 20:05 ET. The result is at UTC midnight.
func LatestFinishedSession(sessions []string, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)
	today := now.Format("2006-01-02")
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), settleHour, settleMinute, 0, 0, et)

	for i := len(sessions) - 1; i >= 0; i-- {
		s := sessions[i]
		if s > today || (s == today && !now.After(cutoff)) {
			continue
		}
		d, err := time.Parse("2006-01-02", s)
		if err != nil {
			continue
		}
		return d, nil
	}
	return time.Time{}, fmt.Errorf("no finished session among %d calendar days", len(sessions))
}
