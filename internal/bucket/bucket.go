// Package bucket groups continuously-polled transactions into
// calendar-aligned periods and hosts the polling scheduler.
package bucket

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bankfeeds/backend/internal/models"
	"github.com/bankfeeds/backend/internal/normalize"
)

// Granularity is the calendar alignment of statement buckets.
type Granularity string

const (
	Daily   Granularity = "daily"
	Weekly  Granularity = "weekly"  // Monday-aligned
	Monthly Granularity = "monthly" // 1st-aligned
)

// ParseGranularity validates a configured granularity value.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case Daily, Weekly, Monthly:
		return Granularity(s), nil
	case "":
		return Daily, nil
	}
	return "", fmt.Errorf("unknown bucket granularity %q", s)
}

// Start returns the bucket boundary at or before t: midnight of the same
// day, the most recent Monday, or the first of the month.
func (g Granularity) Start(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch g {
	case Weekly:
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case Monthly:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
	default:
		return day
	}
}

// Next steps from one bucket start to the next, normalized to midnight.
func (g Granularity) Next(start time.Time) time.Time {
	switch g {
	case Weekly:
		return start.AddDate(0, 0, 7)
	case Monthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

// Window is one half-open bucket interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the reporting-timezone day of t falls inside
// the window.
func (w Window) Contains(day time.Time) bool {
	return !day.Before(w.Start) && day.Before(w.End)
}

// Windows splits [since, until) into bucket-aligned sub-windows starting
// at Start(since). Each sub-window is fetched and merged on its own so
// memory stays bounded and balance carry-over works per bucket.
func (g Granularity) Windows(since, until time.Time) []Window {
	if !since.Before(until) {
		return nil
	}
	var windows []Window
	for start := g.Start(since); start.Before(until); start = g.Next(start) {
		windows = append(windows, Window{Start: start, End: g.Next(start)})
	}
	return windows
}

// Fit restricts a fetched statement to one bucket window. Providers
// return fixed fetch windows larger than the bucket, so the batch may
// carry transactions dated outside it: those before the bucket are
// folded into the opening balance, those at or past the bucket end are
// taken off the declared closing balance, and neither kind becomes a
// statement line.
func Fit(stmt models.ParsedStatement, w Window, reporting *time.Location) models.ParsedStatement {
	fitted := stmt
	fitted.Transactions = nil
	fitted.Date = w.Start

	startAdj := decimal.Zero
	endAdj := decimal.Zero
	for _, tx := range stmt.Transactions {
		day := normalize.ReportingDate(tx.Date, reporting)
		switch {
		case day.Before(w.Start):
			startAdj = startAdj.Add(tx.Amount)
		case !day.Before(w.End):
			endAdj = endAdj.Add(tx.Amount)
		default:
			fitted.Transactions = append(fitted.Transactions, tx)
		}
	}

	if fitted.BalanceStart.Valid && !startAdj.IsZero() {
		fitted.BalanceStart = decimal.NewNullDecimal(fitted.BalanceStart.Decimal.Add(startAdj))
	}
	if fitted.BalanceEnd.Valid && !endAdj.IsZero() {
		fitted.BalanceEnd = decimal.NewNullDecimal(fitted.BalanceEnd.Decimal.Sub(endAdj))
	}
	return fitted
}
