package bucket

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankfeeds/backend/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGranularityStart(t *testing.T) {
	wednesday := time.Date(2024, 7, 17, 14, 30, 0, 0, time.UTC)

	assert.Equal(t, day(2024, 7, 17), Daily.Start(wednesday))
	assert.Equal(t, day(2024, 7, 15), Weekly.Start(wednesday)) // Monday
	assert.Equal(t, day(2024, 7, 1), Monthly.Start(wednesday))

	// A Monday is its own week start; a Sunday belongs to the previous
	// Monday's week.
	assert.Equal(t, day(2024, 7, 15), Weekly.Start(day(2024, 7, 15)))
	assert.Equal(t, day(2024, 7, 15), Weekly.Start(day(2024, 7, 21)))
}

func TestGranularityNext(t *testing.T) {
	assert.Equal(t, day(2024, 7, 18), Daily.Next(day(2024, 7, 17)))
	assert.Equal(t, day(2024, 7, 22), Weekly.Next(day(2024, 7, 15)))
	assert.Equal(t, day(2024, 8, 1), Monthly.Next(day(2024, 7, 1)))
	assert.Equal(t, day(2025, 1, 1), Monthly.Next(day(2024, 12, 1)))
}

func TestWindows(t *testing.T) {
	windows := Daily.Windows(day(2024, 7, 17), day(2024, 7, 20))
	require.Len(t, windows, 3)
	assert.Equal(t, day(2024, 7, 17), windows[0].Start)
	assert.Equal(t, day(2024, 7, 18), windows[0].End)
	assert.Equal(t, day(2024, 7, 19), windows[2].Start)

	assert.Nil(t, Daily.Windows(day(2024, 7, 20), day(2024, 7, 20)))
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("weekly")
	require.NoError(t, err)
	assert.Equal(t, Weekly, g)

	g, err = ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, Daily, g)

	_, err = ParseGranularity("fortnightly")
	assert.Error(t, err)
}

func TestFitBucketBoundary(t *testing.T) {
	// Batch spans [day0, day2) but the bucket is [day0, day1):
	// the day1 transaction must not appear as a line, and its amount
	// comes off the declared closing balance.
	window := Window{Start: day(2024, 7, 1), End: day(2024, 7, 2)}
	stmt := models.ParsedStatement{
		BalanceStart: decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
		BalanceEnd:   decimal.NewNullDecimal(decimal.RequireFromString("130.00")),
		Transactions: []models.Transaction{
			{Date: day(2024, 7, 1).Add(9 * time.Hour), Amount: decimal.RequireFromString("10.00"), UniqueImportID: "in-bucket"},
			{Date: day(2024, 7, 2).Add(9 * time.Hour), Amount: decimal.RequireFromString("20.00"), UniqueImportID: "after-bucket"},
		},
	}

	fitted := Fit(stmt, window, time.UTC)
	require.Len(t, fitted.Transactions, 1)
	assert.Equal(t, "in-bucket", fitted.Transactions[0].UniqueImportID)

	// balance_end loses the out-of-bucket amount: 130 - 20 = 110
	assert.True(t, fitted.BalanceEnd.Decimal.Equal(decimal.RequireFromString("110.00")))
	// balance_start untouched
	assert.True(t, fitted.BalanceStart.Decimal.Equal(decimal.RequireFromString("100.00")))
	assert.Equal(t, window.Start, fitted.Date)
}

func TestFitPreBucketCarryOver(t *testing.T) {
	window := Window{Start: day(2024, 7, 2), End: day(2024, 7, 3)}
	stmt := models.ParsedStatement{
		BalanceStart: decimal.NewNullDecimal(decimal.RequireFromString("100.00")),
		Transactions: []models.Transaction{
			{Date: day(2024, 7, 1), Amount: decimal.RequireFromString("40.00"), UniqueImportID: "before"},
			{Date: day(2024, 7, 2), Amount: decimal.RequireFromString("-5.00"), UniqueImportID: "inside"},
		},
	}

	fitted := Fit(stmt, window, time.UTC)
	require.Len(t, fitted.Transactions, 1)
	assert.Equal(t, "inside", fitted.Transactions[0].UniqueImportID)

	// pre-bucket amount folds into the opening balance: 100 + 40 = 140
	assert.True(t, fitted.BalanceStart.Decimal.Equal(decimal.RequireFromString("140.00")))
}

func TestFitReportingTimezoneDecidesBucket(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	require.NoError(t, err)

	// 15:30 UTC on July 1 is July 2 in Sydney: under a Sydney reporting
	// timezone the transaction leaves the July 1 bucket.
	window := Window{Start: time.Date(2024, 7, 1, 0, 0, 0, 0, sydney), End: time.Date(2024, 7, 2, 0, 0, 0, 0, sydney)}
	stmt := models.ParsedStatement{
		Transactions: []models.Transaction{
			{Date: time.Date(2024, 7, 1, 15, 30, 0, 0, time.UTC), Amount: decimal.New(1, 0)},
		},
	}

	fitted := Fit(stmt, window, sydney)
	assert.Empty(t, fitted.Transactions)

	fittedUTC := Fit(stmt, Window{Start: day(2024, 7, 1), End: day(2024, 7, 2)}, time.UTC)
	assert.Len(t, fittedUTC.Transactions, 1)
}
