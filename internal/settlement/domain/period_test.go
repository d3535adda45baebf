package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPriorWeekPeriodMidweek(t *testing.T) {
	// Wednesday June 11 2025, Monday anchor: prior week is Mon Jun 2
	// through Mon Jun 9 exclusive.
	now := time.Date(2025, 6, 11, 15, 30, 0, 0, time.UTC)

	start, end := PriorWeekPeriod(now, 1)

	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), end)
	assert.Equal(t, time.Monday, start.Weekday())
}

func TestPriorWeekPeriodOnAnchorDay(t *testing.T) {
	// Running on the anchor Monday itself still settles the week that
	// just closed, not the one starting today.
	now := time.Date(2025, 6, 9, 6, 0, 0, 0, time.UTC)

	start, end := PriorWeekPeriod(now, 1)

	assert.Equal(t, time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), end)
}

func TestPriorWeekPeriodSundayAnchor(t *testing.T) {
	now := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)

	start, end := PriorWeekPeriod(now, 7)

	assert.Equal(t, time.Sunday, start.Weekday())
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC), end)
}

func TestPriorWeekPeriodSpansExactlySevenDays(t *testing.T) {
	for day := 1; day <= 14; day++ {
		now := time.Date(2025, 6, day, 12, 0, 0, 0, time.UTC)
		start, end := PriorWeekPeriod(now, 1)
		assert.Equal(t, 7*24*time.Hour, end.Sub(start), "day %d", day)
		assert.True(t, end.Before(now), "day %d: end %s not before now %s", day, end, now)
	}
}

func TestClassifyWithinEpsilonIsUnchanged(t *testing.T) {
	prev := decimal.RequireFromString("100.00")

	assert.Equal(t, ChangeUnchanged, Classify(prev, decimal.RequireFromString("100.00")))
	assert.Equal(t, ChangeUnchanged, Classify(prev, decimal.RequireFromString("100.01")))
	assert.Equal(t, ChangeUnchanged, Classify(prev, decimal.RequireFromString("99.99")))
}

func TestClassifyBeyondEpsilon(t *testing.T) {
	prev := decimal.RequireFromString("100.00")

	assert.Equal(t, ChangeIncreased, Classify(prev, decimal.RequireFromString("100.02")))
	assert.Equal(t, ChangeDecreased, Classify(prev, decimal.RequireFromString("99.98")))
	assert.Equal(t, ChangeIncreased, Classify(prev, decimal.RequireFromString("250")))
}
