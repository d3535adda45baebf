package domain

import "time"

// PriorWeekPeriod returns the most recently completed week anchored on the
// given weekday (1 = Monday). The end bound is exclusive: a Monday anchor
// yields [Monday 00:00, next Monday 00:00) covering Monday through Sunday.
func PriorWeekPeriod(now time.Time, weekday int) (time.Time, time.Time) {
	anchor := time.Weekday(weekday % 7)

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	offset := (int(day.Weekday()) - int(anchor) + 7) % 7
	currentStart := day.AddDate(0, 0, -offset)

	start := currentStart.AddDate(0, 0, -7)
	return start, currentStart
}
