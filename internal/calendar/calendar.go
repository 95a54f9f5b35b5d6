// Package calendar holds the date arithmetic shared by the review scheduler
// and the engagement tracker.
package calendar

import (
	"time"

	"cloud.google.com/go/civil"
)

// Day is the fixed length of one scheduling interval step.
const Day = 24 * time.Hour

// Today returns the calendar date of now in loc. A nil loc means UTC.
func Today(now time.Time, loc *time.Location) civil.Date {
	if loc == nil {
		loc = time.UTC
	}
	return civil.DateOf(now.In(loc))
}

// DaysBetween returns the number of calendar days from last to today.
// It is negative when today precedes last.
//
// The difference is taken on dates, never on instants, so two logins on the
// same local day count as zero even across a DST switch.
func DaysBetween(today, last civil.Date) int {
	return today.DaysSince(last)
}

// AddDays moves t forward by n whole scheduling days.
func AddDays(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * Day)
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (civil.Date, error) {
	return civil.ParseDate(s)
}
