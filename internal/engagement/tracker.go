// Package engagement computes daily login streaks.
package engagement

import (
	"time"

	"cloud.google.com/go/civil"

	"github.com/example/studybot/internal/calendar"
	"github.com/example/studybot/pkg/models"
)

// AdvanceStreak returns the daily streak and last login date after a login on today.
//
// A same-day login changes nothing. A login on the following day extends the
// streak, a longer gap resets it to 1. A today earlier than last (clock skew)
// is treated as a same-day login.
func AdvanceStreak(last, today civil.Date, current int) (int, civil.Date) {
	if current < 1 {
		current = 1
	}

	diff := calendar.DaysBetween(today, last)
	switch {
	case diff <= 0:
		return current, last
	case diff == 1:
		return current + 1, today
	default:
		return 1, today
	}
}

// NewAccount returns the engagement state of a freshly registered account.
func NewAccount(id string, today civil.Date, now time.Time) models.Account {
	return models.Account{
		ID:            id,
		LastLoginDate: today,
		DailyStreak:   1,
		CreatedAt:     now,
	}
}

// Login applies AdvanceStreak to an account.
func Login(acc models.Account, today civil.Date) models.Account {
	acc.DailyStreak, acc.LastLoginDate = AdvanceStreak(acc.LastLoginDate, today, acc.DailyStreak)
	return acc
}
