package models

import (
	"time"

	"cloud.google.com/go/civil"
)

// Account holds the engagement fields of a learner account
type Account struct {
	ID            string     `json:"id" db:"id"`
	LastLoginDate civil.Date `json:"last_login_date" db:"last_login_date"`
	DailyStreak   int        `json:"daily_streak" db:"daily_streak"` // Always >= 1
	TotalXP       int64      `json:"total_xp" db:"total_xp"`
	Version       int64      `json:"version" db:"version"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}
