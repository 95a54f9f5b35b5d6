package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the mastery stage of a study item
type Status string

const (
	// StatusNew is never persisted: an item without a record is new
	StatusNew      Status = "new"
	StatusLearning Status = "learning"
	StatusReview   Status = "review"
	StatusMastered Status = "mastered"
)

// Outcome is the result of a single review
type Outcome int

const (
	OutcomeCorrect Outcome = iota + 1
	OutcomeIncorrect
)

// ParseOutcome converts user input into an Outcome
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "correct", "1", "true", "yes":
		return OutcomeCorrect, nil
	case "incorrect", "0", "false", "no":
		return OutcomeIncorrect, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidOutcome, s)
}

// Valid reports whether o is one of the known outcomes
func (o Outcome) Valid() bool {
	return o == OutcomeCorrect || o == OutcomeIncorrect
}

func (o Outcome) String() string {
	switch o {
	case OutcomeCorrect:
		return "correct"
	case OutcomeIncorrect:
		return "incorrect"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ProgressRecord tracks a learner's mastery of one study item
type ProgressRecord struct {
	LearnerID      string     `json:"learner_id" db:"learner_id"`
	ItemID         string     `json:"item_id" db:"item_id"`
	Status         Status     `json:"status" db:"status"`
	Streak         int        `json:"streak" db:"streak"`                   // Consecutive correct reviews
	NextReviewAt   time.Time  `json:"next_review_at" db:"next_review_at"`   // Earliest time the item is due
	LastStudiedAt  *time.Time `json:"last_studied_at" db:"last_studied_at"` // nil before the first review
	Accuracy       int        `json:"accuracy" db:"accuracy"`               // 0-100 over the trailing window
	RecentOutcomes string     `json:"recent_outcomes" db:"recent_outcomes"` // '1' correct, '0' incorrect, oldest first
	Version        int64      `json:"version" db:"version"`                 // 0 until first persisted
}

// IsDue reports whether the item may be reviewed at now
func (r ProgressRecord) IsDue(now time.Time) bool {
	return !r.NextReviewAt.After(now)
}
