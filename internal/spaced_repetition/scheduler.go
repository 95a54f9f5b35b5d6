package spaced_repetition

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/example/studybot/internal/calendar"
	"github.com/example/studybot/pkg/models"
)

const (
	// MasteryStreak is the streak an item must exceed to count as mastered
	MasteryStreak = 5
	// DefaultMaxInterval caps the review interval at one year
	DefaultMaxInterval = 365
	// DefaultAccuracyWindow is the number of recent outcomes accuracy is computed over
	DefaultAccuracyWindow = 10
)

// Config configures a Scheduler. Zero values mean defaults.
type Config struct {
	// Максимальный интервал повторения в днях
	MaxIntervalDays int
	// Сколько последних ответов учитывается в точности
	AccuracyWindow int
}

// Scheduler maps a review outcome to the next progress state.
// It performs no I/O and never mutates its input.
type Scheduler struct {
	maxInterval    int
	accuracyWindow int
}

// New creates a Scheduler, filling zero-valued fields with defaults
func New(cfg Config) (*Scheduler, error) {
	maxInterval := cfg.MaxIntervalDays
	if maxInterval == 0 {
		maxInterval = DefaultMaxInterval
	}
	if maxInterval < 1 {
		return nil, fmt.Errorf("max interval %d must be at least one day", maxInterval)
	}

	window := cfg.AccuracyWindow
	if window == 0 {
		window = DefaultAccuracyWindow
	}
	if window < 1 {
		return nil, fmt.Errorf("accuracy window %d must be positive", window)
	}

	return &Scheduler{
		maxInterval:    maxInterval,
		accuracyWindow: window,
	}, nil
}

// MaxInterval returns the interval cap in days
func (s *Scheduler) MaxInterval() int {
	return s.maxInterval
}

// Advance applies outcome to rec at now and returns the new record.
// A nil rec is an item that was never studied; it starts as Learning with a
// zero streak before the outcome is applied.
func (s *Scheduler) Advance(rec *models.ProgressRecord, outcome models.Outcome, now time.Time) models.ProgressRecord {
	next := models.ProgressRecord{Status: models.StatusLearning}
	if rec != nil {
		next = *rec
	}

	if outcome == models.OutcomeCorrect {
		next.Streak++
		next.Status = StatusFor(next.Streak)
		next.NextReviewAt = calendar.AddDays(now, s.Interval(next.Streak))
	} else {
		// Ошибка: сбрасываем серию и повторяем сразу
		next.Streak = 0
		next.Status = models.StatusLearning
		next.NextReviewAt = now
	}

	studied := now
	next.LastStudiedAt = &studied
	next.RecentOutcomes = s.pushOutcome(next.RecentOutcomes, outcome)
	next.Accuracy = Accuracy(next.RecentOutcomes)

	return next
}

// Interval returns the review interval in days for a streak: 1, 2, 4, 8...
// capped at the configured maximum.
func (s *Scheduler) Interval(streak int) int {
	if streak <= 0 {
		return 0
	}
	exp := streak - 1
	if exp >= 30 || 1<<exp >= s.maxInterval {
		return s.maxInterval
	}
	return 1 << exp
}

// StatusFor returns the status implied by a streak
func StatusFor(streak int) models.Status {
	switch {
	case streak > MasteryStreak:
		return models.StatusMastered
	case streak > 0:
		return models.StatusReview
	default:
		return models.StatusLearning
	}
}

// Accuracy returns the rounded percentage of correct outcomes in history
func Accuracy(history string) int {
	if history == "" {
		return 0
	}
	correct := strings.Count(history, "1")
	return int(math.Round(100 * float64(correct) / float64(len(history))))
}

func (s *Scheduler) pushOutcome(history string, outcome models.Outcome) string {
	mark := "0"
	if outcome == models.OutcomeCorrect {
		mark = "1"
	}
	history += mark
	if len(history) > s.accuracyWindow {
		history = history[len(history)-s.accuracyWindow:]
	}
	return history
}
