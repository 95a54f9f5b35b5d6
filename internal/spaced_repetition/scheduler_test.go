package spaced_repetition

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/studybot/pkg/models"
)

var t0 = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func mustScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

func TestNewDefaults(t *testing.T) {
	s := mustScheduler(t, Config{})
	assert.Equal(t, DefaultMaxInterval, s.MaxInterval())
	assert.Equal(t, DefaultAccuracyWindow, s.accuracyWindow)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{MaxIntervalDays: -1})
	assert.Error(t, err)

	_, err = New(Config{AccuracyWindow: -3})
	assert.Error(t, err)
}

func TestAdvanceFreshCorrect(t *testing.T) {
	s := mustScheduler(t, Config{})

	got := s.Advance(nil, models.OutcomeCorrect, t0)

	assert.Equal(t, 1, got.Streak)
	assert.Equal(t, models.StatusReview, got.Status)
	assert.Equal(t, t0.Add(24*time.Hour), got.NextReviewAt)
	require.NotNil(t, got.LastStudiedAt)
	assert.Equal(t, t0, *got.LastStudiedAt)
	assert.Equal(t, 100, got.Accuracy)
}

func TestAdvanceFreshIncorrect(t *testing.T) {
	s := mustScheduler(t, Config{})

	got := s.Advance(nil, models.OutcomeIncorrect, t0)

	assert.Equal(t, 0, got.Streak)
	assert.Equal(t, models.StatusLearning, got.Status)
	assert.Equal(t, t0, got.NextReviewAt)
	assert.Equal(t, 0, got.Accuracy)
}

func TestAdvanceReachesMastery(t *testing.T) {
	s := mustScheduler(t, Config{})
	rec := &models.ProgressRecord{ItemID: "k1", Streak: 5, Status: models.StatusReview}

	got := s.Advance(rec, models.OutcomeCorrect, t0)

	assert.Equal(t, 6, got.Streak)
	assert.Equal(t, models.StatusMastered, got.Status)
	assert.Equal(t, t0.Add(32*24*time.Hour), got.NextReviewAt)
	assert.Equal(t, "k1", got.ItemID)
}

func TestAdvanceMasteryWithLowCap(t *testing.T) {
	s := mustScheduler(t, Config{MaxIntervalDays: 20})
	rec := &models.ProgressRecord{Streak: 5, Status: models.StatusReview}

	got := s.Advance(rec, models.OutcomeCorrect, t0)

	assert.Equal(t, t0.Add(20*24*time.Hour), got.NextReviewAt)
}

func TestAdvanceIncorrectResets(t *testing.T) {
	s := mustScheduler(t, Config{})
	rec := &models.ProgressRecord{Streak: 3, Status: models.StatusReview, NextReviewAt: t0.Add(96 * time.Hour)}

	got := s.Advance(rec, models.OutcomeIncorrect, t0)

	assert.Equal(t, 0, got.Streak)
	assert.Equal(t, models.StatusLearning, got.Status)
	assert.Equal(t, t0, got.NextReviewAt)
}

func TestAdvanceDoesNotMutateInput(t *testing.T) {
	s := mustScheduler(t, Config{})
	studied := t0.Add(-time.Hour)
	rec := &models.ProgressRecord{Streak: 2, Status: models.StatusReview, LastStudiedAt: &studied, RecentOutcomes: "11"}

	_ = s.Advance(rec, models.OutcomeIncorrect, t0)

	assert.Equal(t, 2, rec.Streak)
	assert.Equal(t, "11", rec.RecentOutcomes)
	assert.Equal(t, studied, *rec.LastStudiedAt)
}

func TestIntervalGrowthAndCap(t *testing.T) {
	s := mustScheduler(t, Config{})

	want := []int{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 365, 365}
	for streak, days := range want {
		assert.Equal(t, days, s.Interval(streak), "streak %d", streak)
	}
	assert.Equal(t, 365, s.Interval(64))
	assert.Equal(t, 365, s.Interval(1<<20))
}

func TestRecordStaysConsistentOverSequences(t *testing.T) {
	s := mustScheduler(t, Config{AccuracyWindow: 4})
	outcomes := []models.Outcome{
		models.OutcomeCorrect, models.OutcomeCorrect, models.OutcomeIncorrect,
		models.OutcomeCorrect, models.OutcomeCorrect, models.OutcomeCorrect,
		models.OutcomeCorrect, models.OutcomeCorrect, models.OutcomeCorrect,
		models.OutcomeCorrect, models.OutcomeIncorrect, models.OutcomeCorrect,
	}

	var rec *models.ProgressRecord
	now := t0
	for i, o := range outcomes {
		next := s.Advance(rec, o, now)

		assert.Equal(t, StatusFor(next.Streak), next.Status, "step %d", i)
		assert.Equal(t, next.Streak == 0, next.Status == models.StatusLearning, "step %d", i)
		assert.False(t, next.NextReviewAt.Before(*next.LastStudiedAt), "step %d", i)
		if o == models.OutcomeCorrect {
			assert.True(t, next.NextReviewAt.After(*next.LastStudiedAt), "step %d", i)
		} else {
			assert.Equal(t, now, next.NextReviewAt, "step %d", i)
		}
		assert.LessOrEqual(t, len(next.RecentOutcomes), 4)
		assert.GreaterOrEqual(t, next.Accuracy, 0)
		assert.LessOrEqual(t, next.Accuracy, 100)

		rec = &next
		now = now.Add(time.Hour)
	}
}

func TestAccuracyMovesWithOutcome(t *testing.T) {
	s := mustScheduler(t, Config{})
	rec := &models.ProgressRecord{Streak: 1, Status: models.StatusReview, RecentOutcomes: "1010", Accuracy: 50}

	up := s.Advance(rec, models.OutcomeCorrect, t0)
	down := s.Advance(rec, models.OutcomeIncorrect, t0)

	assert.Equal(t, 60, up.Accuracy)
	assert.Equal(t, 40, down.Accuracy)
}

func TestAccuracyWindowTrims(t *testing.T) {
	s := mustScheduler(t, Config{AccuracyWindow: 3})
	rec := &models.ProgressRecord{RecentOutcomes: "000"}

	got := s.Advance(rec, models.OutcomeCorrect, t0)

	assert.Equal(t, "001", got.RecentOutcomes)
	assert.Equal(t, 33, got.Accuracy)
}
