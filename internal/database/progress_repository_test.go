package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/studybot/pkg/models"
)

var t0 = time.Date(2024, 6, 15, 10, 0, 0, 123_000_000, time.UTC)

// bump is a minimal stand-in for a correct review
func bump(current *models.ProgressRecord) (models.ProgressRecord, error) {
	next := models.ProgressRecord{Status: models.StatusReview, NextReviewAt: t0}
	if current != nil {
		next = *current
	}
	next.Streak++
	next.Status = models.StatusReview
	studied := t0
	next.LastStudiedAt = &studied
	return next, nil
}

func TestProgressGetAbsent(t *testing.T) {
	repo := NewProgressRepository(openTestDB(t))

	rec, err := repo.Get(context.Background(), "learner", "missing")

	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestProgressUpdateCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressRepository(openTestDB(t))

	first, err := repo.Update(ctx, "learner", "kanji-1", bump)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, 1, first.Streak)

	second, err := repo.Update(ctx, "learner", "kanji-1", bump)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 2, second.Streak)

	stored, err := repo.Get(ctx, "learner", "kanji-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, second, *stored)
}

func TestProgressRoundTripsFields(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressRepository(openTestDB(t))
	studied := t0
	rec := models.ProgressRecord{
		LearnerID:      "learner",
		ItemID:         "vocab-7",
		Status:         models.StatusMastered,
		Streak:         6,
		NextReviewAt:   t0.Add(32 * 24 * time.Hour),
		LastStudiedAt:  &studied,
		Accuracy:       83,
		RecentOutcomes: "110111",
	}

	saved, err := repo.Upsert(ctx, rec)
	require.NoError(t, err)

	got, err := repo.Get(ctx, "learner", "vocab-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved, *got)
	assert.True(t, got.NextReviewAt.Equal(rec.NextReviewAt))
	assert.True(t, got.LastStudiedAt.Equal(studied))
}

func TestProgressUpsertVersionConflict(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressRepository(openTestDB(t))

	saved, err := repo.Update(ctx, "learner", "kana-a", bump)
	require.NoError(t, err)

	_, err = repo.Upsert(ctx, saved)
	require.NoError(t, err)

	// saved now carries a stale version
	_, err = repo.Upsert(ctx, saved)
	assert.True(t, errors.Is(err, models.ErrVersionConflict))

	fresh := saved
	fresh.Version = 0
	_, err = repo.Upsert(ctx, fresh)
	assert.True(t, errors.Is(err, models.ErrVersionConflict))
}

func TestProgressNeverPersistsNew(t *testing.T) {
	repo := NewProgressRepository(openTestDB(t))

	_, err := repo.Upsert(context.Background(), models.ProgressRecord{LearnerID: "l", ItemID: "i", Status: models.StatusNew})

	assert.Error(t, err)
}

func TestProgressScanAllIsPerLearner(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressRepository(openTestDB(t))
	for _, id := range []string{"c", "a", "b"} {
		_, err := repo.Update(ctx, "alice", id, bump)
		require.NoError(t, err)
	}
	_, err := repo.Update(ctx, "bob", "z", bump)
	require.NoError(t, err)

	records, err := repo.ScanAll(ctx, "alice")
	require.NoError(t, err)

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ItemID)
		assert.Equal(t, "alice", r.LearnerID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestProgressConcurrentUpdatesSameKey(t *testing.T) {
	ctx := context.Background()
	repo := NewProgressRepository(openTestDB(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.Update(ctx, "learner", "hot", bump)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := repo.Get(ctx, "learner", "hot")
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Streak)
	assert.Equal(t, int64(20), rec.Version)
	assert.Equal(t, 0, repo.locks.size())
}

func TestProgressConcurrentWritersWithoutSharedLock(t *testing.T) {
	// Two repositories over one database behave like two processes:
	// they only agree through the version stamp.
	ctx := context.Background()
	db := openTestDB(t)
	tabs := []*ProgressRepository{NewProgressRepository(db), NewProgressRepository(db)}

	var wg sync.WaitGroup
	for _, repo := range tabs {
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(repo *ProgressRepository) {
				defer wg.Done()
				_, err := repo.Update(ctx, "learner", "shared", bump)
				assert.NoError(t, err)
			}(repo)
		}
	}
	wg.Wait()

	rec, err := tabs[0].Get(ctx, "learner", "shared")
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Streak)
}

func TestProgressUpdatePropagatesFuncError(t *testing.T) {
	repo := NewProgressRepository(openTestDB(t))
	boom := errors.New("boom")

	_, err := repo.Update(context.Background(), "learner", "x", func(*models.ProgressRecord) (models.ProgressRecord, error) {
		return models.ProgressRecord{}, boom
	})

	assert.ErrorIs(t, err, boom)
}

func TestProgressClosedStoreIsUnavailable(t *testing.T) {
	db := openTestDB(t)
	repo := NewProgressRepository(db)
	require.NoError(t, db.Close())

	_, err := repo.Get(context.Background(), "learner", "x")
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))

	_, err = repo.ScanAll(context.Background(), "learner")
	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
}
