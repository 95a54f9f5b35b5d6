package dueindex

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/studybot/pkg/models"
)

var t0 = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func rec(itemID string, due time.Time) models.ProgressRecord {
	return models.ProgressRecord{ItemID: itemID, NextReviewAt: due, Status: models.StatusReview, Streak: 1}
}

func TestDueBeforeOrdersAndFilters(t *testing.T) {
	x := New()
	x.Upsert(rec("c", t0.Add(-time.Hour)))
	x.Upsert(rec("a", t0.Add(-2*time.Hour)))
	x.Upsert(rec("b", t0))
	x.Upsert(rec("d", t0.Add(time.Second)))

	assert.Equal(t, []string{"a", "c", "b"}, x.DueBefore(t0, 10))
	assert.Equal(t, []string{"a", "c"}, x.DueBefore(t0, 2))
	assert.Empty(t, x.DueBefore(t0.Add(-3*time.Hour), 10))
	assert.Nil(t, x.DueBefore(t0, 0))
	assert.Equal(t, 3, x.CountDue(t0))
}

func TestDueBeforeBreaksTiesByItemID(t *testing.T) {
	x := New()
	for _, id := range []string{"kanji-9", "kana-2", "kanji-1", "vocab-3"} {
		x.Upsert(rec(id, t0))
	}

	assert.Equal(t, []string{"kana-2", "kanji-1", "kanji-9", "vocab-3"}, x.DueBefore(t0, 10))
}

func TestUpsertMovesExistingEntry(t *testing.T) {
	x := New()
	x.Upsert(rec("a", t0.Add(-time.Hour)))
	x.Upsert(rec("a", t0.Add(48*time.Hour)))
	x.Upsert(rec("a", t0.Add(48*time.Hour)))

	assert.Equal(t, 1, x.Len())
	assert.Empty(t, x.DueBefore(t0, 10))
	assert.Equal(t, []string{"a"}, x.DueBefore(t0.Add(48*time.Hour), 10))
}

func TestRebuildMatchesIncremental(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	incremental := New()
	final := make(map[string]models.ProgressRecord)

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("item-%d", rnd.Intn(500))
		r := rec(id, t0.Add(time.Duration(rnd.Intn(20_000)-10_000)*time.Minute))
		incremental.Upsert(r)
		final[id] = r
	}

	snapshot := make([]models.ProgressRecord, 0, len(final))
	for _, r := range final {
		snapshot = append(snapshot, r)
	}
	rebuilt := New()
	rebuilt.Rebuild(snapshot)

	require.NoError(t, incremental.Verify(snapshot))
	require.NoError(t, rebuilt.Verify(snapshot))
	for _, q := range []time.Duration{-10_000 * time.Minute, -time.Hour, 0, time.Hour, 10_000 * time.Minute} {
		for _, limit := range []int{1, 20, 1000} {
			assert.Equal(t, incremental.DueBefore(t0.Add(q), limit), rebuilt.DueBefore(t0.Add(q), limit))
		}
	}
}

func TestVerifyReportsMismatch(t *testing.T) {
	x := New()
	x.Upsert(rec("a", t0))
	x.Upsert(rec("ghost", t0))

	err := x.Verify([]models.ProgressRecord{rec("a", t0.Add(time.Minute)), rec("b", t0)})

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrIndexInconsistency))
	assert.Contains(t, err.Error(), "ghost")
	assert.Contains(t, err.Error(), "b")
}

func TestDueBeforeMatchesBruteForce(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	records := make([]models.ProgressRecord, 0, 10_000)
	for i := 0; i < 10_000; i++ {
		offset := time.Duration(rnd.Int63n(int64(60*24*time.Hour))) - 30*24*time.Hour
		records = append(records, rec(fmt.Sprintf("item-%05d", i), t0.Add(offset).Truncate(time.Second)))
	}
	x := New()
	x.Rebuild(records)

	brute := make([]models.ProgressRecord, 0)
	for _, r := range records {
		if !r.NextReviewAt.After(t0) {
			brute = append(brute, r)
		}
	}
	sort.Slice(brute, func(i, j int) bool {
		if !brute[i].NextReviewAt.Equal(brute[j].NextReviewAt) {
			return brute[i].NextReviewAt.Before(brute[j].NextReviewAt)
		}
		return brute[i].ItemID < brute[j].ItemID
	})
	want := make([]string, 0, 20)
	for _, r := range brute[:20] {
		want = append(want, r.ItemID)
	}

	assert.Equal(t, want, x.DueBefore(t0, 20))
	assert.Equal(t, len(brute), x.CountDue(t0))
}

func BenchmarkDueBefore(b *testing.B) {
	x := New()
	for i := 0; i < 100_000; i++ {
		x.Upsert(rec(fmt.Sprintf("item-%06d", i), t0.Add(time.Duration(i-50_000)*time.Minute)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = x.DueBefore(t0, 20)
	}
}
