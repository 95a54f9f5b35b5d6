package quiz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/studybot/pkg/models"
)

var t0 = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

type fakeSource struct {
	due     []string
	records []models.ProgressRecord
	err     error
}

func (f *fakeSource) GetDueItems(_ context.Context, _ string, _ time.Time, limit int) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.due) > limit {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeSource) GetProgressSnapshot(context.Context, string) ([]models.ProgressRecord, error) {
	return f.records, nil
}

func items(s Session) []string {
	var ids []string
	for _, q := range s.Questions {
		ids = append(ids, q.ItemID)
	}
	return ids
}

func TestNewStaticCatalog(t *testing.T) {
	c := NewStaticCatalog([]string{"cat", " dog ", "", "cat", "bird", "  "})

	assert.Equal(t, []string{"cat", "dog", "bird"}, c.Items())
	assert.Equal(t, 3, c.Size())
}

func TestBuildDueFirstThenNew(t *testing.T) {
	source := &fakeSource{
		due: []string{"dog", "cat"},
		records: []models.ProgressRecord{
			{ItemID: "cat", Status: models.StatusLearning},
			{ItemID: "dog", Status: models.StatusLearning},
			{ItemID: "fish", Status: models.StatusReview, NextReviewAt: t0.Add(time.Hour)},
		},
	}
	catalog := NewStaticCatalog([]string{"cat", "dog", "fish", "bird", "cow", "ant"})

	session, err := NewBuilder(source, catalog).Build(context.Background(), "anna", t0, 4)

	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "cat", "bird", "cow"}, items(session))
	assert.Equal(t, 2, session.Due())
	assert.Equal(t, KindNew, session.Questions[2].Kind)
}

func TestBuildOnlyDueWhenFull(t *testing.T) {
	source := &fakeSource{due: []string{"a", "b", "c"}}

	session, err := NewBuilder(source, NewStaticCatalog([]string{"x"})).Build(context.Background(), "anna", t0, 2)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items(session))
}

func TestBuildWithoutCatalog(t *testing.T) {
	source := &fakeSource{due: []string{"a"}}

	session, err := NewBuilder(source, nil).Build(context.Background(), "anna", t0, 5)

	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, items(session))
}

func TestBuildZeroSize(t *testing.T) {
	session, err := NewBuilder(&fakeSource{due: []string{"a"}}, nil).Build(context.Background(), "anna", t0, 0)

	require.NoError(t, err)
	assert.Empty(t, session.Questions)
}

func TestBuildPropagatesErrors(t *testing.T) {
	source := &fakeSource{err: models.ErrStoreUnavailable}

	_, err := NewBuilder(source, nil).Build(context.Background(), "anna", t0, 5)

	assert.True(t, errors.Is(err, models.ErrStoreUnavailable))
}
