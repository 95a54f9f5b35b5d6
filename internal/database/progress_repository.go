package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/studybot/pkg/models"
)

// maxUpdateAttempts bounds compare-and-swap retries against other processes
const maxUpdateAttempts = 16

const progressColumns = `learner_id, item_id, status, streak, next_review_at, last_studied_at,
	accuracy, recent_outcomes, version`

// progressRow is the stored form of models.ProgressRecord
type progressRow struct {
	LearnerID      string        `db:"learner_id"`
	ItemID         string        `db:"item_id"`
	Status         string        `db:"status"`
	Streak         int           `db:"streak"`
	NextReviewAt   int64         `db:"next_review_at"`
	LastStudiedAt  sql.NullInt64 `db:"last_studied_at"`
	Accuracy       int           `db:"accuracy"`
	RecentOutcomes string        `db:"recent_outcomes"`
	Version        int64         `db:"version"`
}

func (r progressRow) record() models.ProgressRecord {
	rec := models.ProgressRecord{
		LearnerID:      r.LearnerID,
		ItemID:         r.ItemID,
		Status:         models.Status(r.Status),
		Streak:         r.Streak,
		NextReviewAt:   time.UnixMilli(r.NextReviewAt).UTC(),
		Accuracy:       r.Accuracy,
		RecentOutcomes: r.RecentOutcomes,
		Version:        r.Version,
	}
	if r.LastStudiedAt.Valid {
		t := time.UnixMilli(r.LastStudiedAt.Int64).UTC()
		rec.LastStudiedAt = &t
	}
	return rec
}

// UpdateFunc computes the next record from the current one (nil when absent)
type UpdateFunc = func(current *models.ProgressRecord) (models.ProgressRecord, error)

// ProgressRepository stores one progress record per learner and item.
//
// Writes use a version stamp: a write only lands if the stored version still
// matches the one it was computed from. Update additionally serializes
// read-modify-write cycles per key within the process.
type ProgressRepository struct {
	db    *sqlx.DB
	locks *KeyLock
	now   func() time.Time
}

// NewProgressRepository creates a new repository instance
func NewProgressRepository(db *sqlx.DB) *ProgressRepository {
	return &ProgressRepository{
		db:    db,
		locks: NewKeyLock(),
		now:   time.Now,
	}
}

// Get returns the record for an item, or nil if the item was never studied
func (r *ProgressRepository) Get(ctx context.Context, learnerID, itemID string) (*models.ProgressRecord, error) {
	var row progressRow
	query := r.db.Rebind(`SELECT ` + progressColumns + ` FROM progress WHERE learner_id = ? AND item_id = ?`)
	err := r.db.GetContext(ctx, &row, query, learnerID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get progress: %w", storeErr(err))
	}
	rec := row.record()
	return &rec, nil
}

// Upsert writes rec if the stored version still equals rec.Version
// (0 meaning "no record yet") and returns it with the new version.
// It fails with models.ErrVersionConflict when another writer got there first.
func (r *ProgressRepository) Upsert(ctx context.Context, rec models.ProgressRecord) (models.ProgressRecord, error) {
	if rec.Status == models.StatusNew || rec.Status == "" {
		return rec, fmt.Errorf("refusing to persist item %q without a studied status", rec.ItemID)
	}

	var lastStudied sql.NullInt64
	if rec.LastStudiedAt != nil {
		lastStudied = sql.NullInt64{Int64: rec.LastStudiedAt.UnixMilli(), Valid: true}
	}
	updatedAt := r.now().UnixMilli()

	var (
		res sql.Result
		err error
	)
	if rec.Version == 0 {
		query := r.db.Rebind(`
			INSERT INTO progress (
				learner_id, item_id, status, streak, next_review_at, last_studied_at,
				accuracy, recent_outcomes, version, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
			ON CONFLICT (learner_id, item_id) DO NOTHING
		`)
		res, err = r.db.ExecContext(ctx, query,
			rec.LearnerID,
			rec.ItemID,
			string(rec.Status),
			rec.Streak,
			rec.NextReviewAt.UnixMilli(),
			lastStudied,
			rec.Accuracy,
			rec.RecentOutcomes,
			updatedAt,
		)
	} else {
		query := r.db.Rebind(`
			UPDATE progress SET
				status = ?,
				streak = ?,
				next_review_at = ?,
				last_studied_at = ?,
				accuracy = ?,
				recent_outcomes = ?,
				version = version + 1,
				updated_at = ?
			WHERE learner_id = ? AND item_id = ? AND version = ?
		`)
		res, err = r.db.ExecContext(ctx, query,
			string(rec.Status),
			rec.Streak,
			rec.NextReviewAt.UnixMilli(),
			lastStudied,
			rec.Accuracy,
			rec.RecentOutcomes,
			updatedAt,
			rec.LearnerID,
			rec.ItemID,
			rec.Version,
		)
	}
	if err != nil {
		return rec, fmt.Errorf("failed to save progress: %w", storeErr(err))
	}

	n, err := rowsAffected(res)
	if err != nil {
		return rec, err
	}
	if n == 0 {
		return rec, fmt.Errorf("item %q at version %d: %w", rec.ItemID, rec.Version, models.ErrVersionConflict)
	}

	rec.Version++
	return rec, nil
}

// Update atomically applies fn to the current record of an item and stores
// the result. On a version conflict fn is re-run against the fresh record.
//
// When the write fails the record computed by fn is still returned together
// with the error, so the caller can keep it.
func (r *ProgressRepository) Update(ctx context.Context, learnerID, itemID string, fn UpdateFunc) (models.ProgressRecord, error) {
	unlock := r.locks.Lock(learnerID + "\x00" + itemID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := r.Get(ctx, learnerID, itemID)
		if err != nil {
			return models.ProgressRecord{}, err
		}

		next, err := fn(current)
		if err != nil {
			return models.ProgressRecord{}, err
		}
		next.LearnerID = learnerID
		next.ItemID = itemID
		next.Version = 0
		if current != nil {
			next.Version = current.Version
		}

		saved, err := r.Upsert(ctx, next)
		if errors.Is(err, models.ErrVersionConflict) && attempt < maxUpdateAttempts {
			continue
		}
		return saved, err
	}
}

// ScanAll returns every record of a learner ordered by item id.
// It is meant for index rebuilds and statistics, not for the review path.
func (r *ProgressRepository) ScanAll(ctx context.Context, learnerID string) ([]models.ProgressRecord, error) {
	var rows []progressRow
	query := r.db.Rebind(`SELECT ` + progressColumns + ` FROM progress WHERE learner_id = ? ORDER BY item_id`)
	if err := r.db.SelectContext(ctx, &rows, query, learnerID); err != nil {
		return nil, fmt.Errorf("failed to scan progress: %w", storeErr(err))
	}

	records := make([]models.ProgressRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}
