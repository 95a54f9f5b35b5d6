package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jmoiron/sqlx"

	"github.com/example/studybot/pkg/models"
)

const accountColumns = `id, last_login_date, daily_streak, total_xp, version, created_at`

type accountRow struct {
	ID            string `db:"id"`
	LastLoginDate string `db:"last_login_date"`
	DailyStreak   int    `db:"daily_streak"`
	TotalXP       int64  `db:"total_xp"`
	Version       int64  `db:"version"`
	CreatedAt     int64  `db:"created_at"`
}

func (r accountRow) account() (models.Account, error) {
	date, err := civil.ParseDate(r.LastLoginDate)
	if err != nil {
		return models.Account{}, fmt.Errorf("%w: account %s has bad login date %q", models.ErrStoreUnavailable, r.ID, r.LastLoginDate)
	}
	return models.Account{
		ID:            r.ID,
		LastLoginDate: date,
		DailyStreak:   r.DailyStreak,
		TotalXP:       r.TotalXP,
		Version:       r.Version,
		CreatedAt:     time.UnixMilli(r.CreatedAt).UTC(),
	}, nil
}

// AccountFunc computes the next engagement state of an account
type AccountFunc = func(current models.Account) (models.Account, error)

// AccountRepository handles database operations for accounts.
//
// Engagement fields (streak, last login) and experience points are written
// independently: Update never touches total_xp and AddXP never takes the
// account lock.
type AccountRepository struct {
	db    *sqlx.DB
	locks *KeyLock
}

// NewAccountRepository creates a new repository instance
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db, locks: NewKeyLock()}
}

// Get returns an account by ID or models.ErrNotFound
func (r *AccountRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	var row accountRow
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM accounts WHERE id = ?`)
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", storeErr(err))
	}
	acc, err := row.account()
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Create inserts a new account, failing with models.ErrAlreadyExists if the id is taken
func (r *AccountRepository) Create(ctx context.Context, acc models.Account) (models.Account, error) {
	query := r.db.Rebind(`
		INSERT INTO accounts (id, last_login_date, daily_streak, total_xp, version, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (id) DO NOTHING
	`)
	res, err := r.db.ExecContext(ctx, query,
		acc.ID,
		acc.LastLoginDate.String(),
		acc.DailyStreak,
		acc.TotalXP,
		acc.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return acc, fmt.Errorf("failed to create account: %w", storeErr(err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return acc, err
	}
	if n == 0 {
		return acc, fmt.Errorf("account %s: %w", acc.ID, models.ErrAlreadyExists)
	}
	acc.Version = 1
	return acc, nil
}

// Update applies fn to the stored account and saves its engagement fields
func (r *AccountRepository) Update(ctx context.Context, id string, fn AccountFunc) (models.Account, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := r.Get(ctx, id)
		if err != nil {
			return models.Account{}, err
		}

		next, err := fn(*current)
		if err != nil {
			return models.Account{}, err
		}

		query := r.db.Rebind(`
			UPDATE accounts SET
				last_login_date = ?,
				daily_streak = ?,
				version = version + 1
			WHERE id = ? AND version = ?
		`)
		res, err := r.db.ExecContext(ctx, query, next.LastLoginDate.String(), next.DailyStreak, id, current.Version)
		if err != nil {
			return next, fmt.Errorf("failed to update account: %w", storeErr(err))
		}
		n, err := rowsAffected(res)
		if err != nil {
			return next, err
		}
		if n == 0 {
			if attempt < maxUpdateAttempts {
				continue
			}
			return next, fmt.Errorf("account %s: %w", id, models.ErrVersionConflict)
		}

		next.ID = id
		next.Version = current.Version + 1
		next.TotalXP = current.TotalXP
		return next, nil
	}
}

// AddXP atomically adds delta experience points to an account
func (r *AccountRepository) AddXP(ctx context.Context, id string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("experience delta %d must not be negative", delta)
	}
	query := r.db.Rebind(`UPDATE accounts SET total_xp = total_xp + ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("failed to add experience: %w", storeErr(err))
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// List returns all accounts ordered by creation time
func (r *AccountRepository) List(ctx context.Context) ([]models.Account, error) {
	var rows []accountRow
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", storeErr(err))
	}

	accounts := make([]models.Account, 0, len(rows))
	for _, row := range rows {
		acc, err := row.account()
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}
