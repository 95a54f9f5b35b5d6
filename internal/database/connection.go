package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/example/studybot/internal/config"
	"github.com/example/studybot/pkg/models"
)

// Connect opens the configured database and makes sure the schema exists
func Connect(cfg config.Database) (*sqlx.DB, error) {
	driver := "sqlite3"
	dsn := cfg.DSN
	if cfg.Type == "postgres" {
		driver = "postgres"
	} else if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		// Create data directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", storeErr(err))
	}

	if driver == "sqlite3" {
		// SQLite doesn't support multiple writers
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// initializeSchema creates necessary tables if they don't exist.
// The statements are valid for both SQLite and PostgreSQL.
func initializeSchema(db *sqlx.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS progress (
			learner_id TEXT NOT NULL,
			item_id TEXT NOT NULL,
			status TEXT NOT NULL,
			streak INTEGER NOT NULL DEFAULT 0,
			next_review_at BIGINT NOT NULL,
			last_studied_at BIGINT,
			accuracy INTEGER NOT NULL DEFAULT 0,
			recent_outcomes TEXT NOT NULL DEFAULT '',
			version BIGINT NOT NULL DEFAULT 1,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (learner_id, item_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_due ON progress (learner_id, next_review_at)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			last_login_date TEXT NOT NULL,
			daily_streak INTEGER NOT NULL DEFAULT 1,
			total_xp BIGINT NOT NULL DEFAULT 0,
			version BIGINT NOT NULL DEFAULT 1,
			created_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", storeErr(err))
		}
	}
	return nil
}

// storeErr marks a driver error as a storage failure
func storeErr(err error) error {
	if err == nil || errors.Is(err, models.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return n, nil
}
