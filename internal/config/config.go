// Package config loads runtime settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Значения по умолчанию
const (
	DefaultDatabasePath          = "data/studybot.db"
	DefaultMaxIntervalDays       = 365
	DefaultAccuracyWindow        = 10
	DefaultReviewXP              = 10
	DefaultReconcileInterval     = 10 * time.Minute
	DefaultNotificationStartHour = 4
	DefaultNotificationEndHour   = 18
	DefaultSessionSize           = 20
)

// Config is the complete application configuration
type Config struct {
	Database   Database
	Telegram   Telegram
	SRS        SRS
	Engagement Engagement
	Jobs       Jobs
	// Path to an .xlsx or .csv file listing study item ids
	CatalogFile string
	LogMode     string
}

// Database selects the storage driver
type Database struct {
	Type string // "sqlite" or "postgres"
	DSN  string
}

// Telegram configures the chat transport
type Telegram struct {
	Token    string
	AdminIDs map[int64]bool
}

// SRS configures the review scheduler
type SRS struct {
	MaxIntervalDays int
	AccuracyWindow  int
}

// Engagement configures streaks and experience rewards
type Engagement struct {
	Location *time.Location
	ReviewXP int64
}

// Jobs configures background work
type Jobs struct {
	ReconcileInterval     time.Duration
	NotificationStartHour int
	NotificationEndHour   int
	SessionSize           int
}

// Load reads .env (if present) and the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Database: Database{
			Type: strings.ToLower(getEnv("DB_TYPE", "sqlite")),
			DSN:  getEnv("DATABASE_URL", DefaultDatabasePath),
		},
		Telegram: Telegram{
			Token:    os.Getenv("TELEGRAM_BOT_TOKEN"),
			AdminIDs: parseIDs(os.Getenv("ADMIN_USER_IDS")),
		},
		SRS: SRS{
			MaxIntervalDays: getInt("SRS_MAX_INTERVAL_DAYS", DefaultMaxIntervalDays, 1, 36500),
			AccuracyWindow:  getInt("SRS_ACCURACY_WINDOW", DefaultAccuracyWindow, 1, 1000),
		},
		Engagement: Engagement{
			ReviewXP: int64(getInt("REVIEW_XP", DefaultReviewXP, 0, 1000)),
		},
		Jobs: Jobs{
			ReconcileInterval:     getDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
			NotificationStartHour: getInt("NOTIFICATION_START_HOUR", DefaultNotificationStartHour, 0, 23),
			NotificationEndHour:   getInt("NOTIFICATION_END_HOUR", DefaultNotificationEndHour, 0, 23),
			SessionSize:           getInt("SESSION_SIZE", DefaultSessionSize, 1, 500),
		},
		CatalogFile: os.Getenv("CATALOG_FILE"),
		LogMode:     getEnv("LOG_MODE", "dev"),
	}

	switch cfg.Database.Type {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.Database.Type)
	}

	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	cfg.Engagement.Location = loc

	return cfg, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getInt reads an integer in [min, max], falling back to def on bad input
func getInt(key string, def, min, max int) int {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < min || v > max {
		log.Printf("Warning: invalid %s=%q, using %d", key, s, def)
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, s, def)
		return def
	}
	return d
}

func parseIDs(s string) map[int64]bool {
	ids := make(map[int64]bool)
	if s == "" {
		return ids
	}
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			log.Printf("Warning: Invalid admin user ID: %s", part)
			continue
		}
		ids[id] = true
	}
	return ids
}
