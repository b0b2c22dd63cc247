package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const currentVersion = 1

// Timestamps are stored fixed-width in UTC so that text comparison in SQL
// matches chronological order.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB

	// notifyMu orders snapshot reads and their delivery to subscribers.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	listeners map[listenerKey]map[int]*listener
	nextID    int
}

// New opens (or creates) the SQLite database at dbPath and runs migrations.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1)

	// Configure pragmas.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, listeners: make(map[listenerKey]map[int]*listener)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewMemory creates an in-memory store for testing.
func NewMemory() (*Store, error) {
	return New(":memory:")
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var version int
	err := s.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := s.migrateV1(); err != nil {
			return err
		}
	}

	_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	return err
}

func (s *Store) migrateV1() error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS day_cache (
		user_id       TEXT NOT NULL,
		date          TEXT NOT NULL,
		payload       TEXT,
		last_updated  TEXT NOT NULL,
		PRIMARY KEY (user_id, date)
	);

	CREATE INDEX IF NOT EXISTS idx_day_cache_updated ON day_cache(last_updated);

	CREATE TABLE IF NOT EXISTS streak_state (
		user_id         TEXT PRIMARY KEY,
		current_streak  INTEGER NOT NULL DEFAULT 0,
		best_streak     INTEGER NOT NULL DEFAULT 0,
		updated_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS food_entries (
		user_id          TEXT NOT NULL,
		date             TEXT NOT NULL,
		meal             TEXT NOT NULL,
		entry_key        TEXT NOT NULL,
		food_id          TEXT NOT NULL DEFAULT '',
		name             TEXT NOT NULL DEFAULT '',
		localized_names  TEXT NOT NULL DEFAULT '{}',
		calories         REAL NOT NULL DEFAULT 0,
		protein          REAL NOT NULL DEFAULT 0,
		carbs            REAL NOT NULL DEFAULT 0,
		fat              REAL NOT NULL DEFAULT 0,
		quantity         REAL NOT NULL DEFAULT 0,
		unit             TEXT NOT NULL DEFAULT 'g',
		category         TEXT NOT NULL DEFAULT '',
		logged_at        TEXT NOT NULL,
		PRIMARY KEY (user_id, date, meal, entry_key)
	);

	CREATE INDEX IF NOT EXISTS idx_food_entries_day ON food_entries(user_id, date);

	CREATE TABLE IF NOT EXISTS settings (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO settings (key, value) VALUES
		('daily_calorie_goal', '2000'),
		('language',           'en');
	`
	_, err := s.db.Exec(ddl)
	return err
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

// DefaultDBPath returns ~/.config/platelog/cache.db
func DefaultDBPath() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "platelog", "cache.db"), nil
}

// DefaultLogDBPath returns ~/.config/platelog/log.db, the offline log store.
func DefaultLogDBPath() (string, error) {
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "platelog", "log.db"), nil
}
