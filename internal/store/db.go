// Package store is graphmem's local SQLite journal. It records every
// episode submitted through graphmem and keeps named custom type sets so
// they can be reused across add calls.
//
// Two drivers are supported: the pure-Go modernc driver (registered as
// "sqlite", the default) and the cgo mattn driver ("sqlite3").
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"graphmem/internal/logging"
)

// Driver names as registered with database/sql.
const (
	DriverModernc = "sqlite"
	DriverMattn   = "sqlite3"
)

// Store owns the journal database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	driver string
}

// OpenDB opens a SQLite database with graphmem's connection settings.
// An empty driver selects DriverModernc. The path ":memory:" is allowed.
func OpenDB(driver, path string) (*sql.DB, error) {
	if driver == "" {
		driver = DriverModernc
	}
	if driver != DriverModernc && driver != DriverMattn {
		return nil, fmt.Errorf("unsupported sqlite driver %q (want %s or %s)", driver, DriverModernc, DriverMattn)
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	return db, nil
}

// Open opens (or creates) the journal at path.
func Open(driver, path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.Open")
	defer timer.Stop()

	db, err := OpenDB(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == "" {
		driver = DriverModernc
	}

	s := &Store{db: db, dbPath: path, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Journal opened at %s (driver=%s)", path, driver)
	return s, nil
}

// DB exposes the underlying handle so other stores can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		group_id TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL,
		source_description TEXT NOT NULL DEFAULT '',
		body_size INTEGER NOT NULL DEFAULT 0,
		type_set TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_group ON episodes(group_id);
	CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(status);
	CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at);

	CREATE TABLE IF NOT EXISTS type_sets (
		name TEXT PRIMARY KEY,
		definition TEXT NOT NULL,
		entity_count INTEGER NOT NULL DEFAULT 0,
		edge_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}
