// Package store provides SQLite storage for zones, counting events and
// detection records.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ayusman/headcount/internal/persist"
)

// busy_timeout lets API readers wait out the persist writer instead of
// failing with SQLITE_BUSY.
const pragmas = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store represents a SQLite database connection.
type Store struct {
	db   *sql.DB
	path string
}

// New creates a new Store with the given database path.
// It opens the database connection and applies pending migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+pragmas)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RecordEvent stores one zone crossing.
func (s *Store) RecordEvent(ctx context.Context, e persist.Event) error {
	_, err := s.Events().Insert(ctx, e)
	return err
}

// RecordDetection stores one tracked box.
func (s *Store) RecordDetection(ctx context.Context, d persist.DetectionRecord) error {
	_, err := s.Detections().Insert(ctx, d)
	return err
}

// GetZone returns the zone named name, or ErrNotFound.
func (s *Store) GetZone(ctx context.Context, name string) (*Zone, error) {
	return s.Zones().GetByName(ctx, name)
}
