package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"rms-pricing-scraper/utils"
)

//go:embed schema/*.sql
var schemaFS embed.FS

var (
	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrRunFinalized is returned when a run already left the running state.
	ErrRunFinalized = errors.New("storage: run already finalized")
)

// Store is the relational store shared by every run. All SQL it issues is
// portable between PostgreSQL (lib/pq) and SQLite (modernc), which lets the
// same queries serve production and local/test databases.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database, waits for it to answer, and applies the
// schema for the driver ("postgres" or "sqlite").
func Open(ctx context.Context, driver, dsn string, retry *utils.RetryConfig) (*Store, error) {
	schemaFile, err := schemaFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: open: %w", driver, err)
	}
	if driver == "sqlite" {
		// Each sqlite connection to ":memory:" is its own database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if retry == nil {
		retry = &utils.RetryConfig{MaxAttempts: 1}
	}
	err = retry.Do(ctx, driver+"-ping", func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: ping: %w", driver, err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx, schemaFile); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: migrate: %w", driver, err)
	}
	return s, nil
}

func schemaFor(driver string) (string, error) {
	switch driver {
	case "postgres":
		return "schema/postgres.sql", nil
	case "sqlite":
		return "schema/sqlite.sql", nil
	default:
		return "", fmt.Errorf("storage: unsupported driver %q", driver)
	}
}

func (s *Store) migrate(ctx context.Context, file string) error {
	ddl, err := schemaFS.ReadFile(file)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(ddl))
	return err
}

// DB exposes the underlying handle, e.g. for seeding in tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name in use.
func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Close() error {
	return s.db.Close()
}
