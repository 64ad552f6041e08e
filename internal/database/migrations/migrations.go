// Package migrations embeds the archive_runs schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

// Status is where a run-history database stands against the embedded
// schema. Current is 0 when no migration has been applied.
type Status struct {
	Current uint
	Latest  uint
	Dirty   bool
}

// Err explains why the schema cannot be used, nil when it is current.
func (s Status) Err() error {
	switch {
	case s.Dirty:
		return fmt.Errorf("archive_runs schema is dirty at version %d: a previous migration failed", s.Current)
	case s.Current == 0:
		return fmt.Errorf("archive_runs schema is missing (latest is version %d)", s.Latest)
	case s.Current < s.Latest:
		return fmt.Errorf("archive_runs schema is at version %d, latest is %d", s.Current, s.Latest)
	case s.Current > s.Latest:
		return fmt.Errorf("archive_runs schema version %d is newer than this binary supports (%d)", s.Current, s.Latest)
	}
	return nil
}

// Inspect reads the schema version of db without changing it.
func Inspect(db *sql.DB) (Status, error) {
	var st Status
	err := withMigrate(db, func(m *migrate.Migrate, latest uint) error {
		st.Latest = latest
		return readVersion(m, &st)
	})
	return st, err
}

// Check returns the Status error of db, or the error reading it.
func Check(db *sql.DB) error {
	st, err := Inspect(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// Up applies pending migrations and returns the resulting status. Running it
// on a current database is a no-op.
func Up(db *sql.DB) (Status, error) {
	var st Status
	err := withMigrate(db, func(m *migrate.Migrate, latest uint) error {
		st.Latest = latest
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("migrating archive_runs schema: %w", err)
		}
		return readVersion(m, &st)
	})
	return st, err
}

func readVersion(m *migrate.Migrate, st *Status) error {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading archive_runs schema version: %w", err)
	}
	st.Current, st.Dirty = v, dirty
	return nil
}

// withMigrate runs fn with a migrate instance over db and the highest
// embedded version. The instance is not closed: closing it would close db,
// which the caller owns.
func withMigrate(db *sql.DB, fn func(m *migrate.Migrate, latest uint) error) error {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	latest, err := latestVersion(src)
	if err != nil {
		src.Close()
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return fmt.Errorf("opening migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return fmt.Errorf("opening migration driver: %w", err)
	}
	return fn(m, latest)
}

// latestVersion walks the source to its last migration; Next fails past it.
func latestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
