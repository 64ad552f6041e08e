package database

import (
	"database/sql"
	"fmt"
	"strings"

	"chatvault/internal/arc"
	"chatvault/internal/database/migrations"
	"chatvault/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRunStore implements arc.RunStore using SQLite.
type SQLiteRunStore struct {
	db    *sql.DB
	path  string
	clock arc.Clock
}

// NewSQLiteRunStore opens the database at path and applies pending
// migrations. path can be a file path or ":memory:". A nil clock uses wall
// time.
func NewSQLiteRunStore(path string, clock arc.Clock) (*SQLiteRunStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	st, err := migrations.Up(db)
	if err == nil {
		err = st.Err()
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database %s: %w", path, err)
	}
	return NewSQLiteRunStoreFromDB(db, path, clock), nil
}

// NewSQLiteRunStoreFromDB wraps an existing, already migrated connection.
func NewSQLiteRunStoreFromDB(db *sql.DB, path string, clock arc.Clock) *SQLiteRunStore {
	if clock == nil {
		clock = arc.RealClock{}
	}
	return &SQLiteRunStore{db: db, path: path, clock: clock}
}

// OpenConnection opens and configures a SQLite connection.
// path can be a file path or ":memory:" for an in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Run tracking

func (s *SQLiteRunStore) CreateRun(provider, operation, parameters string) (*model.ArchiveRun, error) {
	startedAt := s.clock.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO archive_runs (provider, operation, parameters, started_at, status) VALUES (?, ?, ?, ?, ?)`,
		provider, operation, parameters, startedAt, model.StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("creating archive run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading archive run id: %w", err)
	}
	return &model.ArchiveRun{
		ID:         id,
		Provider:   provider,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  startedAt,
		Status:     model.StatusRunning,
	}, nil
}

func (s *SQLiteRunStore) FinishRun(id int64, status string, c model.RunCounts) error {
	res, err := s.db.Exec(`
		UPDATE archive_runs SET
			finished_at = ?, status = ?,
			archived = ?, skipped = ?, rate_limited = ?, failed = ?,
			media_downloaded = ?, media_skipped = ?, media_failed = ?, media_bytes = ?,
			files_removed = ?, bytes_freed = ?
		WHERE id = ?`,
		s.clock.Now().UTC(), status,
		c.Archived, c.Skipped, c.RateLimited, c.Failed,
		c.MediaDownloaded, c.MediaSkipped, c.MediaFailed, c.MediaBytes,
		c.FilesRemoved, c.BytesFreed,
		id)
	if err != nil {
		return fmt.Errorf("finishing archive run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finishing archive run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("archive run %d: %w", id, arc.ErrNotFound)
	}
	return nil
}

func (s *SQLiteRunStore) ListRuns(limit int) ([]*model.ArchiveRun, error) {
	rows, err := s.db.Query(`
		SELECT id, provider, operation, parameters, started_at, finished_at, status,
			archived, skipped, rate_limited, failed,
			media_downloaded, media_skipped, media_failed, media_bytes,
			files_removed, bytes_freed
		FROM archive_runs
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing archive runs: %w", err)
	}
	defer rows.Close()

	result := []*model.ArchiveRun{}
	for rows.Next() {
		var r model.ArchiveRun
		c := &r.Counts
		if err := rows.Scan(&r.ID, &r.Provider, &r.Operation, &r.Parameters, &r.StartedAt, &r.FinishedAt, &r.Status,
			&c.Archived, &c.Skipped, &c.RateLimited, &c.Failed,
			&c.MediaDownloaded, &c.MediaSkipped, &c.MediaFailed, &c.MediaBytes,
			&c.FilesRemoved, &c.BytesFreed); err != nil {
			return nil, fmt.Errorf("scanning archive run: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing archive runs: %w", err)
	}
	return result, nil
}

func (s *SQLiteRunStore) MaxRunID() (int64, error) {
	var id sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(id) FROM archive_runs`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max archive run id: %w", err)
	}
	return id.Int64, nil
}

// Path returns the database file path.
func (s *SQLiteRunStore) Path() string {
	return s.path
}

// CheckMigrations verifies the archive_runs schema is at the embedded
// version.
func (s *SQLiteRunStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteRunStore) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteRunStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time check that SQLiteRunStore implements arc.RunStore
var _ arc.RunStore = (*SQLiteRunStore)(nil)
