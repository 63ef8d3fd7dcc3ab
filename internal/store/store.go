// Package store provides a SQLite-backed registry of ingested courses and of
// every ingestion run. The vector index holds the chunks; this registry holds
// what was ingested, when, and whether it succeeded, so `chatedu status` can
// answer without scanning the index.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Course is one registered course partition.
type Course struct {
	// ID is the opaque course_id used to partition the vector index.
	ID string `json:"id"`
	// Name is a human-readable label, defaulting to the ID.
	Name string `json:"name"`
	// Dir is the directory the course documents were read from.
	Dir string `json:"dir,omitempty"`
	// Documents is the number of source files in the last successful run.
	Documents int `json:"documents"`
	// Chunks is the number of chunks written in the last successful run.
	Chunks int `json:"chunks"`
	// LastIngestedAt is when the last successful run finished.
	LastIngestedAt time.Time `json:"last_ingested_at"`
}

// Run is one ingestion attempt for a course.
type Run struct {
	// ID is assigned by RecordRun.
	ID int64 `json:"id"`
	// CourseID is the course that was ingested.
	CourseID string `json:"course_id"`
	// StartedAt and FinishedAt bound the run.
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Documents is the number of source files considered.
	Documents int `json:"documents"`
	// Chunks is the number of chunks produced.
	Chunks int `json:"chunks"`
	// Replace is true when the course's points were deleted first.
	Replace bool `json:"replace"`
	// OK reports whether every batch was written.
	OK bool `json:"ok"`
	// Error holds the failure cause, empty when OK.
	Error string `json:"error,omitempty"`
}

// Registry persists courses and ingestion runs.
// Implementations must be safe for concurrent use.
type Registry interface {
	// RecordRun persists r and, when r.OK, upserts the course summary.
	RecordRun(ctx context.Context, r Run, name, dir string) (int64, error)
	// Courses returns every registered course ordered by ID.
	Courses(ctx context.Context) ([]Course, error)
	// Course returns one course, or ErrNotFound.
	Course(ctx context.Context, id string) (Course, error)
	// RecentRuns returns the last n runs, newest first. An empty courseID
	// returns runs of every course.
	RecentRuns(ctx context.Context, courseID string, n int) ([]Run, error)
	// Close releases any resources held by the store.
	Close() error
}

// ErrNotFound is returned when a course is not registered.
var ErrNotFound = errors.New("store: course not found")

// SQLiteStore is a Registry backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ Registry = (*SQLiteStore)(nil)

// DefaultDBPath returns the default path for the registry database.
// It resolves to ~/.chatedu/chatedu.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".chatedu")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "chatedu.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Single connection: avoids SQLITE_BUSY and keeps ":memory:" one database.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS courses (
    id                TEXT    PRIMARY KEY,
    name              TEXT    NOT NULL,
    dir               TEXT    NOT NULL DEFAULT '',
    documents         INTEGER NOT NULL DEFAULT 0,
    chunks            INTEGER NOT NULL DEFAULT 0,
    last_ingested_at  INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE TABLE IF NOT EXISTS ingestion_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    course_id    TEXT    NOT NULL,
    started_at   INTEGER NOT NULL,
    finished_at  INTEGER NOT NULL,
    documents    INTEGER NOT NULL,
    chunks       INTEGER NOT NULL,
    replaced     INTEGER NOT NULL CHECK(replaced IN (0,1)),
    ok           INTEGER NOT NULL CHECK(ok IN (0,1)),
    error        TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_ingestion_runs_course_started
    ON ingestion_runs (course_id, started_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// RecordRun persists r and, when r.OK, upserts the course summary in the same
// transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, r Run, name, dir string) (int64, error) {
	if r.CourseID == "" {
		return 0, fmt.Errorf("store: record run: course id is required")
	}
	if name == "" {
		name = r.CourseID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: record run: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertRun = `
INSERT INTO ingestion_runs (course_id, started_at, finished_at, documents, chunks, replaced, ok, error)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insertRun,
		r.CourseID, r.StartedAt.Unix(), r.FinishedAt.Unix(), r.Documents, r.Chunks,
		boolToInt(r.Replace), boolToInt(r.OK), r.Error)
	if err != nil {
		return 0, fmt.Errorf("store: record run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: record run id: %w", err)
	}

	if r.OK {
		const upsertCourse = `
INSERT INTO courses (id, name, dir, documents, chunks, last_ingested_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    name = excluded.name,
    dir = excluded.dir,
    documents = excluded.documents,
    chunks = excluded.chunks,
    last_ingested_at = excluded.last_ingested_at`
		if _, err := tx.ExecContext(ctx, upsertCourse,
			r.CourseID, name, dir, r.Documents, r.Chunks, r.FinishedAt.Unix()); err != nil {
			return 0, fmt.Errorf("store: upsert course: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: record run: commit: %w", err)
	}
	return id, nil
}

// Courses returns every registered course ordered by ID.
func (s *SQLiteStore) Courses(ctx context.Context) ([]Course, error) {
	const q = `SELECT id, name, dir, documents, chunks, last_ingested_at FROM courses ORDER BY id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: courses: %w", err)
	}
	defer rows.Close()

	courses := []Course{}
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("store: courses scan: %w", err)
		}
		courses = append(courses, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: courses rows: %w", err)
	}
	return courses, nil
}

// Course returns one course, or ErrNotFound.
func (s *SQLiteStore) Course(ctx context.Context, id string) (Course, error) {
	const q = `SELECT id, name, dir, documents, chunks, last_ingested_at FROM courses WHERE id = ?`
	c, err := scanCourse(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, ErrNotFound
	}
	if err != nil {
		return Course{}, fmt.Errorf("store: course %q: %w", id, err)
	}
	return c, nil
}

// RecentRuns returns the last n runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, courseID string, n int) ([]Run, error) {
	const q = `
SELECT id, course_id, started_at, finished_at, documents, chunks, replaced, ok, error
FROM   ingestion_runs
WHERE  (? = '' OR course_id = ?)
ORDER  BY started_at DESC, id DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, courseID, courseID, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var started, finished int64
		var replace, ok int
		if err := rows.Scan(&r.ID, &r.CourseID, &started, &finished, &r.Documents, &r.Chunks, &replace, &ok, &r.Error); err != nil {
			return nil, fmt.Errorf("store: recent runs scan: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = time.Unix(finished, 0)
		r.Replace = replace == 1
		r.OK = ok == 1
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent runs rows: %w", err)
	}
	return runs, nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(r rowScanner) (Course, error) {
	var c Course
	var ts int64
	if err := r.Scan(&c.ID, &c.Name, &c.Dir, &c.Documents, &c.Chunks, &ts); err != nil {
		return Course{}, err
	}
	c.LastIngestedAt = time.Unix(ts, 0)
	return c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
