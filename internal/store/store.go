// Package store persists a history of terminal download jobs
// (completed, failed, cancelled) so the GET /api/downloads listing
// survives process restarts. Grounded on the teacher's
// internal/engine/state/state.go withTx/upsert pattern, scoped down to
// a single append-mostly table: no chunk or task state is ever
// persisted here, so it does not implement transfer resumption (a
// spec.md Non-goal).
package store

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/Sijosaju/multistream-downloader/internal/job"
)

// Record is one terminal job's history entry.
type Record struct {
	ID         string // uuid primary key, distinct from the job's externally-visible millisecond id (teacher's engine/state.go convention)
	JobID      string
	URL        string
	Filename   string
	OutputPath string
	Mode       string
	Status     string
	TotalSize  int64
	Downloaded int64
	DurationMs int64
	Error      string
	FinishedAt int64
}

// Store wraps a sqlite-backed history ledger. Safe for concurrent use.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS job_history (
			id          TEXT PRIMARY KEY,
			job_id      TEXT NOT NULL UNIQUE,
			url         TEXT NOT NULL,
			filename    TEXT,
			output_path TEXT,
			mode        TEXT,
			status      TEXT NOT NULL,
			total_size  INTEGER,
			downloaded  INTEGER,
			duration_ms INTEGER,
			error       TEXT,
			finished_at INTEGER
		)
	`)
	return err
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordJob upserts a terminal job's history entry, keyed by the job's
// externally-visible id (job_id), so re-recording the same job
// overwrites rather than duplicates.
func (s *Store) RecordJob(j *job.Job) error {
	rec := Record{
		ID:         uuid.New().String(),
		JobID:      j.ID,
		URL:        j.URL,
		Filename:   filepath.Base(j.OutputPath),
		OutputPath: j.OutputPath,
		Mode:       j.Mode.String(),
		Status:     j.Status().String(),
		TotalSize:  j.TotalSize,
		Downloaded: j.Downloaded.Load(),
		DurationMs: j.Elapsed().Milliseconds(),
		FinishedAt: j.EndTime.Unix(),
	}
	if err := j.Error(); err != nil {
		rec.Error = err.Error()
	}
	return s.Record(rec)
}

// Record upserts a history entry keyed by job_id.
func (s *Store) Record(rec Record) error {
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO job_history (
				id, job_id, url, filename, output_path, mode, status,
				total_size, downloaded, duration_ms, error, finished_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(job_id) DO UPDATE SET
				url = excluded.url,
				filename = excluded.filename,
				output_path = excluded.output_path,
				mode = excluded.mode,
				status = excluded.status,
				total_size = excluded.total_size,
				downloaded = excluded.downloaded,
				duration_ms = excluded.duration_ms,
				error = excluded.error,
				finished_at = excluded.finished_at
		`, rec.ID, rec.JobID, rec.URL, rec.Filename, rec.OutputPath, rec.Mode, rec.Status,
			rec.TotalSize, rec.Downloaded, rec.DurationMs, rec.Error, rec.FinishedAt)
		if err != nil {
			return fmt.Errorf("store: insert job history: %w", err)
		}
		return nil
	})
}

// List returns every recorded job, most recently finished first.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, job_id, url, filename, output_path, mode, status,
		       total_size, downloaded, duration_ms, error, finished_at
		FROM job_history ORDER BY finished_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.JobID, &r.URL, &r.Filename, &r.OutputPath, &r.Mode, &r.Status,
			&r.TotalSize, &r.Downloaded, &r.DurationMs, &r.Error, &r.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ByJobID returns the history entry for one job, or nil if not found.
func (s *Store) ByJobID(jobID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, job_id, url, filename, output_path, mode, status,
		       total_size, downloaded, duration_ms, error, finished_at
		FROM job_history WHERE job_id = ? ORDER BY finished_at DESC LIMIT 1
	`, jobID)

	var r Record
	err := row.Scan(&r.ID, &r.JobID, &r.URL, &r.Filename, &r.OutputPath, &r.Mode, &r.Status,
		&r.TotalSize, &r.Downloaded, &r.DurationMs, &r.Error, &r.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: by job id: %w", err)
	}
	return &r, nil
}
