// Package store persists screening runs and per-study decisions in SQLite so
// interrupted runs can resume and past runs can be queried.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"litreview/internal/logging"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// Store is a SQLite-backed run and decision log.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Run is one invocation of a pipeline stage.
type Run struct {
	ID         string
	Kind       string // screen, dedup
	Framework  string
	Provider   string
	Model      string
	StartedAt  time.Time
	FinishedAt time.Time
	Total      int
	Status     string
}

// Decision is the stored outcome for one study in one framework.
type Decision struct {
	StudyID    string
	Framework  string
	RunID      string
	Decision   string
	Confidence string
	ReasonCode string
	Failed     bool
	Payload    []byte // full JSON result
	ScreenedAt time.Time
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; workers serialize through the pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("Opened store %s", path)
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		framework TEXT DEFAULT '',
		provider TEXT DEFAULT '',
		model TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME,
		total INTEGER DEFAULT 0,
		status TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind);

	CREATE TABLE IF NOT EXISTS decisions (
		study_id TEXT NOT NULL,
		framework TEXT NOT NULL,
		run_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		confidence TEXT DEFAULT '',
		reason_code TEXT DEFAULT '',
		failed INTEGER DEFAULT 0,
		payload TEXT,
		screened_at DATETIME NOT NULL,
		PRIMARY KEY (study_id, framework)
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_run ON decisions(run_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return RunMigrations(s.db)
}

// Path returns the database path.
func (s *Store) Path() string { return s.dbPath }

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// StartRun records a new run in the running state.
func (s *Store) StartRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, kind, framework, provider, model, started_at, status) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Kind, r.Framework, r.Provider, r.Model, r.StartedAt.UTC(), StatusRunning)
	if err != nil {
		return fmt.Errorf("start run %s: %w", r.ID, err)
	}
	logging.StoreDebug("Run %s started (%s %s)", r.ID, r.Kind, r.Framework)
	return nil
}

// FinishRun sets the final status and record count.
func (s *Store) FinishRun(ctx context.Context, runID, status string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, total = ?, finished_at = ? WHERE run_id = ?`,
		status, total, time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// GetRun loads one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, kind, framework, provider, model, started_at, finished_at, total, status FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// ListRuns returns runs of the given kind, newest first. Empty kind lists all.
func (s *Store) ListRuns(ctx context.Context, kind string) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT run_id, kind, framework, provider, model, started_at, finished_at, total, status FROM runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_at DESC, run_id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r        Run
		finished sql.NullTime
	)
	if err := sc.Scan(&r.ID, &r.Kind, &r.Framework, &r.Provider, &r.Model, &r.StartedAt, &finished, &r.Total, &r.Status); err != nil {
		return nil, err
	}
	if finished.Valid {
		r.FinishedAt = finished.Time
	}
	return &r, nil
}

// SaveDecision upserts the decision for (study, framework).
func (s *Store) SaveDecision(ctx context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.ScreenedAt.IsZero() {
		d.ScreenedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (study_id, framework, run_id, decision, confidence, reason_code, failed, payload, screened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(study_id, framework) DO UPDATE SET
			run_id = excluded.run_id,
			decision = excluded.decision,
			confidence = excluded.confidence,
			reason_code = excluded.reason_code,
			failed = excluded.failed,
			payload = excluded.payload,
			screened_at = excluded.screened_at`,
		d.StudyID, d.Framework, d.RunID, d.Decision, d.Confidence, d.ReasonCode, d.Failed, string(d.Payload), d.ScreenedAt.UTC())
	if err != nil {
		logging.StoreError("Save decision %s failed: %v", d.StudyID, err)
		return fmt.Errorf("save decision %s: %w", d.StudyID, err)
	}
	return nil
}

// CompletedIDs returns the studies with a successful decision for framework.
// Failed calls are not counted so a resumed run retries them.
func (s *Store) CompletedIDs(ctx context.Context, framework string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT study_id FROM decisions WHERE framework = ? AND failed = 0`, framework)
	if err != nil {
		return nil, fmt.Errorf("completed ids: %w", err)
	}
	defer rows.Close()

	done := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		done[id] = true
	}
	return done, rows.Err()
}

// Decisions returns every stored decision for framework ordered by study ID.
func (s *Store) Decisions(ctx context.Context, framework string) ([]Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT study_id, framework, run_id, decision, confidence, reason_code, failed, payload, screened_at
		FROM decisions WHERE framework = ? ORDER BY study_id`, framework)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var out []Decision
	for rows.Next() {
		var (
			d       Decision
			payload sql.NullString
		)
		if err := rows.Scan(&d.StudyID, &d.Framework, &d.RunID, &d.Decision, &d.Confidence, &d.ReasonCode, &d.Failed, &payload, &d.ScreenedAt); err != nil {
			return nil, err
		}
		if payload.Valid {
			d.Payload = []byte(payload.String)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DecisionCounts tallies decisions by label for framework.
func (s *Store) DecisionCounts(ctx context.Context, framework string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT decision, COUNT(*) FROM decisions WHERE framework = ? GROUP BY decision`, framework)
	if err != nil {
		return nil, fmt.Errorf("decision counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			label string
			n     int
		)
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}
