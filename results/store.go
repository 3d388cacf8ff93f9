// Package results keeps a history of benchmark runs in SQLite.
package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Run is one recorded benchmark execution
type Run struct {
	ID             string
	StartedAt      time.Time
	Problem        string
	Scaling        string
	Workers        int
	NumDofs        int
	Preconditioner string
	Iterations     int
	ResidualNorm   float64
	Converged      bool
	// Max over ranks, seconds
	Timings map[string]float64
}

// Store is a SQLite backed run history
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the database at path
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
	// Single writer
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at TEXT NOT NULL,
		problem TEXT NOT NULL,
		scaling TEXT NOT NULL,
		workers INTEGER NOT NULL,
		num_dofs INTEGER NOT NULL,
		preconditioner TEXT NOT NULL,
		iterations INTEGER NOT NULL,
		residual_norm REAL NOT NULL,
		converged INTEGER NOT NULL,
		timings JSON
	);

	CREATE INDEX IF NOT EXISTS idx_runs_problem ON runs(problem, workers);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Path returns the database file path
func (s *Store) Path() string { return s.path }

// Close closes the database connection
func (s *Store) Close() error { return s.db.Close() }

// Record inserts r, assigning an ID and start time when they are unset. The
// stored ID is returned.
func (s *Store) Record(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	timings, err := json.Marshal(r.Timings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal timings: %w", err)
	}
	converged := 0
	if r.Converged {
		converged = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, problem, scaling, workers, num_dofs,
			preconditioner, iterations, residual_norm, converged, timings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.StartedAt.UTC().Format(time.RFC3339Nano), r.Problem, r.Scaling, r.Workers, r.NumDofs,
		r.Preconditioner, r.Iterations, r.ResidualNorm, converged, string(timings))
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return r.ID, nil
}

// List returns every recorded run, oldest first
func (s *Store) List(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, problem, scaling, workers, num_dofs,
			preconditioner, iterations, residual_norm, converged, timings
		FROM runs
		ORDER BY started_at, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r         Run
			started   string
			converged int
			timings   sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &r.Problem, &r.Scaling, &r.Workers, &r.NumDofs,
			&r.Preconditioner, &r.Iterations, &r.ResidualNorm, &converged, &timings); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: bad start time %q: %w", r.ID, started, err)
		}
		r.Converged = converged != 0
		if timings.Valid && timings.String != "" {
			if err := json.Unmarshal([]byte(timings.String), &r.Timings); err != nil {
				return nil, fmt.Errorf("run %s: failed to unmarshal timings: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return out, nil
}
