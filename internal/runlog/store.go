// Package runlog persists the history of speech engine runs in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattjoyce/voxbridge/internal/supervisor"
)

// Fixed-width so that started_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one row of process_runs.
type Run struct {
	ID         string     `json:"id"`
	PID        int        `json:"pid"`
	Executable string     `json:"executable"`
	Args       []string   `json:"args"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Killed     bool       `json:"killed"`
	LastError  string     `json:"last_error,omitempty"`
}

// Store implements supervisor.RunRecorder.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ supervisor.RunRecorder = (*Store)(nil)

func (s *Store) RecordStart(ctx context.Context, runID string, pid int, spec supervisor.Spec, startedAt time.Time) error {
	args, err := json.Marshal(spec.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	if args == nil || string(args) == "null" {
		args = []byte("[]")
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO process_runs(id, pid, executable, args, started_at)
VALUES(?, ?, ?, ?, ?);`,
		runID, pid, spec.Executable, string(args), startedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) RecordExit(ctx context.Context, info supervisor.ExitInfo, endedAt time.Time) error {
	var lastErr any
	if info.Err != "" {
		lastErr = info.Err
	}
	killed := 0
	if info.Killed {
		killed = 1
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE process_runs
SET ended_at = ?, exit_code = ?, killed = ?, last_error = ?
WHERE id = ?;`,
		endedAt.UTC().Format(timeLayout), info.Code, killed, lastErr, info.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", info.RunID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", info.RunID)
	}
	return nil
}

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

const selectRuns = `
SELECT id, pid, executable, args, started_at, ended_at, exit_code, killed, last_error
FROM process_runs`

// Recent returns the newest runs first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+`
ORDER BY started_at DESC
LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Get returns one run by ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+`
WHERE id = ?;`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		r         Run
		args      string
		startedAt string
		endedAt   sql.NullString
		exitCode  sql.NullInt64
		killed    int
		lastErr   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.PID, &r.Executable, &args, &startedAt, &endedAt, &exitCode, &killed, &lastErr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
		return Run{}, fmt.Errorf("decode args for run %s: %w", r.ID, err)
	}
	var err error
	if r.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Run{}, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
	}
	if endedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse ended_at for run %s: %w", r.ID, err)
		}
		r.EndedAt = &t
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	r.Killed = killed != 0
	r.LastError = lastErr.String
	return r, nil
}

// Duration is how long the run lasted, or has lasted so far as of now.
func (r Run) Duration(now time.Time) time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}
