// Package record keeps a durable journal of scan runs in sqlite: one row
// per run and one per measured step, so a scan can be inspected or
// re-fitted after the fact.
package record

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/beamscan/internal/monitoring"
	"github.com/banshee-data/beamscan/internal/scan"
	"github.com/banshee-data/beamscan/internal/timeutil"
	"github.com/banshee-data/beamscan/internal/version"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Run status values.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Fixed-width UTC timestamps so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a sqlite-backed run journal.
type Store struct {
	Clock timeutil.Clock

	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema. ":memory:" gives a private in-memory store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	s := &Store{Clock: timeutil.RealClock{}, db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for debugging tools.
func (s *Store) DB() *sql.DB { return s.db }

// RunInfo describes one stored run.
type RunInfo struct {
	ID         uuid.UUID
	Title      string
	Axes       []string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Status     string
	Error      string
	Version    string
	Steps      int
}

// Run appends measurements to one stored run. It implements scan.Recorder.
type Run struct {
	store *Store
	id    uuid.UUID

	mu   sync.Mutex
	step int
}

var _ scan.Recorder = (*Run)(nil)

// BeginRun inserts a new run row.
func (s *Store) BeginRun(ctx context.Context, title string, axes []string) (*Run, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, title, axes, started_at, status, version) VALUES (?, ?, ?, ?, ?, ?)`,
		id.String(), title, strings.Join(axes, ","), s.Clock.Now().UTC().Format(timeLayout), StatusRunning, version.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}
	monitoring.Logf("record: started run %s %q", id, title)
	return &Run{store: s, id: id}, nil
}

func (r *Run) ID() uuid.UUID { return r.id }

// Record stores one measured step.
func (r *Run) Record(ctx context.Context, title string, pos scan.Position, value float64) error {
	posJSON, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err = r.store.db.ExecContext(ctx,
		`INSERT INTO measurements (run_id, step, title, position, value, recorded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.id.String(), r.step, title, string(posJSON), value, r.store.Clock.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("record step %d: %w", r.step, err)
	}
	r.step++
	return nil
}

// Finish closes the run, marking it failed when runErr is non-nil.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	status, msg := StatusCompleted, sql.NullString{}
	if runErr != nil {
		status, msg = StatusFailed, sql.NullString{String: runErr.Error(), Valid: true}
	}
	res, err := r.store.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, error = ? WHERE id = ?`,
		r.store.Clock.Now().UTC().Format(timeLayout), status, msg, r.id.String(),
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `r.id, r.title, r.axes, r.started_at, r.finished_at, r.status, r.error, r.version,
	(SELECT COUNT(*) FROM measurements m WHERE m.run_id = r.id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunInfo, error) {
	var (
		info                RunInfo
		id, axes, started   string
		finished, errString sql.NullString
	)
	if err := row.Scan(&id, &info.Title, &axes, &started, &finished, &info.Status, &errString, &info.Version, &info.Steps); err != nil {
		return info, err
	}
	var err error
	if info.ID, err = uuid.Parse(id); err != nil {
		return info, fmt.Errorf("run id %q: %w", id, err)
	}
	if axes != "" {
		info.Axes = strings.Split(axes, ",")
	}
	if info.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return info, fmt.Errorf("run %s started_at: %w", id, err)
	}
	if finished.Valid {
		if info.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
			return info, fmt.Errorf("run %s finished_at: %w", id, err)
		}
	}
	info.Error = errString.String
	return info, nil
}

// Run looks up one run.
func (s *Store) Run(ctx context.Context, id uuid.UUID) (RunInfo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id.String())
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return info, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return info, err
}

// Runs lists runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs r ORDER BY r.started_at DESC, r.rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Samples returns the measurements of a run in step order.
func (s *Store) Samples(ctx context.Context, id uuid.UUID) (scan.Samples, error) {
	if _, err := s.Run(ctx, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT position, value FROM measurements WHERE run_id = ? ORDER BY step`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := scan.Samples{}
	for rows.Next() {
		var (
			posJSON string
			smp     scan.Sample
		)
		if err := rows.Scan(&posJSON, &smp.Value); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(posJSON), &smp.Position); err != nil {
			return nil, fmt.Errorf("decode position: %w", err)
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}
