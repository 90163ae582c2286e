package taskboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// StoreOptions configures how the SQLite database is opened.
type StoreOptions struct {
	// BusyTimeoutMS is how long a statement waits on a locked database
	// before failing. Defaults to 5000 when zero.
	BusyTimeoutMS int

	// WALAutoCheckpoint is the WAL auto-checkpoint cadence in pages.
	// Zero disables automatic checkpointing; negative means "use the
	// SQLite default".
	WALAutoCheckpoint int
}

// Store is the durable side of the taskboard: a single SQLite database in
// WAL mode holding the task table and a small config KV table.
//
// Reads are freely available to any holder of the Store. Status-changing
// writes are reachable only through the Mutator, which can be taken exactly
// once per Store; every other component works with a read-only handle. All
// writes that can race are single conditional UPDATE statements keyed on the
// full identity tuple they depend on, so concurrent callers attempting the
// same transition race safely: one succeeds, the rest observe a no-op.
type Store struct {
	db *sql.DB

	mu           sync.Mutex
	mutatorTaken bool
}

// Open opens (creating if necessary) the taskboard database at path and
// applies the schema. The database runs in WAL mode so long write bursts do
// not stall readers; the checkpoint cadence comes from opts.
func Open(path string, opts StoreOptions) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open taskboard db: %w", err)
	}
	// A single connection serializes writes at the driver level and keeps
	// the WAL file bounded to one writer.
	db.SetMaxOpenConns(1)

	busyTimeout := opts.BusyTimeoutMS
	if busyTimeout <= 0 {
		busyTimeout = 5000
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeout),
	}
	if opts.WALAutoCheckpoint >= 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA wal_autocheckpoint=%d;", opts.WALAutoCheckpoint))
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply taskboard schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database. Implements io.Closer.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Mutator returns the single status-mutation handle for this Store. The
// second and subsequent calls fail: exactly one code path in the process may
// change task status, and that path is whoever holds this handle.
func (s *Store) Mutator() (*Mutator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutatorTaken {
		return nil, ErrMutatorTaken
	}
	s.mutatorTaken = true
	return &Mutator{db: s.db}, nil
}

// InsertTask inserts a new task row. Returns false when a task with the same
// ID already exists, making plan re-acceptance idempotent per task.
func (s *Store) InsertTask(ctx context.Context, t *Task) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, fmt.Errorf("invalid task: %w", err)
	}

	depsJSON, err := json.Marshal(t.Deps)
	if err != nil {
		return false, fmt.Errorf("failed to serialize deps for task %s: %w", t.ID, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, lane, type, description, status, worker_id, lease_id,
			risk, entropy_marker, source_plan_hash, output, deps, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		t.ID, t.Lane, t.Type, t.Description, string(t.Status), t.WorkerID, t.LeaseID,
		t.Risk, t.EntropyMarker, t.SourcePlanHash, t.Output, string(depsJSON), t.CreatedAtMs, t.UpdatedAtMs)
	if err != nil {
		return false, fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const taskColumns = `id, lane, type, description, status, worker_id, lease_id,
	risk, entropy_marker, source_plan_hash, output, deps, created_at_ms, updated_at_ms`

// GetTask retrieves a task by ID. Returns ErrNotFound if it doesn't exist.
func (s *Store) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read task %s: %w", taskID, err)
	}
	return t, nil
}

// ListTasks returns every task, ordered by creation time then ID for stable
// output.
func (s *Store) ListTasks(ctx context.Context) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at_ms, id`)
}

// ListByStatus returns all tasks with the given status.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at_ms, id`, string(status))
}

// ListStale returns in_progress tasks whose last renewal is older than
// cutoffMs. Candidates only: reclaiming them still goes through the
// conditional reap so a concurrent renewal or completion wins.
func (s *Store) ListStale(ctx context.Context, cutoffMs int64) ([]*Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? AND updated_at_ms < ? ORDER BY updated_at_ms`,
		string(StatusInProgress), cutoffMs)
}

// ConfigGet reads a KV config entry. The second return is false when the key
// does not exist.
func (s *Store) ConfigGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read config %q: %w", key, err)
	}
	return value, true, nil
}

// ConfigSet writes a KV config entry, overwriting any previous value.
func (s *Store) ConfigSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write config %q: %w", key, err)
	}
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var status, depsJSON string
	if err := row.Scan(&t.ID, &t.Lane, &t.Type, &t.Description, &status, &t.WorkerID, &t.LeaseID,
		&t.Risk, &t.EntropyMarker, &t.SourcePlanHash, &t.Output, &depsJSON, &t.CreatedAtMs, &t.UpdatedAtMs); err != nil {
		return nil, err
	}
	t.Status = Status(status)
	if err := json.Unmarshal([]byte(depsJSON), &t.Deps); err != nil {
		return nil, fmt.Errorf("corrupt deps column for task %s: %w", t.ID, err)
	}
	return &t, nil
}
