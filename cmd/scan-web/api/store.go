package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps the run history in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens or creates the database at dbPath. Use ":memory:" for an
// in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
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
		scan TEXT NOT NULL,
		name TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		state TEXT,
		start_step INTEGER DEFAULT 0,
		completed_steps INTEGER DEFAULT 0,
		total_steps INTEGER DEFAULT 0,
		started_at DATETIME,
		completed_at DATETIME,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		state TEXT,
		completed INTEGER,
		position_json TEXT,
		error TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun records a new run.
func (s *Store) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO runs (id, scan, name, status, start_step, total_steps, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Scan, run.Name, run.Status, run.StartStep, run.TotalSteps, run.StartedAt)
	return err
}

const runColumns = `id, scan, name, status, state, start_step, completed_steps,
	total_steps, started_at, completed_at, error_message`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var name, state, errMsg sql.NullString
	var startedAt, completedAt sql.NullTime

	if err := row.Scan(
		&run.ID, &run.Scan, &name, &run.Status, &state,
		&run.StartStep, &run.CompletedSteps, &run.TotalSteps,
		&startedAt, &completedAt, &errMsg,
	); err != nil {
		return nil, err
	}

	run.Name = name.String
	run.State = state.String
	run.Error = errMsg.String
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		run.Duration = run.CompletedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
	}
	return &run, nil
}

// GetRun returns the run with id, or nil if there is none.
func (s *Store) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns runs, most recent first. A non-empty scan restricts the
// list to runs of that scan.
func (s *Store) ListRuns(scan string, limit, offset int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM runs
		WHERE ? = '' OR scan = ?
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, scan, scan, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// CountRuns returns the number of recorded runs.
func (s *Store) CountRuns() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}

// UpdateRunStatus sets the status of a run.
func (s *Store) UpdateRunStatus(id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE runs SET status = ? WHERE id = ?`, status, id)
	return err
}

// SetTotalSteps records the size of the scan once it is known.
func (s *Store) SetTotalSteps(id string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE runs SET total_steps = ? WHERE id = ?`, total, id)
	return err
}

// CompleteRun marks a run as finished. A non-empty errMsg is kept with it.
func (s *Store) CompleteRun(id, status, state string, completed int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, state = COALESCE(NULLIF(?, ''), state), completed_steps = ?,
		    completed_at = ?, error_message = ?
		WHERE id = ?
	`, status, state, completed, time.Now(), errMsg, id)
	return err
}

// AddEvent appends ev to the history of a run and updates the run's state
// or progress to match.
func (s *Store) AddEvent(runID string, ev RunEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var position sql.NullString
	if ev.Position != nil {
		data, err := json.Marshal(ev.Position)
		if err != nil {
			return fmt.Errorf("failed to marshal position: %w", err)
		}
		position = sql.NullString{String: string(data), Valid: true}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`
		INSERT INTO run_events (run_id, kind, state, completed, position_json, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, runID, ev.Kind, ev.State, ev.Completed, position, ev.Error, ev.Time); err != nil {
		return err
	}

	switch ev.Kind {
	case EventState:
		_, err = tx.Exec(`UPDATE runs SET state = ? WHERE id = ?`, ev.State, runID)
	case EventProgress:
		_, err = tx.Exec(`UPDATE runs SET completed_steps = ? WHERE id = ?`, ev.Completed, runID)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// GetRunEvents returns the events of a run in the order they were added.
func (s *Store) GetRunEvents(runID string) ([]RunEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT kind, state, completed, position_json, error, created_at
		FROM run_events WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RunEvent
	for rows.Next() {
		var ev RunEvent
		var state, position, errMsg sql.NullString
		var completed sql.NullInt64
		if err := rows.Scan(&ev.Kind, &state, &completed, &position, &errMsg, &ev.Time); err != nil {
			return nil, err
		}
		ev.State = state.String
		ev.Completed = int(completed.Int64)
		ev.Error = errMsg.String
		if position.Valid {
			if err := json.Unmarshal([]byte(position.String), &ev.Position); err != nil {
				return nil, fmt.Errorf("failed to unmarshal position: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// DeleteRun deletes a run and its events.
func (s *Store) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM runs WHERE id = ?", id)
	return err
}
