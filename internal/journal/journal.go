// Package journal persists build runs and their mirrored compile events
// to SQLite, backing the history and trace commands. The scheduler core
// never depends on the journal; the CLI composes them by subscribing a
// recorder to each compilation's event mirror.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Journal provides durable storage for build run logs.
// Uses SQLite with WAL mode for concurrent read access.
type Journal struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and the schema automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Run is one recorded build request.
type Run struct {
	Token      string
	ClientID   string
	Pipeline   bool
	StartedAt  string
	FinishedAt string
	Outcome    string
}

// Event is one persisted compile event.
type Event struct {
	RunToken string
	Project  string
	Seq      int64
	Kind     string
	Detail   string
}

// StartRun records the beginning of a build request.
// Idempotent on token: duplicate starts are silently ignored.
func (j *Journal) StartRun(ctx context.Context, token, clientID string, pipeline bool, startedAt string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (token, client_id, pipeline, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`, token, clientID, boolToInt(pipeline), startedAt)
	if err != nil {
		return fmt.Errorf("start run %s: %w", token, err)
	}
	return nil
}

// FinishRun records the outcome of a build request.
func (j *Journal) FinishRun(ctx context.Context, token, outcome, finishedAt string) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, finished_at = ? WHERE token = ?
	`, outcome, finishedAt, token)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", token, err)
	}
	return nil
}

// WriteEvent persists one compile event.
// Uses ON CONFLICT DO NOTHING for idempotency: replaying the same mirror
// into the journal writes each (run, project, seq) at most once.
func (j *Journal) WriteEvent(ctx context.Context, ev Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO compile_events (run_token, project, seq, kind, detail)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, ev.RunToken, ev.Project, ev.Seq, ev.Kind, ev.Detail)
	if err != nil {
		return fmt.Errorf("write event %s/%s/%d: %w", ev.RunToken, ev.Project, ev.Seq, err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT token, client_id, pipeline, started_at,
		       COALESCE(finished_at, ''), COALESCE(outcome, '')
		FROM runs
		ORDER BY started_at DESC, token DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var pipeline int
		if err := rows.Scan(&r.Token, &r.ClientID, &pipeline, &r.StartedAt, &r.FinishedAt, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Pipeline = pipeline != 0
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ReadEvents returns a run's events ordered by project emission seq.
// Ordering is deterministic: project name, then seq.
func (j *Journal) ReadEvents(ctx context.Context, token string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_token, project, seq, kind, detail
		FROM compile_events
		WHERE run_token = ?
		ORDER BY project ASC, seq ASC
	`, token)
	if err != nil {
		return nil, fmt.Errorf("read events for %s: %w", token, err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.RunToken, &ev.Project, &ev.Seq, &ev.Kind, &ev.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
