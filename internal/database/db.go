package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lance13c/casepilot/internal/types"
)

// ErrRunNotFound is returned when a run ID does not exist
var ErrRunNotFound = errors.New("run not found")

// DB represents the database connection
type DB struct {
	conn *sql.DB
}

// New opens (creating if needed) the run history database at dbPath.
// ":memory:" opens a private in-memory database.
func New(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// an in-memory database lives per connection
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.InitSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// InitSchema creates the database tables if they don't exist
func (db *DB) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS case_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		case_id TEXT NOT NULL,
		name TEXT NOT NULL,
		request TEXT,
		source TEXT,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMP,
		ended_at TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		total_steps INTEGER NOT NULL DEFAULT 0,
		passed_steps INTEGER NOT NULL DEFAULT 0,
		failed_steps INTEGER NOT NULL DEFAULT 0,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS step_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		step_index INTEGER NOT NULL,
		step_id TEXT NOT NULL,
		description TEXT NOT NULL,
		code TEXT,
		status TEXT NOT NULL,
		result TEXT,
		error TEXT,
		started_at TIMESTAMP,
		ended_at TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES case_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_case_id ON case_runs(case_id);
	CREATE INDEX IF NOT EXISTS idx_runs_name ON case_runs(name);
	CREATE INDEX IF NOT EXISTS idx_steps_run_id ON step_runs(run_id);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// SaveRun stores a finished case and its steps. source is the file the case
// was loaded from, if any.
func (db *DB) SaveRun(c *types.Case, source string, usage Usage) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	counts := c.Counts()
	result, err := tx.Exec(`
		INSERT INTO case_runs (
			case_id, name, request, source, status, error, started_at, ended_at,
			duration_ms, total_steps, passed_steps, failed_steps, tokens_used, cost
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID,
		c.Name,
		c.Request,
		source,
		string(c.Status),
		c.Error,
		c.StartedAt,
		c.EndedAt,
		c.Duration().Milliseconds(),
		len(c.Steps),
		counts[types.StepSuccess],
		counts[types.StepFailed],
		usage.Tokens,
		usage.Cost,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}
	runID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO step_runs (
			run_id, step_index, step_id, description, code, status, result, error,
			started_at, ended_at, duration_ms
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, s := range c.Steps {
		var resultJSON sql.NullString
		if s.Result != nil {
			data, err := json.Marshal(s.Result)
			if err != nil {
				return 0, fmt.Errorf("failed to encode result of step %d: %w", s.Index+1, err)
			}
			resultJSON = sql.NullString{String: string(data), Valid: true}
		}
		_, err := stmt.Exec(
			runID,
			s.Index,
			s.ID,
			s.Description,
			s.Code,
			string(s.Status),
			resultJSON,
			s.Error,
			s.StartedAt,
			s.EndedAt,
			s.Duration().Milliseconds(),
		)
		if err != nil {
			return 0, fmt.Errorf("failed to save step: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return runID, nil
}

const runColumns = `id, case_id, name, request, source, status, error, started_at, ended_at,
	duration_ms, total_steps, passed_steps, failed_steps, tokens_used, cost, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (CaseRun, error) {
	var r CaseRun
	var request, source, errText sql.NullString
	var durationMs int64
	err := row.Scan(
		&r.ID,
		&r.CaseID,
		&r.Name,
		&request,
		&source,
		&r.Status,
		&errText,
		&r.StartedAt,
		&r.EndedAt,
		&durationMs,
		&r.TotalSteps,
		&r.PassedSteps,
		&r.FailedSteps,
		&r.Usage.Tokens,
		&r.Usage.Cost,
		&r.CreatedAt,
	)
	r.Request, r.Source, r.Error = request.String, source.String, errText.String
	r.Duration = time.Duration(durationMs) * time.Millisecond
	return r, err
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(id int64) (*CaseRun, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM case_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first. A non-empty filter
// matches the case ID or name.
func (db *DB) ListRuns(limit int, filter string) ([]CaseRun, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + runColumns + ` FROM case_runs`
	args := []any{}
	if filter != "" {
		query += ` WHERE case_id = ? OR name = ?`
		args = append(args, filter, filter)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []CaseRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunSteps returns the steps of a run in order
func (db *DB) RunSteps(runID int64) ([]StepRun, error) {
	rows, err := db.conn.Query(`
		SELECT id, run_id, step_index, step_id, description, code, status, result, error,
			started_at, ended_at, duration_ms
		FROM step_runs
		WHERE run_id = ?
		ORDER BY step_index ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRun
	for rows.Next() {
		var s StepRun
		var code, result, errText sql.NullString
		var durationMs int64
		err := rows.Scan(
			&s.ID,
			&s.RunID,
			&s.Index,
			&s.StepID,
			&s.Description,
			&code,
			&s.Status,
			&result,
			&errText,
			&s.StartedAt,
			&s.EndedAt,
			&durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		s.Code, s.Result, s.Error = code.String, result.String, errText.String
		s.Duration = time.Duration(durationMs) * time.Millisecond
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

// GetStatistics returns aggregate counts over all stored runs
func (db *DB) GetStatistics() (*Statistics, error) {
	var st Statistics
	err := db.conn.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(tokens_used), 0),
			COALESCE(SUM(cost), 0)
		FROM case_runs
	`).Scan(&st.TotalRuns, &st.Completed, &st.Failed, &st.Tokens, &st.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	return &st, nil
}

// DeleteRunsBefore removes runs created before t and returns how many went
func (db *DB) DeleteRunsBefore(t time.Time) (int64, error) {
	result, err := db.conn.Exec(`DELETE FROM case_runs WHERE created_at < ?`, t.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}
