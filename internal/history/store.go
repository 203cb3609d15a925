// Package history persists a record of every executed run in a local
// sqlite database. Recording failures are logged, never fatal: history is
// an audit trail, not a dependency of the run itself.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opsmenu/opsmenu/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyFinished = errors.New("already finished")
)

// Run is one row of the runs table. Outcome, ExitCode, Summary and Stopped
// are nil while the run is still in progress.
type Run struct {
	UUID     string
	ScriptID string
	Username string
	Outcome  *string
	ExitCode *int
	Summary  *string
	Started  time.Time
	Stopped  *time.Time
}

type RunRow struct {
	Run
	ID int
}

func InitDB(ctx context.Context, dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			script_id TEXT NOT NULL,
			username TEXT NOT NULL,
			outcome TEXT DEFAULT NULL,
			exit_code INTEGER DEFAULT NULL,
			summary TEXT DEFAULT NULL,
			started TEXT NOT NULL,
			stopped TEXT DEFAULT NULL
		)`,
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Start records that the run identified by 'req' has begun executing.
// Calling Start again for the same uuid is a no-op while the run is in
// progress and ErrAlreadyFinished once it has finished.
func Start(ctx context.Context, db *sql.DB, req model.RunRequest) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, req.ID.String())

	var stopped sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT stopped FROM runs WHERE uuid=?`, req.ID.String(),
	)
	err = row.Scan(&stopped)
	switch {
	case err == nil && !stopped.Valid:
		return nil
	case err == nil && stopped.Valid:
		return ErrAlreadyFinished
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (uuid, script_id, username, started) VALUES (?,?,?,?);`,
		req.ID.String(), req.Script.ID, req.User.Username, req.Requested.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("executing sql insert failed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Finish stores the outcome of the run identified by 'uuid'.
// ErrNotFound when the run was never started, ErrAlreadyFinished when an
// outcome has already been recorded.
func Finish(ctx context.Context, db *sql.DB, uuid string, outcome model.RunOutcome) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(ctx, tx, uuid)

	var stopped sql.NullString
	row := tx.QueryRowContext(ctx,
		`SELECT stopped FROM runs WHERE uuid=?`, uuid,
	)
	err = row.Scan(&stopped)
	switch {
	case err == nil && stopped.Valid:
		return ErrAlreadyFinished
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return fmt.Errorf("executing sql query failed: %w", err)
	}

	stoppedAt := outcome.Stopped
	if stoppedAt.IsZero() {
		stoppedAt = time.Now().UTC()
	}
	var exitCode *int
	if outcome.Kind == model.OutcomeFailure || outcome.Kind == model.OutcomeSuccess {
		ec := outcome.ExitCode
		exitCode = &ec
	}
	var summary *string
	if outcome.ErrorSummary != "" {
		s := outcome.ErrorSummary
		summary = &s
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE runs
		 SET
			outcome = ?,
			exit_code = ?,
			summary = ?,
			stopped = ?
		WHERE uuid = ?;
		`, string(outcome.Kind), exitCode, summary, stoppedAt.Format(time.RFC3339Nano), uuid,
	)
	if err != nil {
		return fmt.Errorf("executing sql update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction failed: %w", err)
	}
	return nil
}

// Get returns the run identified by 'uuid' on success,
// ErrNotFound when no such run exists, error otherwise.
func Get(ctx context.Context, db *sql.DB, uuid string) (RunRow, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, uuid, script_id, username, outcome, exit_code, summary, started, stopped
		 FROM runs WHERE uuid=?`, uuid,
	)
	runRow, err := scanRun(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return RunRow{}, ErrNotFound
	case err != nil:
		return RunRow{}, fmt.Errorf("executing sql query failed: %w", err)
	}
	return runRow, nil
}

// List returns up to 'limit' most recently started runs, newest first.
func List(ctx context.Context, db *sql.DB, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, uuid, script_id, username, outcome, exit_code, summary, started, stopped
		 FROM runs ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("executing sql query failed: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		runRow, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sql row failed: %w", err)
		}
		out = append(out, runRow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sql rows failed: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (RunRow, error) {
	var (
		runRow  RunRow
		started string
		stopped sql.NullString
	)
	err := s.Scan(
		&runRow.ID,
		&runRow.UUID,
		&runRow.ScriptID,
		&runRow.Username,
		&runRow.Outcome,
		&runRow.ExitCode,
		&runRow.Summary,
		&started,
		&stopped,
	)
	if err != nil {
		return RunRow{}, err
	}

	runRow.Started, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return RunRow{}, fmt.Errorf("parsing started timestamp failed: %w", err)
	}
	if stopped.Valid {
		t, err := time.Parse(time.RFC3339Nano, stopped.String)
		if err != nil {
			return RunRow{}, fmt.Errorf("parsing stopped timestamp failed: %w", err)
		}
		runRow.Stopped = &t
	}
	return runRow, nil
}

func rollback(ctx context.Context, tx *sql.Tx, uuid string) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		slog.ErrorContext(ctx, "Calling `tx.Rollback()` failed.", slog.String("uuid", uuid))
	}
}
