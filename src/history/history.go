// Package history records training runs and per-client round metrics in a
// SQLite database so that loss curves can be inspected with standard SQLite
// tools after the process exits.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"beamfl/src/utils"

	"github.com/google/uuid"

	// pure Go SQLite driver
	_ "modernc.org/sqlite"
)

var ErrClosed = errors.New("history store is closed")

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		rounds INTEGER NOT NULL DEFAULT 0,
		config TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_rounds (
		run_id TEXT NOT NULL REFERENCES runs(id),
		round INTEGER NOT NULL,
		client TEXT NOT NULL,
		samples INTEGER NOT NULL,
		weight REAL NOT NULL,
		train_loss REAL NOT NULL,
		val_loss REAL NOT NULL,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, round, client)
	);

	CREATE INDEX IF NOT EXISTS idx_client_rounds_run ON client_rounds(run_id, round);
`

// ClientRound is the outcome of one client's local training in one round.
type ClientRound struct {
	Round     int
	Client    string
	Samples   int
	Weight    float64
	TrainLoss float64
	ValLoss   float64
	Duration  time.Duration
}

// Store is a SQLite backed run history.
type Store struct {
	db *sql.DB
}

// Open creates the database at path if needed. ":memory:" keeps the history
// in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := utils.EnsureParentDir(path); err != nil {
			return nil, fmt.Errorf("mkdir for %s: %w", path, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// StartRun registers a new run and returns its id.
func (s *Store) StartRun(ctx context.Context, config string) (string, error) {
	if s.db == nil {
		return "", ErrClosed
	}
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, config) VALUES (?, ?, ?)`,
		id, time.Now().UnixNano(), config)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// RecordRound stores the client results of one round in a single transaction.
func (s *Store) RecordRound(ctx context.Context, runID string, results []ClientRound) error {
	if s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO client_rounds (run_id, round, client, samples, weight, train_loss, val_loss, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.Round, r.Client, r.Samples, r.Weight, r.TrainLoss, r.ValLoss, r.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert round %d client %s: %w", r.Round, r.Client, err)
		}
	}
	return tx.Commit()
}

// FinishRun stamps the run with its completion time and round count.
func (s *Store) FinishRun(ctx context.Context, runID string, rounds int) error {
	if s.db == nil {
		return ErrClosed
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, rounds = ? WHERE id = ?`,
		time.Now().UnixNano(), rounds, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, sql.ErrNoRows)
	}
	return nil
}

// ClientRounds returns the recorded results of a run ordered by round and
// client.
func (s *Store) ClientRounds(ctx context.Context, runID string) ([]ClientRound, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT round, client, samples, weight, train_loss, val_loss, duration_ms
		FROM client_rounds WHERE run_id = ?
		ORDER BY round, client`, runID)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []ClientRound
	for rows.Next() {
		var (
			r  ClientRound
			ms int64
		)
		if err := rows.Scan(&r.Round, &r.Client, &r.Samples, &r.Weight, &r.TrainLoss, &r.ValLoss, &ms); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestRun returns the id of the most recently started run.
func (s *Store) LatestRun(ctx context.Context) (string, error) {
	if s.db == nil {
		return "", ErrClosed
	}
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM runs ORDER BY started_at DESC LIMIT 1`).Scan(&id)
	return id, err
}

// Rounds returns the round count stored by FinishRun, or 0 for a run that
// has not finished.
func (s *Store) Rounds(ctx context.Context, runID string) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	var rounds int
	err := s.db.QueryRowContext(ctx, `SELECT rounds FROM runs WHERE id = ?`, runID).Scan(&rounds)
	return rounds, err
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
