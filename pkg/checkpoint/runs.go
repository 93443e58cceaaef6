package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Run statuses (§4.3, §4.6 GET /runs/{id}).
const (
	RunStatusRunning   = "running"
	RunStatusBlocked   = "blocked"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunRecord is the persisted lifecycle row for one orchestration run.
type RunRecord struct {
	RunID          string
	ScenarioID     string
	Status         string
	FailureCause   string
	LastCheckpoint int
}

// CreateRun inserts a new run row in the running state.
func (s *Store) CreateRun(ctx context.Context, runID, scenarioID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, scenario_id, status, last_checkpoint)
		VALUES ($1, $2, $3, -1)
	`, runID, scenarioID, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("checkpoint: create run %s: %w", runID, err)
	}
	return nil
}

// GetRun returns the lifecycle row for runID.
func (s *Store) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	var cause sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, scenario_id, status, failure_cause, last_checkpoint FROM runs WHERE run_id = $1
	`, runID).Scan(&rec.RunID, &rec.ScenarioID, &rec.Status, &cause, &rec.LastCheckpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get run %s: %w", runID, err)
	}
	rec.FailureCause = cause.String
	return &rec, nil
}

// UpdateRunStatus transitions a run's lifecycle status, optionally recording
// a failure cause (§7 error taxonomy: store, budget, deadline, cancelled).
func (s *Store) UpdateRunStatus(ctx context.Context, runID, status, failureCause string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $2, failure_cause = NULLIF($3, ''), updated_at = now() WHERE run_id = $1
	`, runID, status, failureCause)
	if err != nil {
		return fmt.Errorf("checkpoint: update run status %s: %w", runID, err)
	}
	return nil
}

// LatestRunForScenario returns the most recently created run for
// scenarioID, used by the decision-select and complete endpoints (§4.6) to
// find the state to act on without the caller needing to track run IDs.
func (s *Store) LatestRunForScenario(ctx context.Context, scenarioID string) (*RunRecord, error) {
	var rec RunRecord
	var cause sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, scenario_id, status, failure_cause, last_checkpoint FROM runs
		WHERE scenario_id = $1 ORDER BY created_at DESC LIMIT 1
	`, scenarioID).Scan(&rec.RunID, &rec.ScenarioID, &rec.Status, &cause, &rec.LastCheckpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: latest run for scenario %s: %w", scenarioID, err)
	}
	rec.FailureCause = cause.String
	return &rec, nil
}

// PurgeCompletedBefore deletes checkpoints, events, and run rows for runs
// that reached a terminal status (completed or failed — blocked runs are
// left alone, since they're still awaiting a decision override) and whose
// last update is older than cutoff. Returns the number of run rows removed.
// Used by pkg/retention's background loop (CheckpointRetention, §A).
func (s *Store) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: purge: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, `
		SELECT run_id FROM runs
		WHERE status IN ($1, $2) AND updated_at < $3
	`, RunStatusCompleted, RunStatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: purge: select candidates: %w", err)
	}
	var runIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("checkpoint: purge: scan candidate: %w", err)
		}
		runIDs = append(runIDs, id)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("checkpoint: purge: iterate candidates: %w", err)
	}
	rows.Close()

	for _, runID := range runIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM run_events WHERE run_id = $1`, runID); err != nil {
			return 0, fmt.Errorf("checkpoint: purge: delete events for %s: %w", runID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID); err != nil {
			return 0, fmt.Errorf("checkpoint: purge: delete checkpoints for %s: %w", runID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = $1`, runID); err != nil {
			return 0, fmt.Errorf("checkpoint: purge: delete run %s: %w", runID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("checkpoint: purge: commit: %w", err)
	}
	return len(runIDs), nil
}

// IdempotentResponse is a cached response for a (endpoint, token) pair,
// returned verbatim on retry without re-running the side-effecting handler
// (§6 Idempotency).
type IdempotentResponse struct {
	StatusCode int
	Body       []byte
}

// LookupIdempotencyKey returns the cached response for (endpoint, token), or
// ErrNotFound if this is the first submission.
func (s *Store) LookupIdempotencyKey(ctx context.Context, endpoint, token string) (*IdempotentResponse, error) {
	var resp IdempotentResponse
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT status_code, response_json FROM idempotency_keys WHERE endpoint = $1 AND token = $2
	`, endpoint, token).Scan(&resp.StatusCode, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: lookup idempotency key: %w", err)
	}
	resp.Body = body
	return &resp, nil
}

// SaveIdempotencyKey caches a response for (endpoint, token). Concurrent
// first writes race benignly: ON CONFLICT keeps whichever committed first.
func (s *Store) SaveIdempotencyKey(ctx context.Context, endpoint, token string, statusCode int, body []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (endpoint, token, response_json, status_code)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint, token) DO NOTHING
	`, endpoint, token, body, statusCode)
	if err != nil {
		return fmt.Errorf("checkpoint: save idempotency key: %w", err)
	}
	return nil
}
