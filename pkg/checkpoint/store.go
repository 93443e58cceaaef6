// Package checkpoint implements the append-only checkpoint log and the
// durable event log behind it (§4.4), using hand-written SQL over
// database/sql, plus the runs table it also owns for run-level status and
// idempotency-key lookups.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// ErrNotFound is returned when a requested checkpoint or run does not exist.
var ErrNotFound = errors.New("checkpoint: not found")

// Store is the Postgres-backed implementation of §4.4's checkpoint
// contract. It also satisfies events.Store, since the event log shares the
// same durability fence as the checkpoint it was raised by.
type Store struct {
	db *sql.DB
}

// New wraps an already-migrated *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ events.Store = (*Store)(nil)

// Append writes the next checkpoint for run_id and returns its strictly
// monotonic index. Writes are synchronous with respect to the event stream:
// callers must Append before calling events.Bus.Publish for any event
// referring to the resulting state (§4.4).
func (s *Store) Append(ctx context.Context, runID, scenarioID string, st *state.CanonicalState) (int, error) {
	raw, err := st.ToJSON()
	if err != nil {
		return 0, fmt.Errorf("checkpoint: marshal state: %w", err)
	}

	var index int
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO checkpoints (run_id, index, scenario_id, state_json)
		VALUES ($1, COALESCE((SELECT MAX(index) + 1 FROM checkpoints WHERE run_id = $1), 0), $2, $3)
		RETURNING index
	`, runID, scenarioID, raw).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: append for run %s: %w", runID, err)
	}

	if _, err := s.db.ExecContext(ctx, `
		UPDATE runs SET last_checkpoint = $2, updated_at = now() WHERE run_id = $1
	`, runID, index); err != nil {
		return 0, fmt.Errorf("checkpoint: update run cursor for %s: %w", runID, err)
	}

	return index, nil
}

// Latest returns the most recent checkpoint index and state for run_id.
func (s *Store) Latest(ctx context.Context, runID string) (int, *state.CanonicalState, error) {
	var index int
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT index, state_json FROM checkpoints WHERE run_id = $1 ORDER BY index DESC LIMIT 1
	`, runID).Scan(&index, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("checkpoint: latest for run %s: %w", runID, err)
	}
	st, err := state.FromJSON(raw)
	if err != nil {
		return 0, nil, fmt.Errorf("checkpoint: unmarshal latest for run %s: %w", runID, err)
	}
	return index, st, nil
}

// Get returns the state at a specific checkpoint index.
func (s *Store) Get(ctx context.Context, runID string, index int) (*state.CanonicalState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state_json FROM checkpoints WHERE run_id = $1 AND index = $2
	`, runID, index).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: get run %s index %d: %w", runID, index, err)
	}
	return state.FromJSON(raw)
}

// Diff returns the JSON Merge Patch transforming the state at index a into
// the state at index b, for scenario compare (§4.4).
func (s *Store) Diff(ctx context.Context, runID string, a, b int) (json.RawMessage, error) {
	stateA, err := s.Get(ctx, runID, a)
	if err != nil {
		return nil, err
	}
	stateB, err := s.Get(ctx, runID, b)
	if err != nil {
		return nil, err
	}
	return state.Diff(stateA, stateB)
}

// AppendEvent implements events.Store.
func (s *Store) AppendEvent(ctx context.Context, ev events.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (event_id, run_id, scenario_id, seq, event_type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id) DO NOTHING
	`, ev.EventID, ev.RunID, ev.ScenarioID, ev.Seq, string(ev.Type), []byte(ev.Data), ev.Ts)
	if err != nil {
		return fmt.Errorf("checkpoint: append event for run %s: %w", ev.RunID, err)
	}
	return nil
}

// EventsSince implements events.Store: events for runID with seq > afterSeq,
// ordered ascending.
func (s *Store) EventsSince(ctx context.Context, runID string, afterSeq int64) ([]events.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, run_id, scenario_id, seq, event_type, payload_json, created_at
		FROM run_events WHERE run_id = $1 AND seq > $2 ORDER BY seq ASC
	`, runID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: events since for run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var ev events.Event
		var typ string
		var payload []byte
		if err := rows.Scan(&ev.EventID, &ev.RunID, &ev.ScenarioID, &ev.Seq, &typ, &payload, &ev.Ts); err != nil {
			return nil, fmt.Errorf("checkpoint: scan event: %w", err)
		}
		ev.Type = events.Type(typ)
		ev.Data = payload
		out = append(out, ev)
	}
	return out, rows.Err()
}
