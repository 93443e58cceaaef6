// Package events implements the typed, ordered, per-run event log (§4.5) and
// its SSE fan-out (§4.6): a single-process in-memory bus, catch-up-then-live,
// over text/event-stream. Cross-pod fan-out is dropped because distributed
// orchestration across hosts is an explicit Non-goal (§1); durability for
// replay instead comes from persisting every event to the run_events table
// (pkg/checkpoint).
package events

import (
	"encoding/json"
	"time"
)

// Type enumerates the event kinds a run can emit (§4.5).
type Type string

const (
	TypeRunStarted        Type = "run_started"
	TypeAgentStarted      Type = "agent_started"
	TypeAgentProgress     Type = "agent_progress"
	TypeAgentCompleted    Type = "agent_completed"
	TypeAgentFailed       Type = "agent_failed"
	TypeAgentSkipped      Type = "agent_skipped"
	TypeStateCheckpointed Type = "state_checkpointed"
	TypeNodeCreated       Type = "node_created"
	TypeNodeUpdated       Type = "node_updated"
	TypeValidatorWarning  Type = "validator_warning"
	TypeRunBlocked        Type = "run_blocked"
	TypeRunCompleted      Type = "run_completed"
	TypeRunFailed         Type = "run_failed"
	TypeRunResumed        Type = "run_resumed"
)

// Event is one entry in a run's ordered log. Ordering within a run is
// strict; across runs there is no guarantee (§4.5).
type Event struct {
	EventID    string          `json:"event_id"`
	RunID      string          `json:"run_id"`
	ScenarioID string          `json:"scenario_id"`
	Seq        int64           `json:"seq"`
	Type       Type            `json:"type"`
	Ts         time.Time       `json:"ts"`
	Data       json.RawMessage `json:"data"`
}

// AgentCompletedData is the payload for agent_completed events.
type AgentCompletedData struct {
	Agent      string `json:"agent"`
	PatchCount int    `json:"patch_count"`
	TokensUsed int64  `json:"tokens_used"`
	DurationMS int64  `json:"duration_ms"`
}

// AgentFailedData is the payload for agent_failed events.
type AgentFailedData struct {
	Agent  string `json:"agent"`
	Reason string `json:"reason"`
}

// NodeData is the payload for node_created/node_updated events.
type NodeData struct {
	NodeID string `json:"node_id"`
	Type   string `json:"type"`
}

// RunBlockedData is the payload for run_blocked events.
type RunBlockedData struct {
	RuleIDs []string `json:"rule_ids"`
}

// RunFailedData is the payload for run_failed events.
type RunFailedData struct {
	Cause string `json:"cause"` // store | budget | deadline | cancelled
}

// RunResumedData is the payload for run_resumed events.
type RunResumedData struct {
	CheckpointIndex int `json:"checkpoint_index"`
}

// ValidatorWarningData is the payload for validator_warning events, e.g. the
// source-less-evidence downgrade (§4.1 rule 4, §8 scenario 6).
type ValidatorWarningData struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// MustMarshal renders v to JSON, panicking on failure. Only used for the
// small, statically-shaped payload structs above — never for user input.
func MustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
