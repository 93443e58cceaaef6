package api

import "github.com/codeready-toolchain/gtmcore/pkg/state"

// RunResponse is returned by POST /scenarios/:id/runs (§4.6).
type RunResponse struct {
	RunID     string `json:"run_id"`
	StreamURL string `json:"stream_url"`
}

// RunStatusResponse is returned by GET /runs/:id (§4.6).
type RunStatusResponse struct {
	Status         string `json:"status"`
	CheckpointIndex int   `json:"checkpoint_index"`
	FailureCause   string `json:"failure_cause,omitempty"`
}

// RequiredInputsResponse is returned by POST /scenarios/:id/runs in place of
// a RunResponse when the request carries no intake answers: no run is
// started, and the caller must collect these answers through the intake
// module before retrying (§8 Boundary behaviors).
type RequiredInputsResponse struct {
	Message        string   `json:"message"`
	RequiredInputs []string `json:"required_inputs"`
}

// BlockedResponse is returned by POST /scenarios/:id/complete when the
// scenario still has unresolved critical contradictions (§4.6: 409).
type BlockedResponse struct {
	Message        string                 `json:"message"`
	Contradictions []state.Contradiction  `json:"contradictions"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                 `json:"status"`
	Version       string                 `json:"version"`
	ActiveRuns    int                    `json:"active_runs"`
	Checks        map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}
