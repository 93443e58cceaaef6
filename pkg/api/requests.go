package api

import "github.com/codeready-toolchain/gtmcore/pkg/state"

// StartRunRequest is the body for POST /scenarios/:id/runs. idea, constraints
// and intake_answers describe the scenario's fixed inputs (§3). changed_decision
// is accepted in the body, but startRunHandler neither reads nor records it:
// every run it starts begins with the full initial sweep, and the scheduler
// derives any later cascade from the validator.
type StartRunRequest struct {
	Idea            state.Idea            `json:"idea"`
	Constraints     state.Constraints     `json:"constraints"`
	IntakeAnswers   []state.IntakeAnswer  `json:"intake_answers"`
	ChangedDecision string                `json:"changed_decision,omitempty"`
}

// SelectDecisionRequest is the body for
// POST /scenarios/:id/decisions/:key/select (§4.6). Only the runtime may
// write selected_option_id (§4.1 rule 3); this handler is that write's one
// legitimate path.
type SelectDecisionRequest struct {
	SelectedOptionID string `json:"selected_option_id"`
	IsCustom         bool   `json:"is_custom"`
	Justification    string `json:"justification,omitempty"`
}
