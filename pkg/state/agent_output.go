package state

import (
	"encoding/json"
	"time"
)

// PatchOp is one RFC 6902 write carrying the provenance the merge engine
// needs to apply it under the six merge rules (§4.1).
type PatchOp struct {
	Op    string      `json:"op"` // add | replace | remove
	Path  string      `json:"path"`
	Value any         `json:"value,omitempty"`
	Meta  PatchMeta   `json:"meta"`
}

// PatchMeta is the provenance triple carried on every patch, before it is
// expanded into a full MetaRef by the merge engine (UpdatedBy/UpdatedAt are
// filled in from the AgentOutput envelope, not repeated per patch).
type PatchMeta struct {
	SourceType SourceType `json:"source_type"`
	Confidence float64    `json:"confidence"`
	Sources    []string   `json:"sources"`
}

// DecisionProposal becomes an Option on the named decision; only the
// runtime may write SelectedOptionID (§4.1 rule 3).
type DecisionProposal struct {
	DecisionKey          string  `json:"decision_key"`
	OptionID             string  `json:"option_id"`
	Label                string  `json:"label"`
	Rationale            string  `json:"rationale"`
	RecommendedOptionID  string  `json:"recommended_option_id,omitempty"`
	Confidence           float64 `json:"confidence,omitempty"`
}

// NodeUpdateAction is one of create, update, finalize (§4.1 rule 6).
type NodeUpdateAction string

const (
	NodeActionCreate   NodeUpdateAction = "create"
	NodeActionUpdate   NodeUpdateAction = "update"
	NodeActionFinalize NodeUpdateAction = "finalize"
)

// NodeUpdate upserts a graph node by stable ID.
type NodeUpdate struct {
	NodeID       string           `json:"node_id"`
	Action       NodeUpdateAction `json:"action"`
	NodeType     string           `json:"node_type,omitempty"`
	Label        string           `json:"label,omitempty"`
	EvidenceRefs []string         `json:"evidence_refs,omitempty"`
	SourceType   SourceType       `json:"source_type,omitempty"`
	Confidence   float64          `json:"confidence,omitempty"`
	Sources      []string         `json:"sources,omitempty"`
}

// AgentOutput is the bundle an agent returns for one invocation (§4.1,
// GLOSSARY). The merge engine consumes it as a whole: a malformed patch
// aborts the entire output with no partial application.
type AgentOutput struct {
	Agent          string             `json:"agent"`
	RunID          string             `json:"run_id"`
	ProducedAt     time.Time          `json:"produced_at"`
	Patches        []PatchOp          `json:"patches,omitempty"`
	Proposals      []DecisionProposal `json:"proposals,omitempty"`
	Facts          []map[string]any   `json:"facts,omitempty"`
	Assumptions    []map[string]any   `json:"assumptions,omitempty"`
	Risks          []map[string]any   `json:"risks,omitempty"`
	RequiredInputs []string           `json:"required_inputs,omitempty"`
	NodeUpdates    []NodeUpdate       `json:"node_updates,omitempty"`

	// TokenUsage is reported out-of-band from the schema (it is provider
	// metadata, not agent content) and aggregated into telemetry.token_spend.
	TokenUsage int64 `json:"-"`
}

// Validate checks the output against agent_output.schema.json. A patch whose
// Meta.Sources is nil is checked as having an empty sources list.
func (o *AgentOutput) Validate() error {
	cp := *o
	cp.Patches = make([]PatchOp, len(o.Patches))
	for i, p := range o.Patches {
		if p.Meta.Sources == nil {
			p.Meta.Sources = []string{}
		}
		cp.Patches[i] = p
	}
	raw, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	return ValidateAgentOutput(raw)
}
