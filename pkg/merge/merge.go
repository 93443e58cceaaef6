// Package merge implements the deterministic merge engine (§4.1): it applies
// one AgentOutput into a CanonicalState under six ordered rules and returns
// the resulting state plus the events that applying it raised. It is a pure
// function — it never mutates its input state — applying one agent's
// structured diff under ownership and provenance rules.
package merge

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// Result is the outcome of applying one AgentOutput.
type Result struct {
	State  *state.CanonicalState
	Events []RaisedEvent
}

// RaisedEvent is an event the merge produced, not yet assigned a sequence
// number or persisted — the caller (scheduler) publishes it through the
// event bus after the resulting state is checkpointed (§4.4).
type RaisedEvent struct {
	Type events.Type
	Data []byte
}

// sectionPrecedence is merge rule 1: partition patches by top-level section
// and apply in this fixed order (§4.1).
var sectionPrecedence = []string{"evidence", "decisions", "pillars", "graph", "execution", "telemetry"}

func sectionOf(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if idx := strings.Index(trimmed, "/"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func sectionRank(path string) int {
	sec := sectionOf(path)
	for i, s := range sectionPrecedence {
		if s == sec {
			return i
		}
	}
	return len(sectionPrecedence) // unranked sections sort last, stably
}

// isSelectedOptionWrite matches patches attempting to write
// decisions.<key>.selected_option_id, rejected outright by rule 3.
func isSelectedOptionWrite(path string) bool {
	return strings.HasPrefix(path, "/decisions/") && strings.HasSuffix(path, "/selected_option_id")
}

// Apply runs the six merge rules over one AgentOutput against state s,
// returning the new state and the events the merge raised. A malformed
// patch aborts the whole AgentOutput with no partial application (§4.1
// Failure model); the caller marks the agent failed for this pass.
func Apply(s *state.CanonicalState, out *state.AgentOutput, now time.Time) (*Result, error) {
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("merge: invalid agent output from %s: %w", out.Agent, err)
	}

	working := s.MustClone()
	var raised []RaisedEvent

	// Rule 1: partition by section, fixed precedence.
	patches := make([]state.PatchOp, len(out.Patches))
	copy(patches, out.Patches)
	sort.SliceStable(patches, func(i, j int) bool {
		return sectionRank(patches[i].Path) < sectionRank(patches[j].Path)
	})

	for _, p := range patches {
		// Rule 3: decision ownership — reject attempts to write
		// selected_option_id directly; only the runtime writes it.
		if isSelectedOptionWrite(p.Path) {
			raised = append(raised, warn(p.Path, fmt.Sprintf("agent %s attempted to write %s directly; rejected", out.Agent, p.Path)))
			continue
		}

		// Rule 4: source-less evidence downgrade.
		meta := p.Meta
		if meta.SourceType == state.SourceEvidence && len(meta.Sources) == 0 {
			meta.SourceType = state.SourceAssumption
			if meta.Confidence > 0.6 {
				meta.Confidence = 0.6
			}
			raised = append(raised, warn(p.Path, fmt.Sprintf("evidence claim at %s had no sources; downgraded to assumption, confidence capped at 0.6", p.Path)))
		}

		applied, err := applyOneSectionPatch(working, p, meta, out, now)
		if err != nil {
			return nil, fmt.Errorf("merge: agent %s: %w", out.Agent, err)
		}
		if applied == working {
			// Rule 5 kept the existing value: the write is dropped, not silently.
			raised = append(raised, warn(p.Path, fmt.Sprintf("write to %s from agent %s not applied; the existing value takes precedence", p.Path, out.Agent)))
		}
		working = applied
	}

	// Evidence sources are deduped in one post-pass over the whole section,
	// after every patch has been applied. The output's facts[] (like its
	// assumptions[], risks[] and required_inputs[]) is not merged into the
	// state.
	if err := dedupeEvidenceSources(working); err != nil {
		return nil, fmt.Errorf("merge: agent %s: dedupe evidence: %w", out.Agent, err)
	}

	// Decision proposals become options, never selected_option_id (rule 3).
	for _, prop := range out.Proposals {
		if err := applyProposal(working, prop, now); err != nil {
			return nil, fmt.Errorf("merge: agent %s: proposal for %s: %w", out.Agent, prop.DecisionKey, err)
		}
	}

	// Rule 6: node upserts.
	for _, nu := range out.NodeUpdates {
		ev, err := upsertNode(working, nu, out.Agent, now)
		if err != nil {
			return nil, fmt.Errorf("merge: agent %s: node %s: %w", out.Agent, nu.NodeID, err)
		}
		raised = append(raised, ev)
	}

	working.Meta.UpdatedAt = now

	if err := working.Validate(); err != nil {
		return nil, fmt.Errorf("merge: agent %s: result failed schema validation: %w", out.Agent, err)
	}

	raised = append(raised, RaisedEvent{
		Type: events.TypeAgentProgress,
		Data: events.MustMarshal(map[string]any{"agent": out.Agent, "patch_count": len(out.Patches)}),
	})

	return &Result{State: working, Events: raised}, nil
}

func warn(path, msg string) RaisedEvent {
	return RaisedEvent{
		Type: events.TypeValidatorWarning,
		Data: events.MustMarshal(events.ValidatorWarningData{Path: path, Message: msg}),
	}
}
