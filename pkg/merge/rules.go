package merge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// toMetaRef expands a patch's provenance triple into a full MetaRef, stamping
// the writer and time from the enclosing AgentOutput envelope.
func toMetaRef(m state.PatchMeta, agent string, now time.Time) state.MetaRef {
	return state.MetaRef{
		SourceType: m.SourceType,
		Confidence: m.Confidence,
		Sources:    m.Sources,
		UpdatedBy:  agent,
		UpdatedAt:  now,
	}
}

// injectMeta stamps metaRef onto an object-shaped patch value that does not
// already carry one. Scalar and array-of-scalar patch values (e.g. a plain
// price_usd field) have no meta slot of their own; their provenance lives
// only in the patch's own Meta, which callers still record via events.
func injectMeta(value any, metaRef state.MetaRef) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}
	if _, has := m["meta"]; !has {
		m["meta"] = metaRef
	}
	return m
}

// existingMeta extracts the source_type/confidence pair from whatever already
// sits at path, if it is an object with a "meta" sub-object. found is false
// for scalars, missing paths, and objects with no meta.
func existingMeta(working *state.CanonicalState, path string) (srcType state.SourceType, confidence float64, found bool) {
	raw, err := working.ToJSON()
	if err != nil {
		return "", 0, false
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", 0, false
	}
	val, ok := getPointer(doc, path)
	if !ok {
		return "", 0, false
	}
	obj, ok := val.(map[string]any)
	if !ok {
		return "", 0, false
	}
	metaObj, ok := obj["meta"].(map[string]any)
	if !ok {
		return "", 0, false
	}
	st, _ := metaObj["source_type"].(string)
	conf, _ := metaObj["confidence"].(float64)
	return state.SourceType(st), conf, st != ""
}

// applyOneSectionPatch applies a single patch under merge rule 5 (confidence
// aggregation on conflicting writes): single-evidence-wins; both-evidence
// conflicts are rejected in favor of the existing value and flagged
// V-EVID-CONFLICT; both-non-evidence conflicts keep whichever has higher
// confidence (a tie keeps the existing value). When the incoming write
// loses, the input state is returned unchanged and Apply raises a validator
// warning for the dropped write.
func applyOneSectionPatch(working *state.CanonicalState, p state.PatchOp, meta state.PatchMeta, out *state.AgentOutput, now time.Time) (*state.CanonicalState, error) {
	metaRef := toMetaRef(meta, out.Agent, now)
	p.Value = injectMeta(p.Value, metaRef)

	existingType, existingConf, hasExisting := existingMeta(working, p.Path)
	if hasExisting && p.Op != "remove" {
		newIsEvidence := meta.SourceType == state.SourceEvidence
		oldIsEvidence := existingType == state.SourceEvidence

		switch {
		case oldIsEvidence && newIsEvidence:
			// Both evidence-backed: keep the existing value, flag the
			// conflict for a human or the validator to resolve rather than
			// silently picking a winner.
			working.Risks.Contradictions = append(working.Risks.Contradictions, state.Contradiction{
				RuleID:   "V-EVID-CONFLICT",
				Severity: state.SeverityHigh,
				Message:  fmt.Sprintf("conflicting evidence-backed writes at %s from agent %s", p.Path, out.Agent),
				Paths:    []string{p.Path},
			})
			return working, nil
		case oldIsEvidence && !newIsEvidence:
			// Single-evidence-wins: existing evidence beats a new non-evidence
			// write outright.
			return working, nil
		case !oldIsEvidence && newIsEvidence:
			// New evidence beats existing non-evidence; fall through to apply.
		default:
			// Both non-evidence: higher confidence wins.
			if existingConf >= meta.Confidence {
				return working, nil
			}
		}
	}

	return state.ApplyPatch(working, p)
}

// dedupeEvidenceSources implements merge rule 2: evidence sources are
// deduplicated by each source's stored CanonicalURL, falling back to URL
// when CanonicalURL is empty. No URL normalization is done here or anywhere
// else in this package: two spellings of one URL only merge if their
// CanonicalURL fields are equal. Snippets union; quality_score keeps the max
// observed.
func dedupeEvidenceSources(working *state.CanonicalState) error {
	byURL := map[string]*state.Source{}
	order := []string{}
	for i := range working.Evidence.Sources {
		src := working.Evidence.Sources[i]
		key := src.CanonicalURL
		if key == "" {
			key = src.URL
		}
		if existing, ok := byURL[key]; ok {
			existing.Snippets = unionStrings(existing.Snippets, src.Snippets)
			if src.QualityScore > existing.QualityScore {
				existing.QualityScore = src.QualityScore
			}
			if src.Meta.Confidence > existing.Meta.Confidence {
				existing.Meta = src.Meta
			}
			continue
		}
		cp := src
		byURL[key] = &cp
		order = append(order, key)
	}
	deduped := make([]state.Source, 0, len(order))
	for _, key := range order {
		deduped = append(deduped, *byURL[key])
	}
	working.Evidence.Sources = deduped
	return nil
}

func unionStrings(a, b []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// applyProposal implements the decision-slot half of merge rules 3 and 5: a
// proposal is always appended as an Option, recorded as inference with the
// proposal's confidence, never written to SelectedOptionID directly (rule 3).
// When the proposal names a RecommendedOptionID, the slot's
// RecommendedOptionID is recomputed as the highest-confidence option; the
// other options stay in place. Proposals carry no source type of their own,
// so no evidence precedence applies and no V-EVID-CONFLICT is raised here.
func applyProposal(working *state.CanonicalState, prop state.DecisionProposal, now time.Time) error {
	dec, err := decisionSlot(working, prop.DecisionKey)
	if err != nil {
		return err
	}

	opt := state.DecisionOption{
		OptionID:  prop.OptionID,
		Label:     prop.Label,
		Rationale: prop.Rationale,
		Meta: state.MetaRef{
			SourceType: state.SourceInference,
			Confidence: prop.Confidence,
			Sources:    []string{},
			UpdatedAt:  now,
		},
	}
	dec.Options = append(dec.Options, opt)

	if prop.RecommendedOptionID != "" {
		dec.RecommendedOptionID = recommendOption(dec)
	}
	return nil
}

// recommendOption picks the highest-confidence option as the recommendation,
// ties broken by option order (first proposed wins).
func recommendOption(dec *state.Decision) string {
	best := ""
	bestConf := -1.0
	for _, o := range dec.Options {
		if o.Meta.Confidence > bestConf {
			bestConf = o.Meta.Confidence
			best = o.OptionID
		}
	}
	return best
}

func decisionSlot(working *state.CanonicalState, key string) (*state.Decision, error) {
	switch key {
	case "icp":
		return &working.Decisions.ICP, nil
	case "positioning":
		return &working.Decisions.Positioning, nil
	case "pricing":
		return &working.Decisions.Pricing, nil
	case "channels":
		return &working.Decisions.Channels, nil
	case "sales_motion":
		return &working.Decisions.SalesMotion, nil
	default:
		return nil, fmt.Errorf("unknown decision key %q", key)
	}
}

// upsertNode implements merge rule 6. Nodes are upserted by stable ID:
// create makes a new node, or is equivalent to update if the node already
// exists; update merges fields onto the existing node; finalize marks it
// final and rejects any further non-override writes by returning an error.
// Apply passes that error up, which aborts the whole AgentOutput, and the
// scheduler records the agent as failed (§C.5: finalize freezes a node against further agent writes, not
// against explicit user overrides, which this package never receives —
// overrides arrive as runtime-authored patches instead).
func upsertNode(working *state.CanonicalState, nu state.NodeUpdate, agent string, now time.Time) (RaisedEvent, error) {
	idx := -1
	for i, n := range working.Graph.Nodes {
		if n.ID == nu.NodeID {
			idx = i
			break
		}
	}

	switch nu.Action {
	case state.NodeActionCreate:
		if idx >= 0 {
			// create is equivalent to update if the node exists (§4.1 rule 6).
			return mergeNodeFields(working, idx, nu, agent, now)
		}
		node := state.Node{
			ID:           nu.NodeID,
			Type:         nu.NodeType,
			Label:        nu.Label,
			Status:       "draft",
			EvidenceRefs: nu.EvidenceRefs,
			Meta: state.MetaRef{
				SourceType: nu.SourceType,
				Confidence: nu.Confidence,
				Sources:    nu.Sources,
				UpdatedBy:  agent,
				UpdatedAt:  now,
			},
		}
		if node.EvidenceRefs == nil {
			node.EvidenceRefs = []string{}
		}
		if node.Meta.Sources == nil {
			node.Meta.Sources = []string{}
		}
		node.Meta.Clamp()
		working.Graph.Nodes = append(working.Graph.Nodes, node)
		return RaisedEvent{Type: events.TypeNodeCreated, Data: events.MustMarshal(events.NodeData{NodeID: node.ID, Type: node.Type})}, nil

	case state.NodeActionUpdate:
		if idx < 0 {
			return RaisedEvent{}, fmt.Errorf("node %s does not exist", nu.NodeID)
		}
		return mergeNodeFields(working, idx, nu, agent, now)

	case state.NodeActionFinalize:
		if idx < 0 {
			return RaisedEvent{}, fmt.Errorf("node %s does not exist", nu.NodeID)
		}
		working.Graph.Nodes[idx].Status = "final"
		return RaisedEvent{Type: events.TypeNodeUpdated, Data: events.MustMarshal(events.NodeData{NodeID: nu.NodeID, Type: working.Graph.Nodes[idx].Type})}, nil

	default:
		return RaisedEvent{}, fmt.Errorf("unknown node update action %q", nu.Action)
	}
}

// mergeNodeFields merges nu onto the existing node at working.Graph.Nodes[idx],
// shared by the update action and by create when it targets an already
// existing node (§4.1 rule 6: "create is equivalent to update if the node
// exists"). Rejects the write if the node was finalized.
func mergeNodeFields(working *state.CanonicalState, idx int, nu state.NodeUpdate, agent string, now time.Time) (RaisedEvent, error) {
	if working.Graph.Nodes[idx].Status == "final" {
		return RaisedEvent{}, fmt.Errorf("node %s is finalized; rejecting non-override write", nu.NodeID)
	}
	n := &working.Graph.Nodes[idx]
	if nu.Label != "" {
		n.Label = nu.Label
	}
	if len(nu.EvidenceRefs) > 0 {
		n.EvidenceRefs = unionStrings(n.EvidenceRefs, nu.EvidenceRefs)
	}
	n.Meta = state.MetaRef{SourceType: nu.SourceType, Confidence: nu.Confidence, Sources: nu.Sources, UpdatedBy: agent, UpdatedAt: now}
	n.Meta.Clamp()
	return RaisedEvent{Type: events.TypeNodeUpdated, Data: events.MustMarshal(events.NodeData{NodeID: n.ID, Type: n.Type})}, nil
}
