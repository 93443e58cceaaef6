package state

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"
)

// ApplyPatch applies a single RFC 6902 operation to the state and returns the
// resulting state. It operates over the JSON representation — the state's
// strongly typed tree is only the in-memory shape; the wire boundary (and
// this primitive) works in plain JSON (see DESIGN.md).
//
// A patch whose path does not resolve, or whose result fails the canonical
// state schema, returns an error and leaves the input state's JSON bytes
// untouched (the merge engine is responsible for then aborting the whole
// AgentOutput, per §4.1's failure model).
func ApplyPatch(s *CanonicalState, op PatchOp) (*CanonicalState, error) {
	doc, err := s.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("state: marshal before patch: %w", err)
	}

	patchJSON, err := json.Marshal([]map[string]any{singleOpDoc(op)})
	if err != nil {
		return nil, fmt.Errorf("state: marshal patch op: %w", err)
	}

	patch, err := jsonpatch.DecodePatch(patchJSON)
	if err != nil {
		return nil, fmt.Errorf("state: decode patch: %w", err)
	}

	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("state: apply patch at %s: %w", op.Path, err)
	}

	if err := ValidateCanonicalState(patched); err != nil {
		return nil, fmt.Errorf("state: patched document failed schema validation: %w", err)
	}

	out, err := FromJSON(patched)
	if err != nil {
		return nil, fmt.Errorf("state: unmarshal patched document: %w", err)
	}
	return out, nil
}

func singleOpDoc(op PatchOp) map[string]any {
	m := map[string]any{"op": op.Op, "path": op.Path}
	if op.Op != "remove" {
		m["value"] = op.Value
	}
	return m
}

// Diff computes a JSON Merge Patch (RFC 7396) document that transforms a
// into b, used by the checkpoint store's scenario-compare contract (§4.4).
// ApplyMergeDiff applies it to a to reproduce b.
func Diff(a, b *CanonicalState) (json.RawMessage, error) {
	aJSON, err := a.ToJSON()
	if err != nil {
		return nil, err
	}
	bJSON, err := b.ToJSON()
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(aJSON, bJSON)
	if err != nil {
		return nil, fmt.Errorf("state: diff: %w", err)
	}
	return patch, nil
}

// ApplyMergeDiff applies a JSON Merge Patch produced by Diff to a, returning
// a state that should equal b (the round-trip property in spec §8).
func ApplyMergeDiff(a *CanonicalState, mergePatch json.RawMessage) (*CanonicalState, error) {
	aJSON, err := a.ToJSON()
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(aJSON, mergePatch)
	if err != nil {
		return nil, fmt.Errorf("state: apply merge diff: %w", err)
	}
	if err := ValidateCanonicalState(merged); err != nil {
		return nil, fmt.Errorf("state: merged document failed schema validation: %w", err)
	}
	return FromJSON(merged)
}
