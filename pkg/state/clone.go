package state

import "encoding/json"

// Clone returns a deep copy of the state. Agents receive a cloned snapshot
// and can never mutate the scheduler's copy directly (§4.3 Pass 1 step 2).
//
// CanonicalState is a tree of plain structs and slices with no cycles, so a
// marshal/unmarshal round trip is both correct and cheap relative to the
// provider call that follows it — the same JSON representation is needed for
// checkpointing and schema validation anyway.
func (s *CanonicalState) Clone() (*CanonicalState, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out CanonicalState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MustClone panics on marshal failure. Only safe to call on a state already
// known to be schema-valid (e.g. one that has just passed Validate).
func (s *CanonicalState) MustClone() *CanonicalState {
	out, err := s.Clone()
	if err != nil {
		panic(err)
	}
	return out
}

// ToJSON renders the state to canonical (field-ordered by struct definition)
// JSON bytes.
func (s *CanonicalState) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON parses state bytes without schema validation. Callers that need
// the §3 contract enforced should call Validate (schema.go) afterward.
func FromJSON(raw []byte) (*CanonicalState, error) {
	var out CanonicalState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
