package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFixtureState(t *testing.T) *CanonicalState {
	t.Helper()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New("scn_1", "proj_1", Idea{
		Name: "AI call assistant", OneLiner: "calls for you", Problem: "too many calls",
		Region: "us", Category: "b2b_saas",
	}, Constraints{TeamSize: 3, TimelineWeeks: 8, BudgetUSD: 20000, ComplianceLevel: "low"}, now)
	require.NoError(t, s.Validate())
	return s
}

func TestNewState_ValidatesAgainstSchema(t *testing.T) {
	newFixtureState(t)
}

func TestClone_IsIndependent(t *testing.T) {
	s := newFixtureState(t)
	clone := s.MustClone()
	clone.Idea.Name = "mutated"
	assert.Equal(t, "AI call assistant", s.Idea.Name)
	assert.Equal(t, "mutated", clone.Idea.Name)
}

func TestMetaRef_Clamp_DowngradesSourcelessEvidence(t *testing.T) {
	m := MetaRef{SourceType: SourceEvidence, Confidence: 0.9, Sources: nil}
	downgraded := m.Clamp()
	assert.True(t, downgraded)
	assert.Equal(t, SourceAssumption, m.SourceType)
	assert.LessOrEqual(t, m.Confidence, 0.6)
}

func TestMetaRef_Clamp_NoOpWhenSourced(t *testing.T) {
	m := MetaRef{SourceType: SourceEvidence, Confidence: 0.9, Sources: []string{"https://x.com"}}
	downgraded := m.Clamp()
	assert.False(t, downgraded)
	assert.Equal(t, SourceEvidence, m.SourceType)
	assert.Equal(t, 0.9, m.Confidence)
}

func TestApplyPatch_ReplaceScalarLeavesInputUnmutated(t *testing.T) {
	s := newFixtureState(t)
	out, err := ApplyPatch(s, PatchOp{
		Op:   "replace",
		Path: "/idea/region",
		Value: "eu",
		Meta: PatchMeta{SourceType: SourceInference, Confidence: 0.8},
	})
	require.NoError(t, err)
	assert.Equal(t, "eu", out.Idea.Region)
	assert.Equal(t, "us", s.Idea.Region, "input state must not be mutated")
}

func TestApplyPatch_RejectsUnknownTopLevelKey(t *testing.T) {
	s := newFixtureState(t)
	_, err := ApplyPatch(s, PatchOp{
		Op:    "add",
		Path:  "/bogus_section",
		Value: map[string]any{"x": 1},
		Meta:  PatchMeta{SourceType: SourceInference, Confidence: 0.5},
	})
	assert.Error(t, err)
}

func TestDiffAndApplyMergeDiff_RoundTrip(t *testing.T) {
	a := newFixtureState(t)
	b := a.MustClone()
	b.Idea.OneLiner = "changed one-liner"

	patch, err := Diff(a, b)
	require.NoError(t, err)

	applied, err := ApplyMergeDiff(a, patch)
	require.NoError(t, err)
	assert.Equal(t, b.Idea.OneLiner, applied.Idea.OneLiner)
}

func TestAgentOutput_Validate(t *testing.T) {
	out := &AgentOutput{
		Agent:      "evidence_collector",
		RunID:      "run_1",
		ProducedAt: time.Now().UTC(),
		Patches: []PatchOp{
			{Op: "replace", Path: "/idea/region", Value: "eu", Meta: PatchMeta{SourceType: SourceInference, Confidence: 0.7}},
		},
	}
	assert.NoError(t, out.Validate())
}
