package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverrideCascade_ICP(t *testing.T) {
	got := OverrideCascade("icp")
	assert.Equal(t, []string{"positioning", "pricing", "channels", "sales_motion", "graph_builder", "validator"}, got)
}

func TestOverrideCascade_Pricing(t *testing.T) {
	got := OverrideCascade("pricing")
	assert.Equal(t, []string{"sales_motion", "graph_builder", "validator"}, got)
}

func TestResponsibleAgents_UnionsAlwaysRun(t *testing.T) {
	got := ResponsibleAgents([]string{"decisions.icp.selected_option_id"})
	assert.Contains(t, got, "icp")
	assert.Contains(t, got, "graph_builder")
	assert.Contains(t, got, "validator")
}

func TestResponsibleAgents_PrefixMatch(t *testing.T) {
	got := ResponsibleAgents([]string{"decisions.pricing.tiers.0.price_usd"})
	assert.Contains(t, got, "pricing")
}

func TestAgentSequence_IsStable(t *testing.T) {
	assert.Len(t, AgentSequence, 13)
	assert.Equal(t, "evidence_collector", AgentSequence[0])
	assert.Equal(t, "validator", AgentSequence[len(AgentSequence)-1])
}
