package validatorrules

import (
	"testing"
	"time"

	"github.com/codeready-toolchain/gtmcore/pkg/state"
	"github.com/stretchr/testify/assert"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func baseState() *state.CanonicalState {
	return state.New("scn_1", "proj_1",
		state.Idea{Name: "n", OneLiner: "o", Problem: "p", Region: "us", Category: "b2b_saas"},
		state.Constraints{TeamSize: 2, TimelineWeeks: 8, BudgetUSD: 50000, ComplianceLevel: "low"},
		fixedNow)
}

func ruleIDs(cs []state.Contradiction) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.RuleID
	}
	return ids
}

func TestValidate_ICP01_OnlyFiresAtCompletion(t *testing.T) {
	s := baseState()

	assert.NotContains(t, ruleIDs(Validate(s, Options{AtCompletion: false})), "V-ICP-01")
	assert.Contains(t, ruleIDs(Validate(s, Options{AtCompletion: true})), "V-ICP-01")

	s.Decisions.ICP.SelectedOptionID = "opt_1"
	assert.NotContains(t, ruleIDs(Validate(s, Options{AtCompletion: true})), "V-ICP-01")
}

func TestValidate_Price01_TiersWithoutMetric(t *testing.T) {
	s := baseState()
	s.Decisions.Pricing.Tiers = []state.PricingTier{{Name: "starter", PriceUSD: 49}}
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-PRICE-01")

	s.Decisions.Pricing.Metric = "per_seat"
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-PRICE-01")
}

func TestValidate_Chan01_TooManyChannelsForB2B(t *testing.T) {
	s := baseState()
	s.Decisions.Channels.PrimaryChannels = []string{"outbound", "content", "paid_search"}
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-CHAN-01")

	s.Decisions.Channels.PrimaryChannels = []string{"outbound", "content"}
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-CHAN-01")
}

func TestValidate_Sales01_PLGEnterpriseMismatch(t *testing.T) {
	s := baseState()
	s.Decisions.SalesMotion.Motion = state.MotionPLG
	s.Decisions.ICP.CompanySize = "enterprise"
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-SALES-01")

	s.Decisions.ICP.CompanySize = "smb"
	s.Decisions.ICP.BudgetOwner = "central procurement team"
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-SALES-01")

	s.Decisions.ICP.BudgetOwner = "founder"
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-SALES-01")
}

func TestValidate_Price02_NoValidationExperiment(t *testing.T) {
	s := baseState()
	s.Evidence.PricingAnchors = []state.PricingAnchor{{CompetitorName: "Acme", Metric: "per_seat", PriceUSD: 20}}
	s.Decisions.Pricing.Tiers = []state.PricingTier{{Name: "pro", PriceUSD: 100}}
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-PRICE-02")

	s.Execution.Experiments = []state.Experiment{{Name: "price test", Hypothesis: "pricing premium holds", Metric: "pricing_conversion", Status: "planned"}}
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-PRICE-02")
}

func TestValidate_Tech01_HighComplianceNeedsSecurityNode(t *testing.T) {
	s := baseState()
	s.Constraints.ComplianceLevel = "high"
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-TECH-01")

	s.Graph.Nodes = append(s.Graph.Nodes, state.Node{ID: "n1", Type: "security_plan", Label: "plan", Status: "draft"})
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-TECH-01")
}

func TestValidate_Evid01_NoCompetitorsForNonNovelCategory(t *testing.T) {
	s := baseState()
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-EVID-01")

	s.Idea.Category = "novel"
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-EVID-01")
}

func TestValidate_Evid02_PricingDecidedWithoutAnchors(t *testing.T) {
	s := baseState()
	s.Decisions.Pricing.SelectedOptionID = "opt_1"
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-EVID-02")

	s.Evidence.PricingAnchors = []state.PricingAnchor{{CompetitorName: "Acme", Metric: "per_seat", PriceUSD: 20}}
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-EVID-02")
}

func TestValidate_Cont01_ShortJustification(t *testing.T) {
	s := baseState()
	s.Decisions.Pricing.Override = &state.Override{IsCustom: true, Justification: "too short"}
	assert.Contains(t, ruleIDs(Validate(s, Options{})), "V-CONT-01")

	s.Decisions.Pricing.Override.Justification = "the team has run five customer interviews confirming this number"
	assert.NotContains(t, ruleIDs(Validate(s, Options{})), "V-CONT-01")
}
