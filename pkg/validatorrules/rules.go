// Package validatorrules implements the fixed validator rule table (§4.2): a
// pure function over a CanonicalState that returns the Contradictions found.
// The scheduler and the completion endpoint act on the returned list; none
// of them writes it into risks.contradictions. Each rule is a small,
// independently named check function run in a fixed order, collecting every
// contradiction found rather than failing fast on the first one, since the
// reconciliation loop needs the full set to act on.
package validatorrules

import (
	"strings"

	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// Options carries context the rule table needs beyond the state itself.
type Options struct {
	// AtCompletion is true when the check runs as part of a completion/export
	// gate (§4.6 POST /scenarios/{id}/complete) rather than a routine
	// reconciliation pass. V-ICP-01 only fires at completion time.
	AtCompletion bool
}

// ruleFunc is one entry in the fixed rule table.
type ruleFunc func(s *state.CanonicalState, opts Options) []state.Contradiction

// ruleTable lists the nine rules with a fully specified name and condition.
// The full rule table names fourteen entries; the remaining five are left
// for a future revision (see DESIGN.md) pending a fully specified
// condition for each.
var ruleTable = []ruleFunc{
	checkICP01,
	checkPrice01,
	checkChan01,
	checkSales01,
	checkPrice02,
	checkTech01,
	checkEvid01,
	checkEvid02,
	checkCont01,
}

// Validate runs every rule in the table and returns every contradiction
// found, in table order. It never mutates s.
func Validate(s *state.CanonicalState, opts Options) []state.Contradiction {
	var out []state.Contradiction
	for _, rule := range ruleTable {
		out = append(out, rule(s, opts)...)
	}
	return out
}

func checkICP01(s *state.CanonicalState, opts Options) []state.Contradiction {
	if !opts.AtCompletion {
		return nil
	}
	if s.Decisions.ICP.SelectedOptionID != "" {
		return nil
	}
	return []state.Contradiction{{
		RuleID:         "V-ICP-01",
		Severity:       state.SeverityCritical,
		Message:        "completion attempted with no ICP decision selected",
		Paths:          []string{"decisions.icp.selected_option_id"},
		RecommendedFix: "select or override decisions.icp before completing",
	}}
}

func checkPrice01(s *state.CanonicalState, _ Options) []state.Contradiction {
	p := s.Decisions.Pricing
	if len(p.Tiers) == 0 || p.Metric != "" {
		return nil
	}
	return []state.Contradiction{{
		RuleID:         "V-PRICE-01",
		Severity:       state.SeverityCritical,
		Message:        "pricing tiers are set but no pricing metric is defined",
		Paths:          []string{"decisions.pricing.metric", "decisions.pricing.tiers"},
		RecommendedFix: "set decisions.pricing.metric before proposing tiers",
	}}
}

func checkChan01(s *state.CanonicalState, _ Options) []state.Contradiction {
	if !isB2BCategory(s.Idea.Category) {
		return nil
	}
	if len(s.Decisions.Channels.PrimaryChannels) <= 2 {
		return nil
	}
	return []state.Contradiction{{
		RuleID:         "V-CHAN-01",
		Severity:       state.SeverityHigh,
		Message:        "more than two primary channels proposed for a B2B category",
		Paths:          []string{"decisions.channels.primary_channels"},
		RecommendedFix: "narrow to at most two primary channels for a focused B2B motion",
	}}
}

func checkSales01(s *state.CanonicalState, _ Options) []state.Contradiction {
	if s.Decisions.SalesMotion.Motion != state.MotionPLG {
		return nil
	}
	icp := s.Decisions.ICP
	isEnterprise := strings.EqualFold(icp.CompanySize, "enterprise")
	hasProcurement := strings.Contains(strings.ToLower(icp.BudgetOwner), "procurement")
	if !isEnterprise && !hasProcurement {
		return nil
	}
	return []state.Contradiction{{
		RuleID:         "V-SALES-01",
		Severity:       state.SeverityHigh,
		Message:        "PLG motion selected but the ICP is enterprise or procurement-gated",
		Paths:          []string{"decisions.sales_motion.motion", "decisions.icp"},
		RecommendedFix: "switch to sales_led or hybrid motion, or revisit the ICP",
	}}
}

// priceTestSignificanceFactor is the threshold above the max observed
// pricing anchor at which a first price-to-test is considered "significantly
// above" (§4.2 V-PRICE-02). The rule's condition names no exact number, so
// 1.5x is chosen as a concrete, defensible threshold rather than leaving
// the rule unable to fire.
const priceTestSignificanceFactor = 1.5

func checkPrice02(s *state.CanonicalState, _ Options) []state.Contradiction {
	tiers := s.Decisions.Pricing.Tiers
	if len(tiers) == 0 {
		return nil
	}
	firstPrice := tiers[0].PriceUSD

	maxAnchor := 0.0
	for _, a := range s.Evidence.PricingAnchors {
		if a.PriceUSD > maxAnchor {
			maxAnchor = a.PriceUSD
		}
	}
	if maxAnchor == 0 || firstPrice <= maxAnchor*priceTestSignificanceFactor {
		return nil
	}

	if hasPricingValidationExperiment(s) {
		return nil
	}

	return []state.Contradiction{{
		RuleID:         "V-PRICE-02",
		Severity:       state.SeverityHigh,
		Message:        "first price to test is well above all observed pricing anchors with no validation experiment planned",
		Paths:          []string{"decisions.pricing.tiers"},
		RecommendedFix: "add a pricing validation experiment or lower the first price to test",
	}}
}

func hasPricingValidationExperiment(s *state.CanonicalState) bool {
	for _, e := range s.Execution.Experiments {
		if strings.Contains(strings.ToLower(e.Metric), "pric") || strings.Contains(strings.ToLower(e.Hypothesis), "pric") {
			return true
		}
	}
	return false
}

func checkTech01(s *state.CanonicalState, _ Options) []state.Contradiction {
	if s.Constraints.ComplianceLevel != "high" {
		return nil
	}
	for _, n := range s.Graph.Nodes {
		if n.Type == "security_plan" || n.Type == "data_plan" {
			return nil
		}
	}
	return []state.Contradiction{{
		RuleID:         "V-TECH-01",
		Severity:       state.SeverityCritical,
		Message:        "compliance_level is high but no security or data plan node exists",
		Paths:          []string{"constraints.compliance_level", "graph"},
		RecommendedFix: "have tech_feasibility produce a security/data plan node",
	}}
}

func checkEvid01(s *state.CanonicalState, _ Options) []state.Contradiction {
	if isNovelCategory(s.Idea.Category) {
		return nil
	}
	if len(s.Evidence.Competitors) > 0 {
		return nil
	}
	return []state.Contradiction{{
		RuleID:         "V-EVID-01",
		Severity:       state.SeverityHigh,
		Message:        "no competitors recorded for a non-novel category",
		Paths:          []string{"evidence.competitors"},
		RecommendedFix: "run competitive_teardown before proceeding",
	}}
}

func checkEvid02(s *state.CanonicalState, _ Options) []state.Contradiction {
	if s.Decisions.Pricing.SelectedOptionID == "" {
		return nil
	}
	if len(s.Evidence.PricingAnchors) > 0 {
		return nil
	}
	return []state.Contradiction{{
		RuleID:         "V-EVID-02",
		Severity:       state.SeverityHigh,
		Message:        "pricing is decided but no pricing anchors were collected",
		Paths:          []string{"evidence.pricing_anchors", "decisions.pricing"},
		RecommendedFix: "collect comparable pricing anchors to justify the decided price",
	}}
}

// minOverrideJustificationLen is the §4.2 V-CONT-01 threshold.
const minOverrideJustificationLen = 20

func checkCont01(s *state.CanonicalState, _ Options) []state.Contradiction {
	var out []state.Contradiction
	for key, dec := range decisionsByKey(s) {
		if dec.Override == nil || !dec.Override.IsCustom {
			continue
		}
		if len(dec.Override.Justification) >= minOverrideJustificationLen {
			continue
		}
		out = append(out, state.Contradiction{
			RuleID:         "V-CONT-01",
			Severity:       state.SeverityHigh,
			Message:        "custom override on " + key + " has a justification shorter than 20 characters",
			Paths:          []string{"decisions." + key + ".override"},
			RecommendedFix: "provide a fuller justification for the override",
		})
	}
	return out
}

func decisionsByKey(s *state.CanonicalState) map[string]state.Decision {
	return map[string]state.Decision{
		"icp":          s.Decisions.ICP,
		"positioning":  s.Decisions.Positioning,
		"pricing":      s.Decisions.Pricing,
		"channels":     s.Decisions.Channels,
		"sales_motion": s.Decisions.SalesMotion,
	}
}

func isB2BCategory(category string) bool {
	return strings.HasPrefix(strings.ToLower(category), "b2b")
}

func isNovelCategory(category string) bool {
	return strings.EqualFold(category, "novel")
}
