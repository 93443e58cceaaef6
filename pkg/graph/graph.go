// Package graph holds the static agent topology the scheduler drives: the
// thirteen-agent sequence, the decision-to-decision cascade table for
// overrides, and the path-to-agent attribution map the validator uses to
// target reconciliation reruns (§4.2, §4.3).
package graph

// AgentSequence is the topologically sorted, fixed agent roster (§4.3): a
// six-pillar, thirteen-agent topology chosen to match the validator rule
// table (§9 Open Question).
var AgentSequence = []string{
	"evidence_collector",
	"competitive_teardown",
	"icp",
	"positioning",
	"pricing",
	"channels",
	"sales_motion",
	"product_strategy",
	"tech_feasibility",
	"people_cash",
	"execution",
	"graph_builder",
	"validator",
}

// AlwaysRun is unioned into every reconciliation and override-cascade round
// regardless of which contradictions or decisions triggered it (§4.3).
var AlwaysRun = map[string]bool{
	"graph_builder": true,
	"validator":     true,
}

// DecisionDependencyGraph is the static cascade table consulted on user
// override (§4.3 Partial rerun). Keys and values are decision keys, not
// agent names — OverrideCascade below resolves a decision key's cascade set
// to the corresponding agent names.
var DecisionDependencyGraph = map[string][]string{
	"icp":          {"pricing", "channels", "sales_motion", "positioning"},
	"positioning":  {"pricing", "channels"},
	"pricing":      {"sales_motion"},
	"channels":     {"sales_motion"},
	"sales_motion": {},
}

// decisionKeyToAgent maps a decision slot to the agent that owns proposing
// its options. Only these five agents double as decision keys; the
// remaining eight agents in AgentSequence never appear as cascade targets
// via this map (they're pulled in only via PathToAgent attribution).
var decisionKeyToAgent = map[string]string{
	"icp":          "icp",
	"positioning":  "positioning",
	"pricing":      "pricing",
	"channels":     "channels",
	"sales_motion": "sales_motion",
}

// OverrideCascade returns the set of agents (plus AlwaysRun) that must
// re-execute after the user overrides decisionKey, in topological order.
func OverrideCascade(decisionKey string) []string {
	affected := map[string]bool{}
	var walk func(string)
	walk = func(key string) {
		for _, next := range DecisionDependencyGraph[key] {
			if agent, ok := decisionKeyToAgent[next]; ok && !affected[agent] {
				affected[agent] = true
				walk(next)
			}
		}
	}
	walk(decisionKey)
	for agent := range AlwaysRun {
		affected[agent] = true
	}
	return topologicalSubset(affected)
}

// PathToAgent is the static path → responsible_agent attribution table
// (§4.2 Agent attribution). A contradiction's Paths are looked up here to
// determine which agents must rerun during reconciliation.
var PathToAgent = map[string]string{
	"decisions.icp":                   "icp",
	"decisions.icp.selected_option_id": "icp",
	"decisions.positioning":           "positioning",
	"decisions.pricing":               "pricing",
	"decisions.pricing.metric":        "pricing",
	"decisions.pricing.tiers":         "pricing",
	"decisions.channels":              "channels",
	"decisions.channels.primary_channels": "channels",
	"decisions.sales_motion":          "sales_motion",
	"decisions.sales_motion.motion":   "sales_motion",
	"evidence.competitors":            "competitive_teardown",
	"evidence.pricing_anchors":        "competitive_teardown",
	"constraints.compliance_level":    "tech_feasibility",
	"graph":                           "graph_builder",
}

// ResponsibleAgents resolves a contradiction's Paths to the set of agents
// that must rerun, via PathToAgent, unioned with AlwaysRun.
func ResponsibleAgents(paths []string) []string {
	affected := map[string]bool{}
	for _, p := range paths {
		if agent, ok := PathToAgent[p]; ok {
			affected[agent] = true
			continue
		}
		// fall back to prefix match, e.g. "decisions.pricing.tiers.0.price_usd"
		for known, agent := range PathToAgent {
			if len(p) > len(known) && p[:len(known)] == known {
				affected[agent] = true
			}
		}
	}
	for agent := range AlwaysRun {
		affected[agent] = true
	}
	return topologicalSubset(affected)
}

// topologicalSubset returns the members of set in AgentSequence order.
func topologicalSubset(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for _, agent := range AgentSequence {
		if set[agent] {
			out = append(out, agent)
		}
	}
	return out
}
