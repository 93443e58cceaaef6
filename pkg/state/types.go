// Package state defines the canonical state document: the single JSON-shaped
// record that holds everything known about one scenario at one checkpoint.
//
// The wire format is JSON, validated against canonical_state.schema.json at
// every write (§3, §6). In memory the shape is a strongly typed tree —
// tagged variants for source_type, severity, and motion — rather than a
// free-form document; JSON only lives at the ingress/egress boundary.
package state

import "time"

// SourceType classifies how a leaf claim was obtained.
type SourceType string

const (
	SourceEvidence   SourceType = "evidence"
	SourceInference  SourceType = "inference"
	SourceAssumption SourceType = "assumption"
)

// Severity classifies a validator contradiction.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// SalesMotion enumerates the recognized go-to-market motions.
type SalesMotion string

const (
	MotionPLG          SalesMotion = "plg"
	MotionSalesLed      SalesMotion = "sales_led"
	MotionHybrid        SalesMotion = "hybrid"
	MotionPartnerLed    SalesMotion = "partner_led"
)

// MetaRef is attached to every leaf claim in the state and records its
// provenance (§3 invariants).
type MetaRef struct {
	SourceType SourceType `json:"source_type"`
	Confidence float64    `json:"confidence"`
	Sources    []string   `json:"sources"`
	UpdatedBy  string     `json:"updated_by"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Clamp enforces the source-less-evidence downgrade rule (merge rule 4): a
// claim labeled evidence with no sources is rewritten to assumption with
// confidence capped at 0.6.
func (m *MetaRef) Clamp() (downgraded bool) {
	if m.SourceType == SourceEvidence && len(m.Sources) == 0 {
		m.SourceType = SourceAssumption
		if m.Confidence > 0.6 {
			m.Confidence = 0.6
		}
		return true
	}
	return false
}

// Meta holds run/scenario identity and versioning.
type Meta struct {
	ScenarioID    string    `json:"scenario_id"`
	ProjectID     string    `json:"project_id"`
	RunID         string    `json:"run_id,omitempty"`
	SchemaVersion string    `json:"schema_version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Idea is set at scenario creation and never mutated by agents.
type Idea struct {
	Name     string `json:"name"`
	OneLiner string `json:"one_liner"`
	Problem  string `json:"problem"`
	Region   string `json:"region"`
	Category string `json:"category"`
}

// Constraints is set at creation and read-only to agents.
type Constraints struct {
	TeamSize         int    `json:"team_size"`
	TimelineWeeks    int    `json:"timeline_weeks"`
	BudgetUSD        int    `json:"budget_usd"`
	ComplianceLevel  string `json:"compliance_level"` // "low" | "medium" | "high"
}

// IntakeAnswer is one answer in the ordered intake sequence, written by the
// intake module (a synthetic agent named "_intake") and read-only to agents.
type IntakeAnswer struct {
	QuestionID string  `json:"question_id"`
	Question   string  `json:"question"`
	Answer     string  `json:"answer"`
	Meta       MetaRef `json:"meta"`
}

// Inputs holds the ordered intake answers and any outstanding open questions.
type Inputs struct {
	IntakeAnswers  []IntakeAnswer `json:"intake_answers"`
	OpenQuestions  []string       `json:"open_questions"`
}

// RequiredIntakeQuestions is the fixed set of question IDs the conversational
// intake module (an external collaborator, §1) must answer before a run can
// start agent execution (§8 Boundary behaviors: "a run with empty intake
// answers never starts agent execution; it returns a required_inputs list").
var RequiredIntakeQuestions = []string{
	"company_type",
	"existing_customers",
	"primary_region",
	"launch_timeline",
	"budget_confirmed",
}

// Source is a deduplicated evidence source, keyed by canonical URL.
type Source struct {
	URL          string   `json:"url"`
	CanonicalURL string   `json:"canonical_url"`
	Title        string   `json:"title"`
	Snippets     []string `json:"snippets"`
	QualityScore float64  `json:"quality_score"`
	Meta         MetaRef  `json:"meta"`
}

// Competitor, PricingAnchor, MessagingPattern, and ChannelSignal are evidence
// sub-records contributed by evidence agents.
type Competitor struct {
	Name        string  `json:"name"`
	URL         string  `json:"url"`
	Description string  `json:"description"`
	Meta        MetaRef `json:"meta"`
}

type PricingAnchor struct {
	CompetitorName string  `json:"competitor_name"`
	Metric         string  `json:"metric"`
	PriceUSD       float64 `json:"price_usd"`
	Meta           MetaRef `json:"meta"`
}

type MessagingPattern struct {
	Theme   string  `json:"theme"`
	Example string  `json:"example"`
	Meta    MetaRef `json:"meta"`
}

type ChannelSignal struct {
	Channel string  `json:"channel"`
	Signal  string  `json:"signal"`
	Meta    MetaRef `json:"meta"`
}

// Evidence is written by evidence agent(s).
type Evidence struct {
	Sources           []Source           `json:"sources"`
	Competitors       []Competitor       `json:"competitors"`
	PricingAnchors    []PricingAnchor    `json:"pricing_anchors"`
	MessagingPatterns []MessagingPattern `json:"messaging_patterns"`
	ChannelSignals    []ChannelSignal    `json:"channel_signals"`
}

// Override records a user's custom selection with a required justification
// (§3, §4.6).
type Override struct {
	IsCustom      bool   `json:"is_custom"`
	Justification string `json:"justification,omitempty"`
}

// DecisionOption is one candidate value an agent proposed for a decision slot.
type DecisionOption struct {
	OptionID    string  `json:"option_id"`
	Label       string  `json:"label"`
	Rationale   string  `json:"rationale"`
	Meta        MetaRef `json:"meta"`
}

// Decision is one of the five decision slots: icp, positioning, pricing,
// channels, sales_motion. Only the runtime writes SelectedOptionID (§3, rule 3).
type Decision struct {
	Options             []DecisionOption `json:"options"`
	RecommendedOptionID string           `json:"recommended_option_id,omitempty"`
	SelectedOptionID     string          `json:"selected_option_id,omitempty"`
	Override             *Override       `json:"override,omitempty"`
	Meta                 MetaRef         `json:"meta"`

	// Motion is populated only on the sales_motion decision, used by
	// validator rule V-SALES-01.
	Motion SalesMotion `json:"motion,omitempty"`

	// Metric and Tiers are populated only on the pricing decision, used by
	// validator rules V-PRICE-01/V-PRICE-02.
	Metric string        `json:"metric,omitempty"`
	Tiers  []PricingTier `json:"tiers,omitempty"`

	// PrimaryChannels is populated only on the channels decision, used by
	// validator rule V-CHAN-01.
	PrimaryChannels []string `json:"primary_channels,omitempty"`

	// CompanySize and BudgetOwner are populated only on the icp decision,
	// used by validator rule V-SALES-01.
	CompanySize string `json:"company_size,omitempty"`
	BudgetOwner string `json:"budget_owner,omitempty"`
}

type PricingTier struct {
	Name     string  `json:"name"`
	PriceUSD float64 `json:"price_usd"`
	Meta     MetaRef `json:"meta"`
}

// Decisions is the fixed set of five decision slots.
type Decisions struct {
	ICP         Decision `json:"icp"`
	Positioning Decision `json:"positioning"`
	Pricing     Decision `json:"pricing"`
	Channels    Decision `json:"channels"`
	SalesMotion Decision `json:"sales_motion"`
}

// Pillar is a per-pillar summary written by a pillar agent.
type Pillar struct {
	Name        string   `json:"name"`
	Summary     string   `json:"summary"`
	KeyOutputs  []string `json:"key_outputs"`
	Meta        MetaRef  `json:"meta"`
}

// Pillars is keyed by pillar name (e.g. "market_intelligence", "customer",
// "positioning_pricing", "go_to_market", "product_tech", "execution").
type Pillars struct {
	Items map[string]Pillar `json:"items"`
}

// Node is a graph vertex with a stable semantic ID (dotted path, e.g.
// "market.icp.summary"). Upserted, never duplicated (§3).
type Node struct {
	ID            string   `json:"id"`
	Type          string   `json:"type"` // e.g. "competitor", "pricing", "summary"
	Label         string   `json:"label"`
	Status        string   `json:"status"` // "draft" | "final"
	EvidenceRefs  []string `json:"evidence_refs"`
	Meta          MetaRef  `json:"meta"`
}

type Edge struct {
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Kind   string `json:"kind"`
}

type Group struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	NodeIDs []string `json:"node_ids"`
}

// Graph is written by the graph-builder agent.
type Graph struct {
	Nodes  []Node  `json:"nodes"`
	Edges  []Edge  `json:"edges"`
	Groups []Group `json:"groups"`
}

// Contradiction is a validator finding (§4.2).
type Contradiction struct {
	RuleID         string   `json:"rule_id"`
	Severity       Severity `json:"severity"`
	Message        string   `json:"message"`
	Paths          []string `json:"paths"`
	RecommendedFix string   `json:"recommended_fix,omitempty"`
}

// Risks holds the contradictions recorded in the state. The merge engine
// appends V-EVID-CONFLICT entries here; the validator's results are returned
// by validatorrules.Validate and are not written into this section.
type Risks struct {
	Contradictions []Contradiction `json:"contradictions"`
	MissingProof   []string        `json:"missing_proof"`
	HighRiskFlags  []string        `json:"high_risk_flags"`
}

type NextAction struct {
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

type Experiment struct {
	Name        string `json:"name"`
	Hypothesis  string `json:"hypothesis"`
	Metric      string `json:"metric"`
	Status      string `json:"status"`
}

type Asset struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	URL  string `json:"url,omitempty"`
}

// Execution is written by the execution agent plus the user.
type Execution struct {
	Track       string       `json:"track,omitempty"`
	NextActions []NextAction `json:"next_actions"`
	Experiments []Experiment `json:"experiments"`
	Assets      []Asset      `json:"assets"`
}

// AgentTiming records one agent's execution timing, written by the runtime.
type AgentTiming struct {
	Agent      string        `json:"agent"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	DurationMS int64         `json:"duration_ms"`
	Status     string        `json:"status"`
}

// Telemetry is written by the runtime, never by agents.
type Telemetry struct {
	AgentTimings []AgentTiming `json:"agent_timings"`
	TokenSpend   int64         `json:"token_spend"`
	Errors       []string      `json:"errors"`
}

// CanonicalState is the eleven-section document described in spec §3.
// additionalProperties:false is enforced by the compiled JSON Schema at
// ingress (pkg/state/schema.go), not by this struct alone.
type CanonicalState struct {
	Meta        Meta        `json:"meta"`
	Idea        Idea        `json:"idea"`
	Constraints Constraints `json:"constraints"`
	Inputs      Inputs      `json:"inputs"`
	Evidence    Evidence    `json:"evidence"`
	Decisions   Decisions   `json:"decisions"`
	Pillars     Pillars     `json:"pillars"`
	Graph       Graph       `json:"graph"`
	Risks       Risks       `json:"risks"`
	Execution   Execution   `json:"execution"`
	Telemetry   Telemetry   `json:"telemetry"`
}

// New returns an empty, schema-valid CanonicalState for a freshly created
// scenario.
func New(scenarioID, projectID string, idea Idea, constraints Constraints, now time.Time) *CanonicalState {
	emptyDecision := Decision{
		Options: []DecisionOption{},
		Meta:    MetaRef{SourceType: SourceAssumption, Sources: []string{}, UpdatedAt: now},
	}
	return &CanonicalState{
		Meta: Meta{
			ScenarioID:    scenarioID,
			ProjectID:     projectID,
			SchemaVersion: SchemaVersion,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
		Idea:        idea,
		Constraints: constraints,
		Inputs:      Inputs{IntakeAnswers: []IntakeAnswer{}, OpenQuestions: []string{}},
		Evidence: Evidence{
			Sources:           []Source{},
			Competitors:       []Competitor{},
			PricingAnchors:    []PricingAnchor{},
			MessagingPatterns: []MessagingPattern{},
			ChannelSignals:    []ChannelSignal{},
		},
		Decisions: Decisions{
			ICP: emptyDecision, Positioning: emptyDecision, Pricing: emptyDecision,
			Channels: emptyDecision, SalesMotion: emptyDecision,
		},
		Pillars: Pillars{Items: map[string]Pillar{}},
		Graph:   Graph{Nodes: []Node{}, Edges: []Edge{}, Groups: []Group{}},
		Risks:   Risks{Contradictions: []Contradiction{}, MissingProof: []string{}, HighRiskFlags: []string{}},
		Execution: Execution{
			NextActions: []NextAction{},
			Experiments: []Experiment{},
			Assets:      []Asset{},
		},
		Telemetry: Telemetry{AgentTimings: []AgentTiming{}, Errors: []string{}},
	}
}

// SchemaVersion is stamped into every new CanonicalState's meta.schema_version.
const SchemaVersion = "1.0"
