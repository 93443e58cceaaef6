package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/graph"
	"github.com/codeready-toolchain/gtmcore/pkg/provider"
	"github.com/codeready-toolchain/gtmcore/pkg/runtimeconfig"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
	testdb "github.com/codeready-toolchain/gtmcore/test/database"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func baseState() *state.CanonicalState {
	return state.New("scn_1", "proj_1",
		state.Idea{Name: "n", OneLiner: "o", Problem: "p", Region: "us", Category: "b2b_saas"},
		state.Constraints{TeamSize: 2, TimelineWeeks: 8, BudgetUSD: 50000, ComplianceLevel: "low"},
		fixedNow)
}

func testScheduler(t *testing.T, agents ...provider.Agent) (*Scheduler, *checkpoint.Store) {
	t.Helper()
	client := testdb.NewTestClient(t)
	store := checkpoint.New(client.DB())
	bus := events.NewBus(store)
	cfg := runtimeconfig.Defaults()
	cfg.AgentTimeout = 2 * time.Second
	cfg.RunDeadline = 5 * time.Second
	registry := provider.NewRegistry(agents...)
	return New(store, bus, registry, cfg), store
}

// noopAgent returns an empty, valid AgentOutput: no patches, no proposals.
type noopAgent struct{ name string }

func (a *noopAgent) Name() string { return a.name }
func (a *noopAgent) Run(_ context.Context, s *state.CanonicalState) (*state.AgentOutput, error) {
	return &state.AgentOutput{Agent: a.name, RunID: s.Meta.RunID, ProducedAt: fixedNow}, nil
}

// failingAgent always errors, simulating an upstream provider failure.
type failingAgent struct{ name string }

func (a *failingAgent) Name() string { return a.name }
func (a *failingAgent) Run(_ context.Context, _ *state.CanonicalState) (*state.AgentOutput, error) {
	return nil, &namedErr{a.name}
}

type namedErr struct{ name string }

func (e *namedErr) Error() string { return "provider failure: " + e.name }

// slowAgent blocks until its context is cancelled, for exercising Cancel.
type slowAgent struct{ name string }

func (a *slowAgent) Name() string { return a.name }
func (a *slowAgent) Run(ctx context.Context, _ *state.CanonicalState) (*state.AgentOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func noopAgents() []provider.Agent {
	agents := make([]provider.Agent, 0, len(graph.AgentSequence))
	for _, name := range graph.AgentSequence {
		agents = append(agents, &noopAgent{name: name})
	}
	return agents
}

func waitForTerminal(t *testing.T, store *checkpoint.Store, runID string) *checkpoint.RunRecord {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := store.GetRun(context.Background(), runID)
		require.NoError(t, err)
		if rec.Status != checkpoint.RunStatusRunning {
			return rec
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("run did not reach a terminal status in time")
	return nil
}

func TestScheduler_StartRun_BlocksWhenICPUnselected(t *testing.T) {
	s, store := testScheduler(t, noopAgents()...)
	runID, err := s.StartRun(context.Background(), "scn_1", baseState())
	require.NoError(t, err)

	rec := waitForTerminal(t, store, runID)
	require.Equal(t, checkpoint.RunStatusBlocked, rec.Status)
}

func TestScheduler_StartRun_CompletesWhenICPAlreadySelected(t *testing.T) {
	initial := baseState()
	initial.Decisions.ICP.SelectedOptionID = "opt_1"
	initial.Decisions.ICP.Options = []state.DecisionOption{{
		OptionID: "opt_1",
		Label:    "smb",
		Meta:     state.MetaRef{SourceType: state.SourceInference, Confidence: 0.8, UpdatedAt: fixedNow},
	}}
	// One known competitor keeps V-EVID-01 (high) from blocking the run.
	initial.Evidence.Competitors = []state.Competitor{{
		Name: "Acme", URL: "https://acme.example.com", Description: "incumbent",
		Meta: state.MetaRef{SourceType: state.SourceEvidence, Confidence: 0.8, Sources: []string{"https://acme.example.com"}, UpdatedAt: fixedNow},
	}}

	s, store := testScheduler(t, noopAgents()...)
	runID, err := s.StartRun(context.Background(), "scn_1", initial)
	require.NoError(t, err)

	rec := waitForTerminal(t, store, runID)
	require.Equal(t, checkpoint.RunStatusCompleted, rec.Status)
}

func TestScheduler_AgentFailure_RecordsFailedAndRunStillCompletes(t *testing.T) {
	initial := baseState()
	initial.Decisions.ICP.SelectedOptionID = "opt_1"
	initial.Decisions.ICP.Options = []state.DecisionOption{{
		OptionID: "opt_1",
		Label:    "smb",
		Meta:     state.MetaRef{SourceType: state.SourceInference, Confidence: 0.8, UpdatedAt: fixedNow},
	}}
	// One known competitor keeps V-EVID-01 (high) from blocking the run.
	initial.Evidence.Competitors = []state.Competitor{{
		Name: "Acme", URL: "https://acme.example.com", Description: "incumbent",
		Meta: state.MetaRef{SourceType: state.SourceEvidence, Confidence: 0.8, Sources: []string{"https://acme.example.com"}, UpdatedAt: fixedNow},
	}}

	agents := noopAgents()
	agents[0] = &failingAgent{name: graph.AgentSequence[0]}

	s, store := testScheduler(t, agents...)
	runID, err := s.StartRun(context.Background(), "scn_1", initial)
	require.NoError(t, err)

	rec := waitForTerminal(t, store, runID)
	require.Equal(t, checkpoint.RunStatusCompleted, rec.Status)
}

func TestScheduler_Cancel_FailsRunWithCancelledCause(t *testing.T) {
	agents := []provider.Agent{&slowAgent{name: graph.AgentSequence[0]}}
	s, store := testScheduler(t, agents...)

	runID, err := s.StartRun(context.Background(), "scn_1", baseState())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return s.Cancel(runID)
	}, 2*time.Second, 20*time.Millisecond)

	rec := waitForTerminal(t, store, runID)
	require.Equal(t, checkpoint.RunStatusFailed, rec.Status)
	require.Equal(t, CauseCancelled, rec.FailureCause)
}

func TestScheduler_TokenBudgetExceeded_FailsRunWithBudgetCause(t *testing.T) {
	s, store := testScheduler(t)
	s.cfg.TokenBudgetCap = 10

	over := &tokenHeavyAgent{name: graph.AgentSequence[0], tokens: 1_000}
	s.registry = provider.NewRegistry(over)

	runID, err := s.StartRun(context.Background(), "scn_1", baseState())
	require.NoError(t, err)

	rec := waitForTerminal(t, store, runID)
	require.Equal(t, checkpoint.RunStatusFailed, rec.Status)
	require.Equal(t, CauseBudget, rec.FailureCause)
}

type tokenHeavyAgent struct {
	name   string
	tokens int64
}

func (a *tokenHeavyAgent) Name() string { return a.name }
func (a *tokenHeavyAgent) Run(_ context.Context, s *state.CanonicalState) (*state.AgentOutput, error) {
	return &state.AgentOutput{Agent: a.name, RunID: s.Meta.RunID, ProducedAt: fixedNow, TokenUsage: a.tokens}, nil
}
