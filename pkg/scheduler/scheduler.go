// Package scheduler drives the two-pass agent pipeline (§4.3, §5): an
// initial sweep over the static agent sequence, followed by a bounded
// reconciliation loop that reruns only the agents a validator contradiction
// implicates, until the validator stabilizes or the round cap is reached.
//
// Runs are started directly by an API call rather than pulled off a shared
// queue, so in-flight work is tracked with a name-keyed registry of cancel
// functions (register/unregister) guarding one goroutine per in-process
// run, with per-run cancellation through Cancel and a per-run deadline.
// Nothing in this package stops in-flight runs when the process shuts down.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/graph"
	"github.com/codeready-toolchain/gtmcore/pkg/merge"
	"github.com/codeready-toolchain/gtmcore/pkg/provider"
	"github.com/codeready-toolchain/gtmcore/pkg/runtimeconfig"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
	"github.com/codeready-toolchain/gtmcore/pkg/validatorrules"
)

// Scheduler owns the in-process set of running runs and drives each one's
// two-pass pipeline to completion, failure, or block.
type Scheduler struct {
	store    *checkpoint.Store
	bus      *events.Bus
	registry *provider.Registry
	cfg      *runtimeconfig.RuntimeConfig

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New builds a Scheduler over the given durability, fan-out, and agent
// backends.
func New(store *checkpoint.Store, bus *events.Bus, registry *provider.Registry, cfg *runtimeconfig.RuntimeConfig) *Scheduler {
	return &Scheduler{
		store:    store,
		bus:      bus,
		registry: registry,
		cfg:      cfg,
		active:   make(map[string]context.CancelFunc),
	}
}

// StartRun creates a new run for scenarioID over the given initial state and
// launches its pipeline in a background goroutine. It returns immediately
// with the new run_id; callers observe progress via the event bus.
func (s *Scheduler) StartRun(ctx context.Context, scenarioID string, initial *state.CanonicalState) (string, error) {
	runID := "run_" + uuid.NewString()
	initial = initial.MustClone()
	initial.Meta.RunID = runID

	if err := s.store.CreateRun(ctx, runID, scenarioID); err != nil {
		return "", &StoreError{Err: err}
	}
	if _, err := s.store.Append(ctx, runID, scenarioID, initial); err != nil {
		return "", &StoreError{Err: err}
	}

	s.launch(runID, scenarioID, initial, remainingInitialSweep(initial), events.TypeRunStarted, events.MustMarshal(map[string]string{}))
	return runID, nil
}

// Resume continues runID from its latest checkpoint, re-entering the
// initial sweep at the first agent that has not yet recorded a timing
// (§8 scenario 4: resuming after "pricing" completed re-enters at
// "channels", not "pricing" again) before falling into reconciliation.
func (s *Scheduler) Resume(ctx context.Context, runID string) error {
	rec, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("scheduler: resume %s: %w", runID, err)
	}
	_, latest, err := s.store.Latest(ctx, runID)
	if err != nil {
		return fmt.Errorf("scheduler: resume %s: %w", runID, err)
	}
	if _, err := s.bus.Publish(ctx, runID, rec.ScenarioID, events.TypeRunResumed,
		events.MustMarshal(events.RunResumedData{CheckpointIndex: rec.LastCheckpoint})); err != nil {
		return &StoreError{Err: err}
	}
	if err := s.store.UpdateRunStatus(ctx, runID, checkpoint.RunStatusRunning, ""); err != nil {
		return &StoreError{Err: err}
	}

	s.launch(runID, rec.ScenarioID, latest, remainingInitialSweep(latest), "", nil)
	return nil
}

// TriggerOverride persists state after a decision override (the caller has
// already set selected_option_id/override on it — §4.1 rule 3, only the
// runtime may write it) and reruns exactly the override's cascade of
// agents (§4.6 "triggers partial rerun when changed_decision is implied"),
// followed by the normal reconciliation loop.
func (s *Scheduler) TriggerOverride(ctx context.Context, runID, scenarioID string, current *state.CanonicalState, cascadeAgents []string) error {
	if _, err := s.store.Append(ctx, runID, scenarioID, current); err != nil {
		return &StoreError{Err: err}
	}
	if err := s.store.UpdateRunStatus(ctx, runID, checkpoint.RunStatusRunning, ""); err != nil {
		return &StoreError{Err: err}
	}

	s.launch(runID, scenarioID, current, cascadeAgents, "", nil)
	return nil
}

// remainingInitialSweep returns the AgentSequence agents that have not yet
// recorded a timing in s — the initial sweep's resume point.
func remainingInitialSweep(s *state.CanonicalState) []string {
	done := map[string]bool{}
	for _, t := range s.Telemetry.AgentTimings {
		done[t.Agent] = true
	}
	var remaining []string
	for _, a := range graph.AgentSequence {
		if !done[a] {
			remaining = append(remaining, a)
		}
	}
	return remaining
}

// ActiveRunCount returns the number of runs currently executing, reported
// by the health endpoint as a queue-depth-style gauge (§C.2 Health endpoint).
func (s *Scheduler) ActiveRunCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cancel signals runID's background pipeline to stop at its next checkpoint
// fence. Returns false if runID is not active on this process.
func (s *Scheduler) Cancel(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cancel, ok := s.active[runID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (s *Scheduler) register(runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[runID] = cancel
}

func (s *Scheduler) unregister(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, runID)
}

func (s *Scheduler) launch(runID, scenarioID string, initial *state.CanonicalState, initialAgents []string, announce events.Type, announceData []byte) {
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.RunDeadline)
	s.register(runID, cancel)

	go func() {
		defer cancel()
		defer s.unregister(runID)
		s.run(runCtx, runID, scenarioID, initial, initialAgents, announce, announceData)
	}()
}

// run executes the two-pass pipeline for one run to a terminal status,
// starting its first sweep over initialAgents (the full sequence for a
// fresh run, the remaining suffix for a resume, or an override's cascade).
func (s *Scheduler) run(ctx context.Context, runID, scenarioID string, current *state.CanonicalState, initialAgents []string, announce events.Type, announceData []byte) {
	log := slog.With("run_id", runID, "scenario_id", scenarioID)

	if announce != "" {
		if _, err := s.bus.Publish(ctx, runID, scenarioID, announce, announceData); err != nil {
			log.Error("failed to publish run announcement", "type", announce, "error", err)
			return
		}
	}

	current, err := s.sweep(ctx, runID, scenarioID, current, initialAgents)
	if err != nil {
		s.fail(ctx, runID, scenarioID, err)
		return
	}

	// Reconciliation loop: rerun only the agents contradictions implicate,
	// until the rule-ID set stabilizes or the round cap is reached (§4.3).
	var previousRuleIDs []string
	for round := 0; round < s.cfg.ReconciliationRoundCap; round++ {
		contradictions := validatorrules.Validate(current, validatorrules.Options{})
		ruleIDs := contradictionRuleIDs(contradictions)

		if stableRuleIDs(previousRuleIDs, ruleIDs) {
			break
		}
		previousRuleIDs = ruleIDs

		if len(ruleIDs) == 0 {
			break
		}

		agents := graph.ResponsibleAgents(contradictionPaths(contradictions))
		current, err = s.sweep(ctx, runID, scenarioID, current, agents)
		if err != nil {
			s.fail(ctx, runID, scenarioID, err)
			return
		}
	}

	// Completion gate: re-validate with AtCompletion set so rules that only
	// apply once the pipeline has nothing left to run (e.g. V-ICP-01) are
	// considered (§4.2).
	if blocking := blockingRuleIDs(validatorrules.Validate(current, validatorrules.Options{AtCompletion: true})); len(blocking) > 0 {
		s.block(ctx, runID, scenarioID, blocking)
		return
	}

	if err := s.store.UpdateRunStatus(ctx, runID, checkpoint.RunStatusCompleted, ""); err != nil {
		log.Error("failed to mark run completed", "error", err)
		return
	}
	if _, err := s.bus.Publish(ctx, runID, scenarioID, events.TypeRunCompleted, events.MustMarshal(map[string]string{})); err != nil {
		log.Error("failed to publish run_completed", "error", err)
	}
}

// sweep runs each named agent in order, merging and checkpointing after
// every successful output, and returns the resulting state. A timed-out or
// provider-failed agent is recorded as agent_failed and skipped (the merge
// engine is never invoked for it, per §5); the sweep continues with the
// next agent. Store and budget failures abort the sweep immediately.
func (s *Scheduler) sweep(ctx context.Context, runID, scenarioID string, current *state.CanonicalState, agents []string) (*state.CanonicalState, error) {
	for _, name := range agents {
		select {
		case <-ctx.Done():
			return current, classifyContextErr(ctx)
		default:
		}

		agent, ok := s.registry.Get(name)
		if !ok {
			continue
		}

		started := time.Now().UTC()
		agentCtx, cancel := context.WithTimeout(ctx, s.cfg.AgentTimeout)
		out, err := agent.Run(agentCtx, current)
		cancel()
		finished := time.Now().UTC()

		if err != nil {
			if ctx.Err() != nil {
				// The run itself was cancelled or hit its deadline.
				return current, classifyContextErr(ctx)
			}
			if _, pubErr := s.bus.Publish(ctx, runID, scenarioID, events.TypeAgentFailed,
				events.MustMarshal(events.AgentFailedData{Agent: name, Reason: err.Error()})); pubErr != nil {
				return current, &StoreError{Err: pubErr}
			}
			current = recordAgentTiming(current, name, started, finished, "failed")
			continue
		}

		current.Telemetry.TokenSpend += out.TokenUsage
		if current.Telemetry.TokenSpend > s.cfg.TokenBudgetCap {
			return current, &BudgetError{Cause: CauseBudget}
		}

		result, err := merge.Apply(current, out, finished)
		if err != nil {
			if _, pubErr := s.bus.Publish(ctx, runID, scenarioID, events.TypeAgentFailed,
				events.MustMarshal(events.AgentFailedData{Agent: name, Reason: err.Error()})); pubErr != nil {
				return current, &StoreError{Err: pubErr}
			}
			current = recordAgentTiming(current, name, started, finished, "failed")
			continue
		}
		current = result.State
		current = recordAgentTiming(current, name, started, finished, "completed")

		if _, err := s.store.Append(ctx, runID, scenarioID, current); err != nil {
			return current, &StoreError{Err: err}
		}
		if _, err := s.bus.Publish(ctx, runID, scenarioID, events.TypeStateCheckpointed, events.MustMarshal(map[string]string{"agent": name})); err != nil {
			return current, &StoreError{Err: err}
		}
		if _, err := s.bus.Publish(ctx, runID, scenarioID, events.TypeAgentCompleted,
			events.MustMarshal(events.AgentCompletedData{Agent: name, PatchCount: len(out.Patches), TokensUsed: out.TokenUsage, DurationMS: finished.Sub(started).Milliseconds()})); err != nil {
			return current, &StoreError{Err: err}
		}
		for _, raised := range result.Events {
			if _, err := s.bus.Publish(ctx, runID, scenarioID, raised.Type, raised.Data); err != nil {
				return current, &StoreError{Err: err}
			}
		}
	}
	return current, nil
}

func (s *Scheduler) fail(ctx context.Context, runID, scenarioID string, err error) {
	cause := failureCause(err)
	if updErr := s.store.UpdateRunStatus(context.Background(), runID, checkpoint.RunStatusFailed, cause); updErr != nil {
		slog.Error("failed to mark run failed", "run_id", runID, "error", updErr)
	}
	if _, pubErr := s.bus.Publish(context.Background(), runID, scenarioID, events.TypeRunFailed, events.MustMarshal(events.RunFailedData{Cause: cause})); pubErr != nil {
		slog.Error("failed to publish run_failed", "run_id", runID, "error", pubErr)
	}
	_ = ctx
}

func (s *Scheduler) block(ctx context.Context, runID, scenarioID string, ruleIDs []string) {
	if err := s.store.UpdateRunStatus(ctx, runID, checkpoint.RunStatusBlocked, ""); err != nil {
		slog.Error("failed to mark run blocked", "run_id", runID, "error", err)
		return
	}
	if _, err := s.bus.Publish(ctx, runID, scenarioID, events.TypeRunBlocked, events.MustMarshal(events.RunBlockedData{RuleIDs: ruleIDs})); err != nil {
		slog.Error("failed to publish run_blocked", "run_id", runID, "error", err)
	}
}

func failureCause(err error) string {
	var budgetErr *BudgetError
	switch {
	case errors.As(err, new(*StoreError)):
		return CauseStore
	case errors.As(err, &budgetErr):
		return budgetErr.Cause
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return CauseCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CauseDeadline
	default:
		return CauseStore
	}
}

func classifyContextErr(ctx context.Context) error {
	if ctx.Err() == context.DeadlineExceeded {
		return &BudgetError{Cause: CauseDeadline}
	}
	return ErrCancelled
}

func recordAgentTiming(s *state.CanonicalState, agent string, started, finished time.Time, status string) *state.CanonicalState {
	s.Telemetry.AgentTimings = append(s.Telemetry.AgentTimings, state.AgentTiming{
		Agent:      agent,
		StartedAt:  started,
		FinishedAt: finished,
		DurationMS: finished.Sub(started).Milliseconds(),
		Status:     status,
	})
	return s
}

func contradictionRuleIDs(cs []state.Contradiction) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.RuleID
	}
	return ids
}

func contradictionPaths(cs []state.Contradiction) []string {
	var paths []string
	for _, c := range cs {
		paths = append(paths, c.Paths...)
	}
	return paths
}

// blockingRuleIDs returns the rule IDs of critical/high contradictions,
// which gate completion (§4.2).
func blockingRuleIDs(cs []state.Contradiction) []string {
	var ids []string
	for _, c := range cs {
		if c.Severity == state.SeverityCritical || c.Severity == state.SeverityHigh {
			ids = append(ids, c.RuleID)
		}
	}
	return ids
}

// stableRuleIDs reports whether two rounds found the same contradiction
// set, the reconciliation loop's termination condition (§4.3).
func stableRuleIDs(prev, cur []string) bool {
	if prev == nil {
		return false
	}
	if len(prev) != len(cur) {
		return false
	}
	seen := map[string]int{}
	for _, id := range prev {
		seen[id]++
	}
	for _, id := range cur {
		seen[id]--
	}
	for _, count := range seen {
		if count != 0 {
			return false
		}
	}
	return true
}
