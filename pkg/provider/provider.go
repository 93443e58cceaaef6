// Package provider implements the agent registry (§2 component 5): each
// agent is a pure function `state → AgentOutput`, backed either by a
// recorded fixture or by a real upstream call over HTTP, with retries
// bounded at three attempts.
package provider

import (
	"context"

	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// Agent is one pure analysis step: given the current state, it returns the
// AgentOutput it would contribute. Implementations must not mutate s.
type Agent interface {
	Name() string
	Run(ctx context.Context, s *state.CanonicalState) (*state.AgentOutput, error)
}

// Registry maps agent names to their Agent implementation. It is built once
// at boot from RuntimeConfig.ProviderMode and handed to the scheduler.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry builds a Registry from an explicit agent list (duplicate
// names are a programmer error and panic, since the agent roster is fixed
// at compile time via pkg/graph.AgentSequence, never user-supplied).
func NewRegistry(agents ...Agent) *Registry {
	r := &Registry{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		if _, exists := r.agents[a.Name()]; exists {
			panic("provider: duplicate agent name " + a.Name())
		}
		r.agents[a.Name()] = a
	}
	return r
}

// Get returns the Agent registered under name, or ok=false if the name is
// not part of this registry (a scheduler bug, since the roster is static).
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}
