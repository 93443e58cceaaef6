package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeready-toolchain/gtmcore/pkg/state"
)

// FixtureAgent replays a recorded AgentOutput keyed by the scenario's
// fingerprint, so test runs and demos are fully deterministic — no network
// call, no retry (§5: "fixture agents never retry"). Fixtures live at
// fixtures/<agent_name>/<fingerprint>.json (§C.4).
type FixtureAgent struct {
	name string
	dir  string
}

// NewFixtureAgent returns a FixtureAgent reading from rootDir/name/*.json.
func NewFixtureAgent(name, rootDir string) *FixtureAgent {
	return &FixtureAgent{name: name, dir: filepath.Join(rootDir, name)}
}

func (a *FixtureAgent) Name() string { return a.name }

// Run loads the fixture for s's fingerprint, stamps RunID/ProducedAt from
// the call, and returns it. A missing fixture is a hard error: the fixture
// provider has no fallback behavior, by design — an unrecorded scenario
// must be recorded before it can be replayed.
func (a *FixtureAgent) Run(_ context.Context, s *state.CanonicalState) (*state.AgentOutput, error) {
	fp, err := Fingerprint(s)
	if err != nil {
		return nil, fmt.Errorf("provider: fixture %s: compute fingerprint: %w", a.name, err)
	}

	path := filepath.Join(a.dir, fp+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("provider: fixture %s: no recorded output for fingerprint %s: %w", a.name, fp, err)
	}

	var out state.AgentOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("provider: fixture %s: decode %s: %w", a.name, path, err)
	}
	out.Agent = a.name
	out.RunID = s.Meta.RunID
	out.ProducedAt = time.Now().UTC()
	return &out, nil
}

// fingerprintInput is the subset of state a fixture is keyed on: the parts
// every agent reads before producing its first output (idea, constraints,
// intake). Decisions/evidence/graph are deliberately excluded — those
// change as the run progresses, and fixtures are recorded once per
// scenario shape, not once per reconciliation round.
type fingerprintInput struct {
	Idea        state.Idea          `json:"idea"`
	Constraints state.Constraints   `json:"constraints"`
	Intake      []state.IntakeAnswer `json:"intake"`
}

// Fingerprint computes the stable SHA-256 hex digest a fixture is keyed by.
func Fingerprint(s *state.CanonicalState) (string, error) {
	in := fingerprintInput{
		Idea:        s.Idea,
		Constraints: s.Constraints,
		Intake:      s.Inputs.IntakeAnswers,
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
