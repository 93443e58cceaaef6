package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/graph"
	"github.com/codeready-toolchain/gtmcore/pkg/provider"
	"github.com/codeready-toolchain/gtmcore/pkg/runtimeconfig"
	"github.com/codeready-toolchain/gtmcore/pkg/scheduler"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
	testdb "github.com/codeready-toolchain/gtmcore/test/database"
)

var fixedNow = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type noopAgent struct{ name string }

func (a *noopAgent) Name() string { return a.name }
func (a *noopAgent) Run(_ context.Context, s *state.CanonicalState) (*state.AgentOutput, error) {
	return &state.AgentOutput{Agent: a.name, RunID: s.Meta.RunID, ProducedAt: fixedNow}, nil
}

func noopAgents() []provider.Agent {
	agents := make([]provider.Agent, 0, len(graph.AgentSequence))
	for _, name := range graph.AgentSequence {
		agents = append(agents, &noopAgent{name: name})
	}
	return agents
}

func testServer(t *testing.T) (*Server, *checkpoint.Store) {
	t.Helper()
	client := testdb.NewTestClient(t)
	store := checkpoint.New(client.DB())
	bus := events.NewBus(store)
	cfg := runtimeconfig.Defaults()
	cfg.AgentTimeout = 2 * time.Second
	cfg.RunDeadline = 5 * time.Second
	sched := scheduler.New(store, bus, provider.NewRegistry(noopAgents()...), cfg)
	return NewServer(cfg, client, store, bus, sched), store
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

func newCtx(s *Server, method, target, body string) (*echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	return s.echo.NewContext(req, rec), rec
}

func decodeJSON(t *testing.T, raw []byte, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, out))
}
