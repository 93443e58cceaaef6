package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/codeready-toolchain/gtmcore/pkg/events"
	"github.com/codeready-toolchain/gtmcore/pkg/state"
	testdb "github.com/codeready-toolchain/gtmcore/test/database"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	client := testdb.NewTestClient(t)
	return New(client.DB())
}

func fixtureState() *state.CanonicalState {
	return state.New("scn_1", "proj_1",
		state.Idea{Name: "n", OneLiner: "o", Problem: "p", Region: "us", Category: "b2b_saas"},
		state.Constraints{TeamSize: 1, TimelineWeeks: 4, BudgetUSD: 1000, ComplianceLevel: "low"},
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestStore_AppendIsMonotonicPerRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, "run_1", "scn_1"))

	idx0, err := s.Append(ctx, "run_1", "scn_1", fixtureState())
	require.NoError(t, err)
	require.Equal(t, 0, idx0)

	idx1, err := s.Append(ctx, "run_1", "scn_1", fixtureState())
	require.NoError(t, err)
	require.Equal(t, 1, idx1)
}

func TestStore_LatestAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, "run_1", "scn_1"))

	st := fixtureState()
	st.Idea.Name = "v1"
	_, err := s.Append(ctx, "run_1", "scn_1", st)
	require.NoError(t, err)

	st.Idea.Name = "v2"
	idx, err := s.Append(ctx, "run_1", "scn_1", st)
	require.NoError(t, err)

	_, latest, err := s.Latest(ctx, "run_1")
	require.NoError(t, err)
	require.Equal(t, "v2", latest.Idea.Name)

	got, err := s.Get(ctx, "run_1", idx)
	require.NoError(t, err)
	require.Equal(t, "v2", got.Idea.Name)
}

func TestStore_DiffRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, "run_1", "scn_1"))

	a := fixtureState()
	idxA, err := s.Append(ctx, "run_1", "scn_1", a)
	require.NoError(t, err)

	b := a.MustClone()
	b.Idea.OneLiner = "changed"
	idxB, err := s.Append(ctx, "run_1", "scn_1", b)
	require.NoError(t, err)

	patch, err := s.Diff(ctx, "run_1", idxA, idxB)
	require.NoError(t, err)

	applied, err := state.ApplyMergeDiff(a, patch)
	require.NoError(t, err)
	require.Equal(t, "changed", applied.Idea.OneLiner)
}

func TestStore_EventLogSatisfiesEventsStore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRun(ctx, "run_1", "scn_1"))

	bus := events.NewBus(s)
	_, err := bus.Publish(ctx, "run_1", "scn_1", events.TypeRunStarted, events.MustMarshal(map[string]string{}))
	require.NoError(t, err)
	_, err = bus.Publish(ctx, "run_1", "scn_1", events.TypeRunCompleted, events.MustMarshal(map[string]string{}))
	require.NoError(t, err)

	got, err := s.EventsSince(ctx, "run_1", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, events.TypeRunStarted, got[0].Type)
	require.Equal(t, events.TypeRunCompleted, got[1].Type)
}

func TestStore_IdempotencyKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.LookupIdempotencyKey(ctx, "POST /runs", "tok-1")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveIdempotencyKey(ctx, "POST /runs", "tok-1", 201, []byte(`{"run_id":"run_1"}`)))

	resp, err := s.LookupIdempotencyKey(ctx, "POST /runs", "tok-1")
	require.NoError(t, err)
	require.Equal(t, 201, resp.StatusCode)
	require.JSONEq(t, `{"run_id":"run_1"}`, string(resp.Body))
}
