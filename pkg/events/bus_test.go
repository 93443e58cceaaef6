package events

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	byRun map[string][]Event
}

func newMemStore() *memStore {
	return &memStore{byRun: make(map[string][]Event)}
}

func (m *memStore) AppendEvent(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byRun[ev.RunID] = append(m.byRun[ev.RunID], ev)
	return nil
}

func (m *memStore) EventsSince(_ context.Context, runID string, afterSeq int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.byRun[runID] {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, nil
}

func TestBus_PublishAssignsMonotonicSeq(t *testing.T) {
	bus := NewBus(newMemStore())
	ctx := context.Background()

	ev1, err := bus.Publish(ctx, "run_1", "scn_1", TypeRunStarted, MustMarshal(map[string]string{}))
	require.NoError(t, err)
	ev2, err := bus.Publish(ctx, "run_1", "scn_1", TypeAgentStarted, MustMarshal(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, int64(1), ev1.Seq)
	assert.Equal(t, int64(2), ev2.Seq)
	assert.NotEqual(t, ev1.EventID, ev2.EventID)
}

func TestBus_SubscribeReceivesBacklogThenLive(t *testing.T) {
	bus := NewBus(newMemStore())
	ctx := context.Background()

	_, err := bus.Publish(ctx, "run_1", "scn_1", TypeRunStarted, MustMarshal(map[string]string{}))
	require.NoError(t, err)

	sub, backlog, err := bus.Subscribe(ctx, "run_1", 0)
	require.NoError(t, err)
	require.Len(t, backlog, 1)
	assert.Equal(t, TypeRunStarted, backlog[0].Type)

	_, err = bus.Publish(ctx, "run_1", "scn_1", TypeAgentStarted, MustMarshal(map[string]string{}))
	require.NoError(t, err)

	live := <-sub.Events()
	assert.Equal(t, TypeAgentStarted, live.Type)
}

func TestBus_SubscribeCatchupRespectsLastEventSeq(t *testing.T) {
	bus := NewBus(newMemStore())
	ctx := context.Background()

	_, _ = bus.Publish(ctx, "run_1", "scn_1", TypeRunStarted, MustMarshal(map[string]string{}))
	second, _ := bus.Publish(ctx, "run_1", "scn_1", TypeAgentStarted, MustMarshal(map[string]string{}))

	_, backlog, err := bus.Subscribe(ctx, "run_1", second.Seq)
	require.NoError(t, err)
	assert.Empty(t, backlog)
}

func TestBus_PublishAfterRestartContinuesSeqFromStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	firstBus := NewBus(store)
	_, err := firstBus.Publish(ctx, "run_1", "scn_1", TypeRunStarted, MustMarshal(map[string]string{}))
	require.NoError(t, err)
	_, err = firstBus.Publish(ctx, "run_1", "scn_1", TypeAgentStarted, MustMarshal(map[string]string{}))
	require.NoError(t, err)

	// A fresh Bus (as constructed on process restart) shares the same
	// durable store but starts with an empty in-process seq map.
	restartedBus := NewBus(store)
	resumed, err := restartedBus.Publish(ctx, "run_1", "scn_1", TypeRunResumed, MustMarshal(map[string]string{}))
	require.NoError(t, err)

	assert.Equal(t, int64(3), resumed.Seq)
}

func TestBus_SlowSubscriberIsDroppedNotBlocked(t *testing.T) {
	bus := NewBus(newMemStore())
	ctx := context.Background()

	sub, _, err := bus.Subscribe(ctx, "run_1", 0)
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer+5; i++ {
		_, err := bus.Publish(ctx, "run_1", "scn_1", TypeAgentProgress, MustMarshal(map[string]int{"i": i}))
		require.NoError(t, err)
	}

	select {
	case <-sub.Lagged():
	default:
		t.Fatal("expected subscriber to be marked lagged after exceeding its buffer")
	}
}
