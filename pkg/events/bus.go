package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the durability boundary the bus persists through before fanning
// an event out to live subscribers (§4.4: "no event referring to a state
// version is published before that state is durably checkpointed").
type Store interface {
	AppendEvent(ctx context.Context, ev Event) error
	EventsSince(ctx context.Context, runID string, afterSeq int64) ([]Event, error)
}

// Subscriber is a single fan-out consumer of one run's event stream. Sends
// are non-blocking: a subscriber that cannot keep up is dropped with
// Lagged() closing true rather than stalling the publisher (§5 shared
// resource policy).
type Subscriber struct {
	ch     chan Event
	lagged chan struct{}
	once   sync.Once
}

// Events returns the channel of live events for this subscriber.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Lagged is closed if the subscriber was dropped for falling behind; the
// caller should reconnect and catch up via EventsSince.
func (s *Subscriber) Lagged() <-chan struct{} { return s.lagged }

func (s *Subscriber) drop() {
	s.once.Do(func() {
		close(s.ch)
		close(s.lagged)
	})
}

const subscriberBuffer = 64

// Bus is the single producer (a run's scheduler), many fan-out consumer
// event log described in §4.5. One Bus instance is shared process-wide;
// state is partitioned internally by run_id.
type Bus struct {
	store Store

	mu          sync.Mutex
	seq         map[string]int64
	subscribers map[string]map[*Subscriber]struct{}
}

// NewBus creates a Bus backed by the given durable event Store.
func NewBus(store Store) *Bus {
	return &Bus{
		store:       store,
		seq:         make(map[string]int64),
		subscribers: make(map[string]map[*Subscriber]struct{}),
	}
}

// Publish persists ev (assigning the next sequence number for its run) and
// fans it out to live subscribers. It is the only write path into a run's
// event log — callers never construct sequence numbers themselves.
func (b *Bus) Publish(ctx context.Context, runID, scenarioID string, typ Type, data []byte) (Event, error) {
	if err := b.ensureSeeded(ctx, runID); err != nil {
		return Event{}, err
	}

	b.mu.Lock()
	next := b.seq[runID] + 1
	b.seq[runID] = next
	b.mu.Unlock()

	ev := Event{
		EventID:    "event_" + uuid.NewString(),
		RunID:      runID,
		ScenarioID: scenarioID,
		Seq:        next,
		Type:       typ,
		Ts:         time.Now().UTC(),
		Data:       data,
	}

	if err := b.store.AppendEvent(ctx, ev); err != nil {
		return Event{}, fmt.Errorf("events: append %s for run %s: %w", typ, runID, err)
	}

	b.broadcast(runID, ev)
	return ev, nil
}

// ensureSeeded makes sure runID has a seq counter in memory before Publish
// hands out the next one, rehydrating it from the durable log on this
// process's first sight of runID (e.g. after a restart, where the
// in-process map starts empty but run_events already has rows 1..N — a
// resumed run must continue from N+1, not collide with it on the
// UNIQUE(run_id, seq) constraint).
func (b *Bus) ensureSeeded(ctx context.Context, runID string) error {
	b.mu.Lock()
	_, ok := b.seq[runID]
	b.mu.Unlock()
	if ok {
		return nil
	}

	persisted, err := b.store.EventsSince(ctx, runID, 0)
	if err != nil {
		return fmt.Errorf("events: seed seq for run %s: %w", runID, err)
	}
	var maxSeq int64
	for _, ev := range persisted {
		if ev.Seq > maxSeq {
			maxSeq = ev.Seq
		}
	}

	b.mu.Lock()
	if _, ok := b.seq[runID]; !ok {
		b.seq[runID] = maxSeq
	}
	b.mu.Unlock()
	return nil
}

// broadcast snapshots the subscriber set before sending so a slow consumer
// never holds the publish path's lock.
func (b *Bus) broadcast(runID string, ev Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers[runID]))
	for s := range b.subscribers[runID] {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- ev:
		default:
			b.unsubscribe(runID, s)
			s.drop()
		}
	}
}

// Subscribe registers a live subscriber for runID and returns it alongside
// the backlog of events strictly after afterSeq (0 for "from the
// beginning"), satisfying the late-joiner catch-up-then-live contract.
// afterSeq is typically the client's Last-Event-ID on SSE reconnect.
func (b *Bus) Subscribe(ctx context.Context, runID string, afterSeq int64) (*Subscriber, []Event, error) {
	backlog, err := b.store.EventsSince(ctx, runID, afterSeq)
	if err != nil {
		return nil, nil, fmt.Errorf("events: catch-up for run %s: %w", runID, err)
	}

	sub := &Subscriber{ch: make(chan Event, subscriberBuffer), lagged: make(chan struct{})}

	b.mu.Lock()
	if b.subscribers[runID] == nil {
		b.subscribers[runID] = make(map[*Subscriber]struct{})
	}
	b.subscribers[runID][sub] = struct{}{}
	b.mu.Unlock()

	return sub, backlog, nil
}

// Unsubscribe removes sub from runID's fan-out set. Safe to call more than once.
func (b *Bus) Unsubscribe(runID string, sub *Subscriber) {
	b.unsubscribe(runID, sub)
}

func (b *Bus) unsubscribe(runID string, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subscribers[runID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subscribers, runID)
		}
	}
}
