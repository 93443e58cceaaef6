// Package retention periodically purges checkpoints, events, and run rows
// for runs that finished long enough ago to fall outside
// RuntimeConfig.CheckpointRetention, leaving a single background loop with
// Start/Stop to run the purge on a ticker.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/gtmcore/pkg/checkpoint"
)

// Service runs the retention loop. All operations are idempotent: a purge
// that finds nothing past its cutoff is a no-op, safe to run from multiple
// orchestrator instances without coordination.
type Service struct {
	store     *checkpoint.Store
	retention time.Duration
	interval  time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention Service purging runs older than retention,
// checking every interval.
func NewService(store *checkpoint.Store, retention, interval time.Duration) *Service {
	return &Service{store: store, retention: retention, interval: interval}
}

// Start launches the background purge loop. A second call is a no-op.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("retention service started", "retention", s.retention, "interval", s.interval)
}

// Stop signals the purge loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.purgeOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.purgeOnce(ctx)
		}
	}
}

func (s *Service) purgeOnce(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.retention)
	count, err := s.store.PurgeCompletedBefore(ctx, cutoff)
	if err != nil {
		slog.Error("retention: purge failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: purged completed runs", "count", count, "cutoff", cutoff)
	}
}
