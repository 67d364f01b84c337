package portal

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// pendingLister lists documents still waiting on a portal upload.
type pendingLister interface {
	ListPendingSyncDocumentIDs(ctx context.Context, staleBefore time.Time) ([]string, error)
}

// Sweeper periodically re-reconciles documents that still need an upload,
// including attempts orphaned by a crashed process (in-flight markers older
// than staleAfter). The sweeper is the retry path: the reconciler itself
// never retries.
type Sweeper struct {
	store      pendingLister
	reconciler *Reconciler
	interval   time.Duration
	staleAfter time.Duration
	workers    int
	logger     *slog.Logger
}

func NewSweeper(st pendingLister, rec *Reconciler, interval, staleAfter time.Duration, workers int, logger *slog.Logger) *Sweeper {
	if workers <= 0 {
		workers = 1
	}
	return &Sweeper{
		store:      st,
		reconciler: rec,
		interval:   interval,
		staleAfter: staleAfter,
		workers:    workers,
		logger:     logger,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
// The immediate pass picks up work left behind by the previous process.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep reconciles every pending document, at most workers at a time.
func (s *Sweeper) Sweep(ctx context.Context) {
	staleBefore := time.Now().Add(-s.staleAfter)
	ids, err := s.store.ListPendingSyncDocumentIDs(ctx, staleBefore)
	if err != nil {
		s.logger.Error("portal sweep: list pending documents", "error", err)
		return
	}
	if len(ids) == 0 {
		return
	}

	var uploaded, failed atomic.Int64

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.workers)
	for _, id := range ids {
		eg.Go(func() error {
			switch res := s.reconciler.Reconcile(gctx, id); res.Outcome {
			case OutcomeUploaded:
				uploaded.Add(1)
			case OutcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = eg.Wait()

	s.logger.Info("portal sweep complete",
		"pending", len(ids), "uploaded", uploaded.Load(), "failed", failed.Load())
}
