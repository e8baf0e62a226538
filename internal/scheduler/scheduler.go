package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/swarm2sqlite/internal/ingest"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

// Syncer runs one incremental import.
type Syncer interface {
	Sync(ctx context.Context, src source.Source) (ingest.Result, error)
}

// Scheduler runs periodic incremental syncs.
type Scheduler struct {
	syncer   Syncer
	src      source.Source
	interval time.Duration
	log      *zap.Logger
}

// New creates a new scheduler.
func New(syncer Syncer, src source.Source, interval time.Duration, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		syncer:   syncer,
		src:      src,
		interval: interval,
		log:      log,
	}
}

// Run starts the scheduler loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run immediately on start.
	s.log.Info("scheduler: initial sync")
	s.sync(ctx)

	s.log.Info("scheduler: running", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sync(ctx)
		}
	}
}

func (s *Scheduler) sync(ctx context.Context) {
	res, err := s.syncer.Sync(ctx, s.src)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Error("scheduler: sync failed", zap.String("source", s.src.Name()), zap.Error(err))
		}
		return
	}
	s.log.Info("scheduler: synced", zap.String("source", s.src.Name()), zap.Int("imported", res.Imported))
}
