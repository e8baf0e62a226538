// Package ingest drives a check-in source into the store.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elonfeng/swarm2sqlite/internal/store"
	"github.com/elonfeng/swarm2sqlite/pkg/checkin"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

// Options tunes one run.
type Options struct {
	// After is passed to the source; zero fetches everything.
	After time.Time
	// OnTotal receives the source's expected record count.
	OnTotal func(total int)
	// OnRecord is called after each record has been stored.
	OnRecord func(r source.Record)
}

// Result summarizes a run.
type Result struct {
	Imported int           `json:"imported"`
	Duration time.Duration `json:"duration"`
}

// Pipeline normalizes records into a store one at a time and then runs the
// schema housekeeping once. Runs are serialized.
type Pipeline struct {
	store      store.Store
	normalizer *checkin.Normalizer
	manager    *checkin.Manager
	log        *zap.Logger

	mu sync.Mutex
}

// New creates a pipeline writing into st.
func New(st store.Store, nulls checkin.NullPolicy, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:      st,
		normalizer: checkin.NewNormalizer(nulls),
		manager:    checkin.NewManager(log),
		log:        log,
	}
}

// Run fetches every record src yields and stores it. The first record that
// fails to normalize aborts the run; records stored before it stay.
func (p *Pipeline) Run(ctx context.Context, src source.Source, opts Options) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run(ctx, src, opts)
}

// Sync fetches only check-ins newer than the newest one already stored.
func (p *Pipeline) Sync(ctx context.Context, src source.Source) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	latest, err := p.latest(ctx)
	if err != nil {
		return Result{}, err
	}
	return p.run(ctx, src, Options{After: latest})
}

func (p *Pipeline) run(ctx context.Context, src source.Source, opts Options) (Result, error) {
	start := time.Now()
	var res Result

	p.log.Info("ingest started", zap.String("source", src.Name()), zap.Time("after", opts.After))
	err := src.Fetch(ctx, source.FetchOptions{After: opts.After, OnTotal: opts.OnTotal}, func(r source.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.normalizer.Normalize(ctx, p.store, r); err != nil {
			return err
		}
		res.Imported++
		if opts.OnRecord != nil {
			opts.OnRecord(r)
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("ingest from %s: %w", src.Name(), err)
	}

	if err := p.manager.EnsureForeignKeys(ctx, p.store); err != nil {
		return res, err
	}
	if err := p.manager.CreateViews(ctx, p.store); err != nil {
		return res, err
	}

	res.Duration = time.Since(start)
	p.log.Info("ingest finished",
		zap.String("source", src.Name()),
		zap.Int("imported", res.Imported),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// latest returns the createdAt of the newest stored check-in, zero when
// nothing has been stored yet.
func (p *Pipeline) latest(ctx context.Context) (time.Time, error) {
	tables, err := p.store.TableNames(ctx)
	if err != nil {
		return time.Time{}, err
	}
	found := false
	for _, t := range tables {
		if t == "checkins" {
			found = true
			break
		}
	}
	if !found {
		return time.Time{}, nil
	}

	rows, err := p.store.Query(ctx, `SELECT max("createdAt") AS latest FROM "checkins"`)
	if err != nil {
		return time.Time{}, fmt.Errorf("find latest checkin: %w", err)
	}
	if len(rows) == 0 {
		return time.Time{}, nil
	}
	switch v := rows[0]["latest"].(type) {
	case int64:
		return time.Unix(v, 0), nil
	case float64:
		return time.Unix(int64(v), 0), nil
	}
	return time.Time{}, nil
}
