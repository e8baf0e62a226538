package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elonfeng/swarm2sqlite/internal/ingest"
	"github.com/elonfeng/swarm2sqlite/pkg/source"
)

type countingSyncer struct {
	mu    sync.Mutex
	calls int
	fail  bool
	done  chan struct{}
	want  int
}

func (c *countingSyncer) Sync(ctx context.Context, src source.Source) (ingest.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls == c.want {
		close(c.done)
	}
	if c.fail {
		return ingest.Result{}, errors.New("upstream down")
	}
	return ingest.Result{Imported: 1}, nil
}

func TestRunSyncsImmediatelyAndOnTick(t *testing.T) {
	for _, fail := range []bool{false, true} {
		syncer := &countingSyncer{done: make(chan struct{}), want: 3, fail: fail}
		s := New(syncer, source.NewFile("unused.json"), 10*time.Millisecond, zaptest.NewLogger(t))

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- s.Run(ctx) }()

		select {
		case <-syncer.done:
		case <-time.After(5 * time.Second):
			t.Fatal("scheduler did not sync three times")
		}
		cancel()
		require.ErrorIs(t, <-errc, context.Canceled)

		syncer.mu.Lock()
		assert.GreaterOrEqual(t, syncer.calls, 3)
		syncer.mu.Unlock()
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	s := New(&countingSyncer{}, source.NewFile("unused.json"), 0, nil)
	assert.Equal(t, time.Hour, s.interval)
}
