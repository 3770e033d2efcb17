// Package completion implements the process-wide completion-dispatch pool
// of spec §4.8: a fixed pool of workers onto which completion callbacks are
// posted, so a slow user callback cannot stall a transport event loop.
package completion

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openvstorage/xiovolumed/internal/logger"
)

// Config controls worker count and queue depth.
type Config struct {
	Workers    int
	QueueDepth int
}

// Pool dispatches posted callbacks onto a fixed set of worker goroutines.
// It is shared process-wide: every xioclient.Client AIO completion posts
// onto the same Pool rather than each spawning its own dispatch thread.
type Pool struct {
	cfg   Config
	tasks chan func()

	cancel context.CancelFunc
	group  *errgroup.Group

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Pool. Workers <= 0 and QueueDepth <= 0 are replaced with
// defaults (4 workers, depth 256).
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	return &Pool{cfg: cfg, tasks: make(chan func(), cfg.QueueDepth)}
}

// Start launches the worker goroutines. Safe to call only once; subsequent
// calls are no-ops.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		p.cancel = cancel

		g, gctx := errgroup.WithContext(ctx)
		p.group = g

		for i := 0; i < p.cfg.Workers; i++ {
			g.Go(func() error {
				return p.worker(gctx)
			})
		}
	})
}

func (p *Pool) worker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case cb, ok := <-p.tasks:
			if !ok {
				return nil
			}
			cb()
		}
	}
}

// Post enqueues cb for dispatch on a worker goroutine. Returns false if the
// queue is at capacity; callers should invoke the completion inline rather
// than drop it, since a dropped completion would leave a caller blocked in
// aio_suspend/wait_completion forever.
func (p *Pool) Post(cb func()) bool {
	select {
	case p.tasks <- cb:
		return true
	default:
		logger.Warn("completion: dispatch queue full, running callback inline")
		return false
	}
}

// Stop cancels the workers and waits for them to drain. Idempotent.
func (p *Pool) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		if p.group != nil {
			err = p.group.Wait()
		}
	})
	if err != nil {
		return fmt.Errorf("completion: worker error: %w", err)
	}
	return nil
}
