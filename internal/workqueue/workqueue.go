// Package workqueue implements the bounded work queue described in spec
// §4.3: a fixed-size worker pool pops queued items, runs them, and pushes
// the completed item onto a finished queue for the server's event loop to
// drain. The original design wakes the event loop through an event file
// descriptor registered with the transport; Go's channels make that
// machinery unnecessary — the finished channel itself is the wakeup.
package workqueue

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Item is a unit of work submitted to the queue. Run executes on a worker
// goroutine and must not block indefinitely — there is no per-item
// timeout enforced here, callers needing one should derive it from the
// connection's own deadlines.
type Item interface {
	Run()
}

// ThreadsError is returned by New when the worker pool cannot be started,
// mirroring the construction-time WorkQueueThreadsException of spec §4.3.
type ThreadsError struct {
	Requested int
	Err       error
}

func (e *ThreadsError) Error() string {
	return fmt.Sprintf("workqueue: failed to start %d workers: %v", e.Requested, e.Err)
}

func (e *ThreadsError) Unwrap() error { return e.Err }

// Config controls queue depth and worker count.
type Config struct {
	QueueDepth int
	Workers    int
}

// Queue is a bounded FIFO of Items serviced by a fixed pool of workers.
// Completed items are pushed onto Finished for the caller to drain; Queue
// itself never inspects the item after Run returns.
type Queue struct {
	cfg      Config
	pending  chan Item
	Finished chan Item

	sessions atomic.Int64 // open-session counter, spec §4.3

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New starts a Queue with the given configuration. Workers <= 0 and
// QueueDepth <= 0 are replaced by sane defaults (4 workers, depth 256).
func New(cfg Config) (*Queue, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}

	q := &Queue{
		cfg:      cfg,
		pending:  make(chan Item, cfg.QueueDepth),
		Finished: make(chan Item, cfg.QueueDepth),
		stopCh:   make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q, nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopCh:
			return
		case item, ok := <-q.pending:
			if !ok {
				return
			}
			item.Run()
			select {
			case q.Finished <- item:
			case <-q.stopCh:
				return
			}
		}
	}
}

// Submit enqueues item for execution. Returns false if the queue is at
// capacity; the caller is expected to translate that into EBUSY at the
// protocol boundary.
func (q *Queue) Submit(item Item) bool {
	select {
	case q.pending <- item:
		return true
	default:
		return false
	}
}

// Depth reports the number of items currently waiting to be picked up by
// a worker, used by the admin package's /debug/inflight endpoint.
func (q *Queue) Depth() int { return len(q.pending) }

// OpenSession increments the open-session counter and returns the new
// value.
func (q *Queue) OpenSession() int64 { return q.sessions.Add(1) }

// CloseSession decrements the open-session counter and returns the new
// value.
func (q *Queue) CloseSession() int64 { return q.sessions.Add(-1) }

// Sessions reports the current open-session count.
func (q *Queue) Sessions() int64 { return q.sessions.Load() }

// Stop signals all workers to exit and waits for them to return. It does
// not run items still sitting in pending, and Server.Stop calls it right
// after closing the listener without draining them first, so those items
// are dropped unanswered. Idempotent.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
	q.wg.Wait()
}
