// Package server implements the accept/dispatch/reply event loop of spec
// §4.5: one bound listener, one work queue, one memory pool, per-connection
// sessions that hold at most one open volume handle.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openvstorage/xiovolumed/internal/admin"
	"github.com/openvstorage/xiovolumed/internal/backend"
	"github.com/openvstorage/xiovolumed/internal/catalog"
	"github.com/openvstorage/xiovolumed/internal/cluster"
	"github.com/openvstorage/xiovolumed/internal/iohandler"
	"github.com/openvstorage/xiovolumed/internal/logger"
	"github.com/openvstorage/xiovolumed/internal/metrics"
	"github.com/openvstorage/xiovolumed/internal/pool"
	"github.com/openvstorage/xiovolumed/internal/transport"
	"github.com/openvstorage/xiovolumed/internal/wire"
	"github.com/openvstorage/xiovolumed/internal/workqueue"
)

// maxConns bounds concurrently accepted connections. The protocol is
// connection-light (one volume handle per session) so this is generous
// headroom, not a hard operational limit.
const maxConns = 4096

// Config controls the listener address and shutdown grace period.
type Config struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// Server owns the listener, the work queue, the memory pool and the
// backend/catalog the dispatched requests act on. State machine per
// connection: Accepted -> Established -> TornDown. Teardown happens as soon
// as the connection's read loop ends; it does not wait for requests of that
// connection still in the work queue.
type Server struct {
	cfg Config

	listener net.Listener
	queue    *workqueue.Queue
	pool     *pool.Pool
	cat      catalog.Catalog
	be       backend.VolumeBackend
	snaps    backend.SnapshotBackend
	cluster  *cluster.Directory
	metrics  *metrics.ServerMetrics

	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
	connSemaphore chan struct{}

	connMu sync.Mutex
	conns  int
}

// New builds a Server. queue and p are owned by the caller's lifecycle
// (Stop stops the queue's workers but not the pool's reclaimer, since the
// pool may outlive a single listener in tests).
func New(cfg Config, queue *workqueue.Queue, p *pool.Pool, cat catalog.Catalog, be backend.VolumeBackend, snaps backend.SnapshotBackend, dir *cluster.Directory, m *metrics.ServerMetrics) *Server {
	return &Server{
		cfg:           cfg,
		queue:         queue,
		pool:          p,
		cat:           cat,
		be:            be,
		snaps:         snaps,
		cluster:       dir,
		metrics:       m,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
		connSemaphore: make(chan struct{}, maxConns),
	}
}

// requestItem is a single decoded request paired with the connection and
// session it arrived on. Run executes the handler; the result is read back
// by the event loop once the item reappears on queue.Finished.
type requestItem struct {
	conn     net.Conn
	session  *iohandler.Session
	req      wire.Header
	data     []byte
	reqBlock *pool.MemBlock // non-nil when data was read into a pool-acquired buffer (inbound Write)
	result   iohandler.Result
	started  time.Time
}

func (r *requestItem) Run() {
	r.result = r.session.Handle(context.Background(), r.req, r.data)
}

// Serve binds the listener and runs the accept loop and the finished-queue
// dispatch loop until the context is cancelled or Stop is called. It
// blocks until both loops exit.
func (s *Server) Serve(ctx context.Context) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.ListenAddr, err)
	}
	s.listener = l
	close(s.listenerReady)

	logger.Info("server: listening", "addr", s.cfg.ListenAddr)

	s.wg.Add(2)
	go s.acceptLoop(ctx)
	go s.dispatchLoop(ctx)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// WaitReady returns a channel closed once the listener is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("server: accept error", "error", err)
				return
			}
		}

		select {
		case s.connSemaphore <- struct{}{}:
		default:
			logger.Warn("server: connection limit reached, rejecting", "client", conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		s.connMu.Lock()
		s.conns++
		s.metrics.SetConnectionsOpen(s.conns)
		s.connMu.Unlock()

		connID := uuid.NewString()
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.connSemaphore }()
			defer func() {
				s.connMu.Lock()
				s.conns--
				s.metrics.SetConnectionsOpen(s.conns)
				s.connMu.Unlock()
			}()
			s.handleConn(ctx, connID, c)
		}(conn)
	}
}

// handleConn is the per-connection read loop (the "Established" state of
// the connection state machine). It decodes frames and submits them as
// work items. Apart from the EBUSY reply it sends when the work queue is
// full, it does not write replies itself -- that is dispatchLoop's job,
// since replies must be serialized with the session's single open handle
// but writes can interleave with reads on the same net.Conn.
func (s *Server) handleConn(ctx context.Context, connID string, conn net.Conn) {
	defer func() { _ = conn.Close() }()

	var dir iohandler.ClusterDirectory
	if s.cluster != nil {
		dir = s.cluster
	}
	session := iohandler.New(s.cat, s.be, s.snaps, s.pool, dir)
	defer func() { _ = session.Close() }()

	s.queue.OpenSession()
	defer s.queue.CloseSession()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		default:
		}

		req, err := transport.ReadHeader(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("server: read frame error", "conn", connID, "error", err)
			}
			return
		}

		// Inbound Write payloads are read straight into a pool-acquired
		// block (spec §4.5's "assign-data-in-buf" path) instead of
		// heap-allocating, mirroring handleRead's outbound pool.Alloc use.
		var blk *pool.MemBlock
		var dataBuf []byte
		if req.Opcode == wire.OpWriteReq && req.Size > 0 {
			blk = s.pool.Alloc(req.Size)
			dataBuf = blk.Data[:req.Size]
		}

		data, err := transport.ReadData(conn, dataBuf)
		if err != nil {
			if blk != nil {
				s.pool.Free(blk)
			}
			if !errors.Is(err, io.EOF) {
				logger.Debug("server: read frame error", "conn", connID, "error", err)
			}
			return
		}

		item := &requestItem{conn: conn, session: session, req: req, data: data, reqBlock: blk, started: time.Now()}
		if !s.queue.Submit(item) {
			logger.Warn("server: work queue full, rejecting request", "conn", connID, logger.KeyOpcode, req.Opcode.String())
			if blk != nil {
				s.pool.Free(blk)
			}
			errResp := wire.NewErrorResponse(req, wire.EBUSY)
			if werr := transport.WriteFrame(conn, errResp, nil); werr != nil {
				return
			}
			continue
		}
		s.metrics.SetWorkQueueDepth(s.queue.Depth())
	}
}

// dispatchLoop drains completed items and writes replies back to their
// originating connection. This is the single goroutine the spec's event
// loop describes; Go's channel receive plays the role of the event-fd wait.
func (s *Server) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case item, ok := <-s.queue.Finished:
			if !ok {
				return
			}
			ri, ok := item.(*requestItem)
			if !ok {
				continue
			}
			s.metrics.ObserveRequest(ri.req.Opcode.String(), ri.result.Header.Errval, time.Since(ri.started))
			s.metrics.SetOpenSessions(s.queue.Sessions())

			if werr := transport.WriteFrame(ri.conn, ri.result.Header, ri.result.Data); werr != nil {
				logger.Debug("server: write reply error", "error", werr)
			}
			if ri.result.Block != nil {
				s.pool.Free(ri.result.Block)
			}
			if ri.reqBlock != nil {
				s.pool.Free(ri.reqBlock)
			}
		case <-ctx.Done():
			return
		case <-s.shutdown:
			return
		}
	}
}

// AdminSources builds the admin.Sources this server exposes, for wiring
// into admin.NewRouter by the caller.
func (s *Server) AdminSources() admin.Sources {
	return admin.Sources{
		PoolStats: s.pool.Stats,
		WorkQueueStats: func() admin.WorkQueueStats {
			return admin.WorkQueueStats{Depth: s.queue.Depth(), Sessions: s.queue.Sessions()}
		},
	}
}

// Stop unbinds the listener, stops the work queue and closes the finished
// channel's consumers by cancelling the dispatch loop. Idempotent, matching
// spec §4.5's "shutdown is idempotent".
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.queue.Stop()
	})
}
