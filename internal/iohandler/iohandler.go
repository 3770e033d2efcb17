// Package iohandler implements the per-connection session state and
// opcode semantics of spec §4.4: at most one open volume handle per
// session, translating decoded wire requests into catalog/backend calls
// and filling in response fields.
package iohandler

import (
	"context"
	"time"

	"github.com/openvstorage/xiovolumed/internal/backend"
	"github.com/openvstorage/xiovolumed/internal/catalog"
	"github.com/openvstorage/xiovolumed/internal/logger"
	"github.com/openvstorage/xiovolumed/internal/pool"
	"github.com/openvstorage/xiovolumed/internal/wire"
)

// Result bundles the response header and any outbound data-iovec payload,
// separating reply bytes from the bookkeeping (retval/errval) the caller
// needs for metrics and logging — the same split the teacher's protocol
// handlers use for their operation results.
type Result struct {
	Header  wire.Header
	Data    []byte
	Block   *pool.MemBlock // non-nil when Data was served from the pool and must be freed after send
}

// ClusterDirectory answers the endpoint-discovery questions backing
// OpListClusterNodeURIReq/OpGetVolumeURIReq. A nil ClusterDirectory makes
// both opcodes fail with Unsupported.
type ClusterDirectory interface {
	SelfURI() string
	ListClusterNodeURI() []string
}

// Session holds the state of one connection: at most one open volume
// handle (spec §4.4). It is not safe for concurrent use by more than one
// goroutine at a time; the server serializes requests per connection.
type Session struct {
	catalog catalog.Catalog
	backend backend.VolumeBackend
	snaps   backend.SnapshotBackend
	pool    *pool.Pool
	cluster ClusterDirectory

	handle     backend.VolumeHandle
	handleName string
}

// New creates a Session bound to the given catalog, backend, and pool.
// snaps may be nil if backend does not also implement SnapshotBackend, in
// which case create/delete/rollback snapshot only update the catalog and
// IsSnapshotSynced fails with Unsupported. cluster may be nil,
// in which case the cluster-discovery opcodes fail with Unsupported.
func New(cat catalog.Catalog, be backend.VolumeBackend, snaps backend.SnapshotBackend, p *pool.Pool, cluster ClusterDirectory) *Session {
	return &Session{catalog: cat, backend: be, snaps: snaps, pool: p, cluster: cluster}
}

// Close releases any volume handle still held by the session, called on
// connection teardown.
func (s *Session) Close() error {
	if s.handle == nil {
		return nil
	}
	err := s.handle.Close()
	s.handle = nil
	s.handleName = ""
	return err
}

// Handle dispatches one decoded request and returns the reply. data is
// the inbound data-iovec payload (non-nil only for Write). The returned
// Result.Block, if non-nil, must be freed by the caller (the server) once
// the reply has been sent.
func (s *Session) Handle(ctx context.Context, req wire.Header, data []byte) Result {
	lc := logger.FromContext(ctx).WithOpcode(req.Opcode.String()).WithVolume(req.VolumeName).WithCookie(req.OpaqueCookie)
	ctx = logger.WithContext(ctx, lc)

	switch req.Opcode {
	case wire.OpOpenReq:
		return s.handleOpen(ctx, req)
	case wire.OpCloseReq:
		return s.handleClose(ctx, req)
	case wire.OpReadReq:
		return s.handleRead(ctx, req)
	case wire.OpWriteReq:
		return s.handleWrite(ctx, req, data)
	case wire.OpFlushReq:
		return s.handleFlush(ctx, req)
	case wire.OpCreateVolumeReq:
		return s.handleCreateVolume(ctx, req)
	case wire.OpRemoveVolumeReq:
		return s.handleRemoveVolume(ctx, req)
	case wire.OpTruncateVolumeReq:
		return s.handleTruncateVolume(ctx, req)
	case wire.OpStatVolumeReq:
		return s.handleStatVolume(ctx, req)
	case wire.OpListVolumesReq:
		return s.handleListVolumes(ctx, req)
	case wire.OpListSnapshotsReq:
		return s.handleListSnapshots(ctx, req)
	case wire.OpCreateSnapshotReq:
		return s.handleCreateSnapshot(ctx, req)
	case wire.OpDeleteSnapshotReq:
		return s.handleDeleteSnapshot(ctx, req)
	case wire.OpRollbackSnapshotReq:
		return s.handleRollbackSnapshot(ctx, req)
	case wire.OpIsSnapshotSyncedReq:
		return s.handleIsSnapshotSynced(ctx, req)
	case wire.OpListClusterNodeURIReq:
		return s.handleListClusterNodeURI(ctx, req)
	case wire.OpGetVolumeURIReq:
		return s.handleGetVolumeURI(ctx, req)
	default:
		logger.WarnCtx(ctx, "iohandler: unrecognized opcode")
		return errorResult(req, wire.EBADMSG)
	}
}

func errorResult(req wire.Header, errno wire.Errno) Result {
	return Result{Header: wire.NewErrorResponse(req, errno)}
}

func (s *Session) handleOpen(ctx context.Context, req wire.Header) Result {
	if s.handle != nil {
		return errorResult(req, wire.EIO)
	}
	if _, err := s.catalog.Get(ctx, req.VolumeName); err != nil {
		if catalog.IsNotFound(err) {
			return errorResult(req, wire.EACCES)
		}
		return errorResult(req, wire.EIO)
	}
	h, err := s.backend.Open(ctx, req.VolumeName)
	if err != nil {
		if backend.IsNotFound(err) {
			return errorResult(req, wire.EACCES)
		}
		return errorResult(req, wire.EIO)
	}
	s.handle = h
	s.handleName = req.VolumeName
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleClose(_ context.Context, req wire.Header) Result {
	if s.handle == nil {
		return errorResult(req, wire.EIO)
	}
	err := s.handle.Close()
	s.handle = nil
	s.handleName = ""
	if err != nil {
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleRead(ctx context.Context, req wire.Header) Result {
	if s.handle == nil || req.Size == 0 {
		return errorResult(req, wire.EIO)
	}
	blk := s.pool.Alloc(req.Size)
	n, err := s.handle.ReadAt(ctx, blk.Data[:req.Size], req.Offset)
	if err != nil {
		s.pool.Free(blk)
		return errorResult(req, wire.EIO)
	}
	return Result{
		Header: wire.NewResponse(req, int64(n), wire.EOK, uint64(n)),
		Data:   blk.Data[:n],
		Block:  blk,
	}
}

func (s *Session) handleWrite(ctx context.Context, req wire.Header, data []byte) Result {
	if s.handle == nil || uint64(len(data)) < req.Size {
		return errorResult(req, wire.EIO)
	}
	n, err := s.handle.WriteAt(ctx, data[:req.Size], req.Offset)
	if err != nil {
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, int64(n), wire.EOK, 0)}
}

func (s *Session) handleFlush(ctx context.Context, req wire.Header) Result {
	if s.handle == nil {
		return errorResult(req, wire.EIO)
	}
	if err := s.handle.Flush(ctx); err != nil {
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleCreateVolume(ctx context.Context, req wire.Header) Result {
	if s.handle != nil {
		return errorResult(req, wire.EIO)
	}
	if err := s.catalog.Register(ctx, req.VolumeName, req.Size); err != nil {
		if catalog.IsAlreadyExists(err) {
			return errorResult(req, wire.EEXIST)
		}
		return errorResult(req, wire.EIO)
	}
	if err := s.backend.Create(ctx, req.VolumeName, req.Size); err != nil {
		_ = s.catalog.Unregister(ctx, req.VolumeName)
		if backend.IsAlreadyExists(err) {
			return errorResult(req, wire.EEXIST)
		}
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleRemoveVolume(ctx context.Context, req wire.Header) Result {
	if s.handle != nil {
		return errorResult(req, wire.EIO)
	}
	if err := s.backend.Remove(ctx, req.VolumeName); err != nil && !backend.IsNotFound(err) {
		return errorResult(req, wire.EIO)
	}
	if err := s.catalog.Unregister(ctx, req.VolumeName); err != nil {
		if catalog.IsNotFound(err) {
			return errorResult(req, wire.ENOENT)
		}
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleTruncateVolume(ctx context.Context, req wire.Header) Result {
	if s.handle != nil {
		return errorResult(req, wire.EIO)
	}
	if err := s.catalog.Resize(ctx, req.VolumeName, req.Size); err != nil {
		if catalog.IsNotFound(err) {
			return errorResult(req, wire.ENOENT)
		}
		return errorResult(req, wire.EIO)
	}
	if err := s.backend.Truncate(ctx, req.VolumeName, req.Size); err != nil {
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleStatVolume(ctx context.Context, req wire.Header) Result {
	e, err := s.catalog.Get(ctx, req.VolumeName)
	if err != nil {
		return errorResult(req, wire.ENOENT)
	}
	return Result{Header: wire.NewResponse(req, int64(e.Size), wire.EOK, 0)}
}

func (s *Session) handleListVolumes(ctx context.Context, req wire.Header) Result {
	entries, err := s.catalog.List(ctx)
	if err != nil {
		return errorResult(req, wire.EIO)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	data := wire.EncodeNameList(names)
	return Result{
		Header: wire.NewResponse(req, int64(len(names)), wire.EOK, uint64(len(data))),
		Data:   data,
	}
}

func (s *Session) handleListSnapshots(ctx context.Context, req wire.Header) Result {
	if _, err := s.catalog.Get(ctx, req.VolumeName); err != nil {
		return errorResult(req, wire.ENOENT)
	}
	names, err := s.catalog.Snapshots(ctx, req.VolumeName)
	if err != nil {
		return errorResult(req, wire.ENOENT)
	}
	data := wire.EncodeNameList(names)
	return Result{
		Header: wire.NewResponse(req, int64(len(names)), wire.EOK, uint64(len(data))),
		Data:   data,
	}
}

func (s *Session) handleCreateSnapshot(ctx context.Context, req wire.Header) Result {
	if _, err := s.catalog.Get(ctx, req.VolumeName); err != nil {
		return errorResult(req, wire.ENOENT)
	}
	if err := s.catalog.AddSnapshot(ctx, req.VolumeName, req.SnapshotName); err != nil {
		if catalog.IsAlreadyExists(err) {
			return errorResult(req, wire.EEXIST)
		}
		return errorResult(req, wire.EIO)
	}
	if s.snaps == nil {
		return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
	}
	timeout := time.Duration(req.TimeoutMillis) * time.Millisecond
	if err := s.snaps.CreateSnapshot(ctx, req.VolumeName, req.SnapshotName, timeout); err != nil {
		_, _ = s.catalog.RemoveSnapshot(ctx, req.VolumeName, req.SnapshotName)
		if err == context.DeadlineExceeded {
			return errorResult(req, wire.ETIMEDOUT)
		}
		return errorResult(req, wire.EBUSY)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleDeleteSnapshot(ctx context.Context, req wire.Header) Result {
	hadChildren, err := s.catalog.RemoveSnapshot(ctx, req.VolumeName, req.SnapshotName)
	if err != nil {
		if catalog.IsHasChildren(err) || hadChildren {
			return errorResult(req, wire.ENOTEMPTY)
		}
		return errorResult(req, wire.ENOENT)
	}
	if s.snaps != nil {
		if err := s.snaps.DeleteSnapshot(ctx, req.VolumeName, req.SnapshotName); err != nil {
			return errorResult(req, wire.EIO)
		}
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleRollbackSnapshot(ctx context.Context, req wire.Header) Result {
	if _, err := s.catalog.Get(ctx, req.VolumeName); err != nil {
		return errorResult(req, wire.ENOENT)
	}
	snaps, err := s.catalog.Snapshots(ctx, req.VolumeName)
	if err != nil {
		return errorResult(req, wire.ENOENT)
	}
	if len(snaps) == 0 || snaps[len(snaps)-1] != req.SnapshotName {
		return errorResult(req, wire.ENOTEMPTY)
	}
	if s.snaps == nil {
		return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
	}
	if err := s.snaps.RollbackSnapshot(ctx, req.VolumeName, req.SnapshotName); err != nil {
		return errorResult(req, wire.EIO)
	}
	return Result{Header: wire.NewResponse(req, 0, wire.EOK, 0)}
}

func (s *Session) handleIsSnapshotSynced(ctx context.Context, req wire.Header) Result {
	if s.snaps == nil {
		return errorResult(req, wire.ENOSYS)
	}
	synced, err := s.snaps.IsSnapshotSynced(ctx, req.VolumeName, req.SnapshotName)
	if err != nil {
		return errorResult(req, wire.ENOENT)
	}
	retval := int64(0)
	if synced {
		retval = 1
	}
	return Result{Header: wire.NewResponse(req, retval, wire.EOK, 0)}
}

// handleListClusterNodeURI answers with every peer URI this node is
// configured to know about, submitted as a genuine wire request by
// haclient's resolver rather than answered by an in-process interface.
func (s *Session) handleListClusterNodeURI(_ context.Context, req wire.Header) Result {
	if s.cluster == nil {
		return errorResult(req, wire.ENOSYS)
	}
	uris := s.cluster.ListClusterNodeURI()
	data := wire.EncodeNameList(uris)
	return Result{
		Header: wire.NewResponse(req, int64(len(uris)), wire.EOK, uint64(len(data))),
		Data:   data,
	}
}

// handleGetVolumeURI answers which node's URI owns req.VolumeName. Since a
// volume's catalog entry only exists on the node that owns it, confirming
// the entry is present locally is enough to answer with this node's own
// advertised URI.
func (s *Session) handleGetVolumeURI(ctx context.Context, req wire.Header) Result {
	if s.cluster == nil {
		return errorResult(req, wire.ENOSYS)
	}
	if _, err := s.catalog.Get(ctx, req.VolumeName); err != nil {
		return errorResult(req, wire.ENOENT)
	}
	data := []byte(s.cluster.SelfURI())
	return Result{
		Header: wire.NewResponse(req, int64(len(data)), wire.EOK, uint64(len(data))),
		Data:   data,
	}
}
