// Package xioclient is the public API surface of the block-storage front
// end's client half (spec §6's "Client C-style API surface"), re-expressed
// in Go idiom: typed handles and futures instead of opaque cookies and
// callback pointers. It wraps internal/haclient when the caller wants
// reconnect-and-replay, or internal/clientcore directly otherwise.
package xioclient

import (
	"context"
	"fmt"
	"time"

	"github.com/openvstorage/xiovolumed/internal/clientcore"
	"github.com/openvstorage/xiovolumed/internal/completion"
	"github.com/openvstorage/xiovolumed/internal/haclient"
	"github.com/openvstorage/xiovolumed/internal/metrics"
	"github.com/openvstorage/xiovolumed/internal/pool"
	"github.com/openvstorage/xiovolumed/internal/wire"
)

// ProtocolError wraps a non-OK errval the server returned for an
// otherwise successfully-transported request.
type ProtocolError struct {
	Op    wire.Opcode
	Errno wire.Errno
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("xioclient: %s: %s", e.Op, e.Errno)
}

// submitter is satisfied by both clientcore.Core and haclient.Client; it
// lets Client stay agnostic to which one it was built with.
type submitter interface {
	Submit(ctx context.Context, op wire.Opcode, volume, snapshot string, size, offset uint64, timeoutMillis int64, data []byte) (clientcore.Result, error)
	SubmitInto(ctx context.Context, op wire.Opcode, volume, snapshot string, size, offset uint64, timeoutMillis int64, data, respBuf []byte) (clientcore.Result, error)
	Close() error
}

// Config controls how Dial connects and whether AIO completions are
// dispatched through a shared completion.Pool. The underlying
// clientcore.Core's submission/keepalive settings live on HA.CoreConfig
// regardless of whether HA.Enabled is set, so there is exactly one place
// to configure them.
type Config struct {
	HA             haclient.Config
	Metrics        *metrics.ClientMetrics
	CompletionPool *completion.Pool // nil: completions resolve on their own goroutine, no shared dispatch
	BufferPool     *pool.Pool       // nil: AllocateBuffer falls back to a heap block, matching pool.Pool.Alloc's own fallback
}

// Client is the re-expression of spec §6's C-style API: one client per
// logical connection to a volume's owning node.
type Client struct {
	sub        submitter
	pool       *completion.Pool
	bufferPool *pool.Pool
}

// Buffer is a client-owned registered-memory block: the Go re-expression
// of spec §6's buffer_{allocate,data,size,deallocate} API. A caller that
// issues many AIOWrite/AIORead calls can reuse one Buffer across them
// instead of handing the client a fresh slice (and the client a fresh
// allocation) every time.
type Buffer struct {
	blk *pool.MemBlock
}

// Data returns the buffer's backing slice.
func (b *Buffer) Data() []byte { return b.blk.Data }

// Size returns the buffer's capacity in bytes.
func (b *Buffer) Size() uint64 { return uint64(len(b.blk.Data)) }

// AllocateBuffer acquires a Buffer able to hold size bytes, from the
// Client's BufferPool if one was configured, or a heap allocation
// otherwise — the same fallback pool.Pool.Alloc itself takes when a slab
// class is exhausted (spec §4.2: registered memory is an optimization,
// not a correctness requirement).
func (c *Client) AllocateBuffer(size uint64) *Buffer {
	if c.bufferPool != nil {
		return &Buffer{blk: c.bufferPool.Alloc(size)}
	}
	return &Buffer{blk: &pool.MemBlock{Data: make([]byte, size)}}
}

// DeallocateBuffer returns buf to the BufferPool it came from, if any.
func (c *Client) DeallocateBuffer(buf *Buffer) {
	if buf == nil {
		return
	}
	if c.bufferPool != nil {
		c.bufferPool.Free(buf.blk)
	}
}

// Dial connects to volume's owning node as resolved by resolver. When
// cfg.HA.Enabled is set this builds a haclient.Client (reconnect-and-replay
// supervisor running in the background); otherwise it dials a bare
// clientcore.Core against the resolver's single answer, with no
// supervisor goroutine at all.
func Dial(ctx context.Context, resolver haclient.Resolver, volume string, cfg Config) (*Client, error) {
	if cfg.HA.Enabled {
		hc, err := haclient.Dial(ctx, resolver, volume, cfg.HA, cfg.Metrics)
		if err != nil {
			return nil, err
		}
		return &Client{sub: hc, pool: cfg.CompletionPool, bufferPool: cfg.BufferPool}, nil
	}

	uri, err := resolver.GetVolumeURI(ctx, volume)
	if err != nil {
		return nil, fmt.Errorf("xioclient: resolve volume uri: %w", err)
	}
	core, err := clientcore.Dial(ctx, uri, cfg.HA.CoreConfig, cfg.Metrics)
	if err != nil {
		return nil, err
	}
	return &Client{sub: core, pool: cfg.CompletionPool, bufferPool: cfg.BufferPool}, nil
}

// Close closes the underlying connection. It does not stop a shared
// completion.Pool, since that pool may be serving other Clients.
func (c *Client) Close() error {
	return c.sub.Close()
}

// call is the synchronous control-plane request/response helper every
// non-AIO method uses: it blocks the calling goroutine until the reply
// arrives and turns a non-OK errval into a *ProtocolError.
func (c *Client) call(ctx context.Context, op wire.Opcode, volume, snapshot string, size, offset uint64, timeoutMillis int64, data []byte) (clientcore.Result, error) {
	res, err := c.sub.Submit(ctx, op, volume, snapshot, size, offset, timeoutMillis, data)
	if err != nil {
		return clientcore.Result{}, err
	}
	if res.Header.Errval != int32(wire.EOK) {
		return res, &ProtocolError{Op: op, Errno: wire.Errno(res.Header.Errval)}
	}
	return res, nil
}

// OpenVolume opens volume for this connection. A session may hold at most
// one open volume at a time (spec §4.4); opening a second fails.
func (c *Client) OpenVolume(ctx context.Context, volume string) error {
	_, err := c.call(ctx, wire.OpOpenReq, volume, "", 0, 0, 0, nil)
	return err
}

// CloseVolume closes the currently open volume.
func (c *Client) CloseVolume(ctx context.Context, volume string) error {
	_, err := c.call(ctx, wire.OpCloseReq, volume, "", 0, 0, 0, nil)
	return err
}

// CreateVolume registers and allocates a new volume of the given size.
func (c *Client) CreateVolume(ctx context.Context, volume string, size uint64) error {
	_, err := c.call(ctx, wire.OpCreateVolumeReq, volume, "", size, 0, 0, nil)
	return err
}

// RemoveVolume deletes volume and its catalog entry.
func (c *Client) RemoveVolume(ctx context.Context, volume string) error {
	_, err := c.call(ctx, wire.OpRemoveVolumeReq, volume, "", 0, 0, 0, nil)
	return err
}

// TruncateVolume resizes volume. The volume must not be open.
func (c *Client) TruncateVolume(ctx context.Context, volume string, size uint64) error {
	_, err := c.call(ctx, wire.OpTruncateVolumeReq, volume, "", size, 0, 0, nil)
	return err
}

// StatVolume returns volume's current size.
func (c *Client) StatVolume(ctx context.Context, volume string) (uint64, error) {
	res, err := c.call(ctx, wire.OpStatVolumeReq, volume, "", 0, 0, 0, nil)
	if err != nil {
		return 0, err
	}
	return uint64(res.Header.Retval), nil
}

// ListVolumes returns every volume name known to the catalog.
func (c *Client) ListVolumes(ctx context.Context) ([]string, error) {
	res, err := c.call(ctx, wire.OpListVolumesReq, "", "", 0, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeNameList(res.Data), nil
}

// ListSnapshots returns volume's snapshots, oldest first.
func (c *Client) ListSnapshots(ctx context.Context, volume string) ([]string, error) {
	res, err := c.call(ctx, wire.OpListSnapshotsReq, volume, "", 0, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	return wire.DecodeNameList(res.Data), nil
}

// CreateSnapshot takes a snapshot of volume. timeout bounds how long the
// server waits for the snapshot to sync before failing with ETIMEDOUT.
func (c *Client) CreateSnapshot(ctx context.Context, volume, snapshot string, timeout time.Duration) error {
	_, err := c.call(ctx, wire.OpCreateSnapshotReq, volume, snapshot, 0, 0, timeout.Milliseconds(), nil)
	return err
}

// DeleteSnapshot removes a snapshot. Fails with ENOTEMPTY if later
// snapshots or clones depend on it.
func (c *Client) DeleteSnapshot(ctx context.Context, volume, snapshot string) error {
	_, err := c.call(ctx, wire.OpDeleteSnapshotReq, volume, snapshot, 0, 0, 0, nil)
	return err
}

// RollbackSnapshot reverts volume to the state at snapshot, which must be
// the most recent snapshot.
func (c *Client) RollbackSnapshot(ctx context.Context, volume, snapshot string) error {
	_, err := c.call(ctx, wire.OpRollbackSnapshotReq, volume, snapshot, 0, 0, 0, nil)
	return err
}

// IsSnapshotSynced reports whether snapshot has finished syncing.
func (c *Client) IsSnapshotSynced(ctx context.Context, volume, snapshot string) (bool, error) {
	res, err := c.call(ctx, wire.OpIsSnapshotSyncedReq, volume, snapshot, 0, 0, 0, nil)
	if err != nil {
		return false, err
	}
	return res.Header.Retval != 0, nil
}

// Completion is the future returned by the AIO methods: the Go
// re-expression of spec §6's opaque completion handle plus callback.
type Completion struct {
	done chan struct{}
	res  clientcore.Result
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Wait blocks until the completion resolves or ctx is cancelled.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitChan returns a channel closed once the completion has resolved, for
// callers that want to multiplex several completions in a select.
func (c *Completion) WaitChan() <-chan struct{} {
	return c.done
}

// Result returns the resolved reply and error. Only valid after Wait (or
// WaitChan) has observed completion; calling it earlier races with
// resolution.
func (c *Completion) Result() (clientcore.Result, error) {
	return c.res, c.err
}

// aioSubmit issues op asynchronously: the submission itself runs on its
// own goroutine (so the caller's own goroutine is never blocked), and
// resolving the Completion is posted onto the shared completion.Pool when
// one is configured, so a slow caller-side observer of many completions
// cannot stall the connection's read loop (spec §4.8). respBuf, when
// non-nil, is passed through to SubmitInto so an AIORead backed by an
// AllocateBuffer-ed Buffer reads its reply directly into it instead of a
// fresh allocation.
func (c *Client) aioSubmit(ctx context.Context, op wire.Opcode, volume, snapshot string, size, offset uint64, timeoutMillis int64, data, respBuf []byte) *Completion {
	comp := newCompletion()
	go func() {
		res, err := c.sub.SubmitInto(ctx, op, volume, snapshot, size, offset, timeoutMillis, data, respBuf)
		if err == nil && res.Header.Errval != int32(wire.EOK) {
			err = &ProtocolError{Op: op, Errno: wire.Errno(res.Header.Errval)}
		}
		resolve := func() {
			comp.res, comp.err = res, err
			close(comp.done)
		}
		if c.pool != nil && c.pool.Post(resolve) {
			return
		}
		resolve()
	}()
	return comp
}

// AIORead issues an asynchronous read of size bytes at offset from the
// currently open volume. The read bytes are available via the resolved
// Completion's Result().Data.
func (c *Client) AIORead(ctx context.Context, volume string, size, offset uint64, timeoutMillis int64) *Completion {
	return c.aioSubmit(ctx, wire.OpReadReq, volume, "", size, offset, timeoutMillis, nil, nil)
}

// AIOReadBuffer is AIORead's zero-copy counterpart: the reply's data
// iovec is read directly into buf (normally one returned by
// AllocateBuffer) instead of a fresh per-call allocation. buf must be
// able to hold size bytes.
func (c *Client) AIOReadBuffer(ctx context.Context, volume string, buf *Buffer, size, offset uint64, timeoutMillis int64) *Completion {
	return c.aioSubmit(ctx, wire.OpReadReq, volume, "", size, offset, timeoutMillis, nil, buf.Data())
}

// AIOWrite issues an asynchronous write of data at offset to the
// currently open volume.
func (c *Client) AIOWrite(ctx context.Context, volume string, data []byte, offset uint64, timeoutMillis int64) *Completion {
	return c.aioSubmit(ctx, wire.OpWriteReq, volume, "", uint64(len(data)), offset, timeoutMillis, data, nil)
}

// AIOWriteBuffer writes buf's contents (sized to the caller's last use of
// it, via n) at offset to the currently open volume — the buffer_data
// counterpart for a caller that filled a registered Buffer directly
// rather than building a fresh []byte per write.
func (c *Client) AIOWriteBuffer(ctx context.Context, volume string, buf *Buffer, n int, offset uint64, timeoutMillis int64) *Completion {
	data := buf.Data()
	if n >= 0 && n <= len(data) {
		data = data[:n]
	}
	return c.aioSubmit(ctx, wire.OpWriteReq, volume, "", uint64(len(data)), offset, timeoutMillis, data, nil)
}

// AIOFlush issues an asynchronous flush of the currently open volume.
func (c *Client) AIOFlush(ctx context.Context, volume string, timeoutMillis int64) *Completion {
	return c.aioSubmit(ctx, wire.OpFlushReq, volume, "", 0, 0, timeoutMillis, nil, nil)
}
