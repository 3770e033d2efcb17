// Package backend defines the narrow storage interface the I/O handler
// delegates byte-level volume operations to (spec §1's "back-end
// filesystem/router"), plus reference implementations. Naming and
// existence tracking live in internal/catalog — VolumeBackend is only
// responsible for bytes.
package backend

import (
	"context"
	"time"
)

// VolumeBackend stores and serves volume byte ranges. Implementations are
// not required to track names or sizes durably beyond what correctness of
// Open/ReadAt/WriteAt needs — that bookkeeping belongs to catalog.Catalog.
type VolumeBackend interface {
	Create(ctx context.Context, name string, size uint64) error
	Remove(ctx context.Context, name string) error
	Truncate(ctx context.Context, name string, size uint64) error
	Stat(ctx context.Context, name string) (size uint64, err error)
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, name string) (VolumeHandle, error)
}

// VolumeHandle is the per-session handle an iohandler keeps open for at
// most one volume at a time (spec §4.4).
type VolumeHandle interface {
	ReadAt(ctx context.Context, buf []byte, offset uint64) (int, error)
	WriteAt(ctx context.Context, buf []byte, offset uint64) (int, error)
	Flush(ctx context.Context) error
	Close() error
	Name() string
}

// SnapshotBackend manages point-in-time snapshots of a volume's data. A
// VolumeBackend that also supports snapshots implements this separately
// so backends without snapshot support (a pure-passthrough backend, say)
// aren't forced to stub it out.
type SnapshotBackend interface {
	CreateSnapshot(ctx context.Context, volume, snap string, timeout time.Duration) error
	DeleteSnapshot(ctx context.Context, volume, snap string) error
	RollbackSnapshot(ctx context.Context, volume, snap string) error
	ListSnapshots(ctx context.Context, volume string) ([]string, error)
	IsSnapshotSynced(ctx context.Context, volume, snap string) (bool, error)
}

// ErrNotFound and ErrAlreadyExists are the two sentinel conditions every
// backend implementation must distinguish; iohandler maps them onto
// wire.ENOENT / wire.EEXIST.
type notFoundError struct{ name string }

func (e *notFoundError) Error() string { return "backend: volume not found: " + e.name }

func ErrNotFound(name string) error { return &notFoundError{name} }

func IsNotFound(err error) bool {
	_, ok := err.(*notFoundError)
	return ok
}

type alreadyExistsError struct{ name string }

func (e *alreadyExistsError) Error() string { return "backend: volume already exists: " + e.name }

func ErrAlreadyExists(name string) error { return &alreadyExistsError{name} }

func IsAlreadyExists(err error) bool {
	_, ok := err.(*alreadyExistsError)
	return ok
}
