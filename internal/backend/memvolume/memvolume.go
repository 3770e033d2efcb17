// Package memvolume is an in-memory reference VolumeBackend used by unit
// tests and the default dev server. It makes no durability claim — data
// storage durability is explicitly out of scope (non-goal).
package memvolume

import (
	"context"
	"sync"
	"time"

	"github.com/openvstorage/xiovolumed/internal/backend"
)

type volume struct {
	mu        sync.RWMutex
	data      []byte
	snapshots map[string][]byte
	snapOrder []string
}

// Backend is a map-of-volumes backend guarded by a single mutex. Good
// enough for tests and local development; never for production scale.
type Backend struct {
	mu      sync.RWMutex
	volumes map[string]*volume
}

func New() *Backend {
	return &Backend{volumes: make(map[string]*volume)}
}

func (b *Backend) Create(_ context.Context, name string, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.volumes[name]; ok {
		return backend.ErrAlreadyExists(name)
	}
	b.volumes[name] = &volume{
		data:      make([]byte, size),
		snapshots: make(map[string][]byte),
	}
	return nil
}

func (b *Backend) Remove(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.volumes[name]; !ok {
		return backend.ErrNotFound(name)
	}
	delete(b.volumes, name)
	return nil
}

func (b *Backend) Truncate(_ context.Context, name string, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.volumes[name]
	if !ok {
		return backend.ErrNotFound(name)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if uint64(len(v.data)) == size {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, v.data)
	v.data = grown
	return nil
}

func (b *Backend) Stat(_ context.Context, name string) (uint64, error) {
	b.mu.RLock()
	v, ok := b.volumes[name]
	b.mu.RUnlock()
	if !ok {
		return 0, backend.ErrNotFound(name)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint64(len(v.data)), nil
}

func (b *Backend) List(_ context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.volumes))
	for name := range b.volumes {
		names = append(names, name)
	}
	return names, nil
}

func (b *Backend) Open(_ context.Context, name string) (backend.VolumeHandle, error) {
	b.mu.RLock()
	v, ok := b.volumes[name]
	b.mu.RUnlock()
	if !ok {
		return nil, backend.ErrNotFound(name)
	}
	return &handle{name: name, v: v}, nil
}

func (b *Backend) CreateSnapshot(_ context.Context, volName, snap string, _ time.Duration) error {
	b.mu.RLock()
	v, ok := b.volumes[volName]
	b.mu.RUnlock()
	if !ok {
		return backend.ErrNotFound(volName)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, exists := v.snapshots[snap]; exists {
		return backend.ErrAlreadyExists(snap)
	}
	frozen := make([]byte, len(v.data))
	copy(frozen, v.data)
	v.snapshots[snap] = frozen
	v.snapOrder = append(v.snapOrder, snap)
	return nil
}

func (b *Backend) DeleteSnapshot(_ context.Context, volName, snap string) error {
	b.mu.RLock()
	v, ok := b.volumes[volName]
	b.mu.RUnlock()
	if !ok {
		return backend.ErrNotFound(volName)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := indexOf(v.snapOrder, snap)
	if idx < 0 {
		return backend.ErrNotFound(snap)
	}
	// Only the newest snapshot may be deleted without leaving orphaned
	// children (mirrors the spec's "has-children" rejection).
	if idx != len(v.snapOrder)-1 {
		return errHasChildren{snap}
	}
	delete(v.snapshots, snap)
	v.snapOrder = v.snapOrder[:idx]
	return nil
}

func (b *Backend) RollbackSnapshot(_ context.Context, volName, snap string) error {
	b.mu.RLock()
	v, ok := b.volumes[volName]
	b.mu.RUnlock()
	if !ok {
		return backend.ErrNotFound(volName)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	idx := indexOf(v.snapOrder, snap)
	if idx < 0 {
		return backend.ErrNotFound(snap)
	}
	if idx != len(v.snapOrder)-1 {
		return errHasChildren{snap}
	}
	frozen := v.snapshots[snap]
	v.data = make([]byte, len(frozen))
	copy(v.data, frozen)
	return nil
}

func (b *Backend) ListSnapshots(_ context.Context, volName string) ([]string, error) {
	b.mu.RLock()
	v, ok := b.volumes[volName]
	b.mu.RUnlock()
	if !ok {
		return nil, backend.ErrNotFound(volName)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]string, len(v.snapOrder))
	copy(out, v.snapOrder)
	return out, nil
}

func (b *Backend) IsSnapshotSynced(_ context.Context, volName, snap string) (bool, error) {
	b.mu.RLock()
	v, ok := b.volumes[volName]
	b.mu.RUnlock()
	if !ok {
		return false, backend.ErrNotFound(volName)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, exists := v.snapshots[snap]
	if !exists {
		return false, backend.ErrNotFound(snap)
	}
	return true, nil
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}

type errHasChildren struct{ name string }

func (e errHasChildren) Error() string { return "memvolume: snapshot has children: " + e.name }

func IsHasChildren(err error) bool {
	_, ok := err.(errHasChildren)
	return ok
}

type handle struct {
	name string
	v    *volume
}

func (h *handle) Name() string { return h.name }

func (h *handle) ReadAt(_ context.Context, buf []byte, offset uint64) (int, error) {
	h.v.mu.RLock()
	defer h.v.mu.RUnlock()
	if offset >= uint64(len(h.v.data)) {
		return 0, nil
	}
	n := copy(buf, h.v.data[offset:])
	return n, nil
}

func (h *handle) WriteAt(_ context.Context, buf []byte, offset uint64) (int, error) {
	h.v.mu.Lock()
	defer h.v.mu.Unlock()
	end := offset + uint64(len(buf))
	if end > uint64(len(h.v.data)) {
		grown := make([]byte, end)
		copy(grown, h.v.data)
		h.v.data = grown
	}
	n := copy(h.v.data[offset:end], buf)
	return n, nil
}

func (h *handle) Flush(_ context.Context) error { return nil }

func (h *handle) Close() error { return nil }
