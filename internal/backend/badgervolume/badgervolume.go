// Package badgervolume is a dgraph-io/badger/v4-backed VolumeBackend. It
// stands in for the "upstream filesystem/router" spec §1 deliberately
// leaves out of scope: a reference implementation that gives the pool,
// work queue, and I/O handler something real to exercise end to end, not
// a durability-guaranteed product (data storage durability is an
// explicit non-goal).
package badgervolume

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/openvstorage/xiovolumed/internal/backend"
	"github.com/openvstorage/xiovolumed/internal/logger"
)

// Backend wraps a single badger.DB. Keys are namespaced by prefix:
// "v/<name>" holds the full volume byte blob, "s/<name>/<snap>" holds a
// frozen copy taken at snapshot time.
type Backend struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database at dir.
func Open(dir string) (*Backend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgervolume: open %s: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Close() error { return b.db.Close() }

func volKey(name string) []byte           { return []byte("v/" + name) }
func snapKey(name, snap string) []byte    { return []byte("s/" + name + "/" + snap) }
func snapPrefix(name string) []byte       { return []byte("s/" + name + "/") }

func (b *Backend) Create(_ context.Context, name string, size uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(volKey(name)); err == nil {
			return backend.ErrAlreadyExists(name)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(volKey(name), make([]byte, size))
	})
}

func (b *Backend) Remove(_ context.Context, name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(volKey(name)); err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(name)
		} else if err != nil {
			return err
		}
		if err := txn.Delete(volKey(name)); err != nil {
			return err
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := snapPrefix(name)
		var toDelete [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			toDelete = append(toDelete, it.Item().KeyCopy(nil))
		}
		for _, k := range toDelete {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) Truncate(_ context.Context, name string, size uint64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(volKey(name))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(name)
		} else if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if uint64(len(cur)) == size {
			return nil
		}
		grown := make([]byte, size)
		copy(grown, cur)
		return txn.Set(volKey(name), grown)
	})
}

func (b *Backend) Stat(_ context.Context, name string) (uint64, error) {
	var size uint64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(volKey(name))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(name)
		} else if err != nil {
			return err
		}
		size = uint64(item.ValueSize())
		return nil
	})
	return size, err
}

func (b *Backend) List(_ context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte("v/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			names = append(names, string(key[len(prefix):]))
		}
		return nil
	})
	return names, err
}

func (b *Backend) Open(ctx context.Context, name string) (backend.VolumeHandle, error) {
	if _, err := b.Stat(ctx, name); err != nil {
		return nil, err
	}
	return &handle{name: name, b: b}, nil
}

// CreateSnapshot stores a full copy of the volume's current bytes under
// the snapshot's own key. timeout is accepted for signature parity with spec §4.4's
// sync-timeout error mapping but is unused here — badger commits are
// synchronous, so there is nothing to wait on.
func (b *Backend) CreateSnapshot(_ context.Context, volName, snap string, timeout time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(volKey(volName))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(volName)
		} else if err != nil {
			return err
		}
		if _, err := txn.Get(snapKey(volName, snap)); err == nil {
			return backend.ErrAlreadyExists(snap)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Set(snapKey(volName, snap), data)
	})
}

func (b *Backend) DeleteSnapshot(_ context.Context, volName, snap string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(snapKey(volName, snap)); err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(snap)
		} else if err != nil {
			return err
		}
		return txn.Delete(snapKey(volName, snap))
	})
}

func (b *Backend) RollbackSnapshot(_ context.Context, volName, snap string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(snapKey(volName, snap))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(snap)
		} else if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Set(volKey(volName), data)
	})
}

func (b *Backend) ListSnapshots(_ context.Context, volName string) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(volKey(volName)); err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(volName)
		} else if err != nil {
			return err
		}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := snapPrefix(volName)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			names = append(names, string(key[len(prefix):]))
		}
		return nil
	})
	return names, err
}

func (b *Backend) IsSnapshotSynced(_ context.Context, volName, snap string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(snapKey(volName, snap))
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, backend.ErrNotFound(snap)
	}
	if err != nil {
		return false, err
	}
	// badger commits synchronously by the time Update returns, so a
	// snapshot that exists is always fully synced in this reference
	// implementation.
	return true, nil
}

type handle struct {
	name string
	b    *Backend
}

func (h *handle) Name() string { return h.name }

func (h *handle) ReadAt(_ context.Context, buf []byte, offset uint64) (int, error) {
	var n int
	err := h.b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(volKey(h.name))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(h.name)
		} else if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if offset >= uint64(len(val)) {
				n = 0
				return nil
			}
			n = copy(buf, val[offset:])
			return nil
		})
	})
	return n, err
}

func (h *handle) WriteAt(_ context.Context, buf []byte, offset uint64) (int, error) {
	var n int
	err := h.b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(volKey(h.name))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound(h.name)
		} else if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		end := offset + uint64(len(buf))
		if end > uint64(len(cur)) {
			grown := make([]byte, end)
			copy(grown, cur)
			cur = grown
		}
		n = copy(cur[offset:end], buf)
		return txn.Set(volKey(h.name), cur)
	})
	return n, err
}

func (h *handle) Flush(_ context.Context) error {
	return h.b.db.Sync()
}

func (h *handle) Close() error {
	logger.Debug("badgervolume: handle closed", logger.KeyVolume, h.name)
	return nil
}
