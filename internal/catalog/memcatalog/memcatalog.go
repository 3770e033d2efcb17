// Package memcatalog is a map+mutex Catalog used by tests and the default
// dev server.
package memcatalog

import (
	"context"
	"sync"

	"github.com/openvstorage/xiovolumed/internal/catalog"
)

type record struct {
	size      uint64
	snapOrder []string
	snapSet   map[string]struct{}
}

type Catalog struct {
	mu      sync.RWMutex
	volumes map[string]*record
}

func New() *Catalog {
	return &Catalog{volumes: make(map[string]*record)}
}

func (c *Catalog) Register(_ context.Context, name string, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.volumes[name]; ok {
		return catalog.ErrAlreadyExists(name)
	}
	c.volumes[name] = &record{size: size, snapSet: make(map[string]struct{})}
	return nil
}

func (c *Catalog) Unregister(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.volumes[name]; !ok {
		return catalog.ErrNotFound(name)
	}
	delete(c.volumes, name)
	return nil
}

func (c *Catalog) Resize(_ context.Context, name string, size uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.volumes[name]
	if !ok {
		return catalog.ErrNotFound(name)
	}
	r.size = size
	return nil
}

func (c *Catalog) Get(_ context.Context, name string) (catalog.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.volumes[name]
	if !ok {
		return catalog.Entry{}, catalog.ErrNotFound(name)
	}
	return catalog.Entry{Name: name, Size: r.size}, nil
}

func (c *Catalog) List(_ context.Context) ([]catalog.Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.Entry, 0, len(c.volumes))
	for name, r := range c.volumes {
		out = append(out, catalog.Entry{Name: name, Size: r.size})
	}
	return out, nil
}

func (c *Catalog) AddSnapshot(_ context.Context, volume, snap string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.volumes[volume]
	if !ok {
		return catalog.ErrNotFound(volume)
	}
	if _, exists := r.snapSet[snap]; exists {
		return catalog.ErrAlreadyExists(snap)
	}
	r.snapSet[snap] = struct{}{}
	r.snapOrder = append(r.snapOrder, snap)
	return nil
}

func (c *Catalog) RemoveSnapshot(_ context.Context, volume, snap string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.volumes[volume]
	if !ok {
		return false, catalog.ErrNotFound(volume)
	}
	idx := -1
	for i, s := range r.snapOrder {
		if s == snap {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, catalog.ErrNotFound(snap)
	}
	if idx != len(r.snapOrder)-1 {
		return true, catalog.ErrHasChildren(snap)
	}
	delete(r.snapSet, snap)
	r.snapOrder = r.snapOrder[:idx]
	return false, nil
}

func (c *Catalog) Snapshots(_ context.Context, volume string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.volumes[volume]
	if !ok {
		return nil, catalog.ErrNotFound(volume)
	}
	out := make([]string, len(r.snapOrder))
	copy(out, r.snapOrder)
	return out, nil
}
