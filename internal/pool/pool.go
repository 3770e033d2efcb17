// Package pool implements the size-classed registered-memory allocator
// described in spec §3/§4.2: an ordered collection of Slabs, each holding
// Regions of fixed-size MemBlocks, with periodic idle-region reclamation.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/openvstorage/xiovolumed/internal/logger"
)

// SlabConfig describes one size class at construction time.
type SlabConfig struct {
	BlockSize     uint64
	MinBlocks     uint64
	MaxBlocks     uint64
	GrowthQuantum uint64
}

// Pool is the ordered collection of slabs a server or client uses for all
// registered-memory allocation. Slabs are sorted by BlockSize ascending;
// Alloc picks the smallest class whose BlockSize >= the requested size.
type Pool struct {
	slabs []*Slab

	reclaimInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	wg              sync.WaitGroup
}

// New builds a Pool from the given slab configs, eagerly allocating each
// slab's minimum region. Configs need not be pre-sorted.
func New(configs []SlabConfig, reclaimInterval time.Duration) (*Pool, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("pool: at least one slab class is required")
	}
	sorted := make([]SlabConfig, len(configs))
	copy(sorted, configs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockSize < sorted[j].BlockSize })

	p := &Pool{
		reclaimInterval: reclaimInterval,
		stopCh:          make(chan struct{}),
	}
	for _, c := range sorted {
		if c.BlockSize == 0 {
			return nil, fmt.Errorf("pool: block size must be > 0")
		}
		if c.MaxBlocks < c.MinBlocks {
			return nil, fmt.Errorf("pool: slab %d: max_blocks < min_blocks", c.BlockSize)
		}
		p.slabs = append(p.slabs, NewSlab(c.BlockSize, c.MinBlocks, c.MaxBlocks, c.GrowthQuantum))
	}
	return p, nil
}

// Alloc returns a block able to hold size bytes. It first tries the
// smallest slab class whose BlockSize >= size; if that class (and every
// larger class) is exhausted and cannot grow, it falls back to a
// heap-allocated, non-pooled block rather than failing the request (spec
// §4.2) — registered memory is an optimization, not a correctness
// requirement.
func (p *Pool) Alloc(size uint64) *MemBlock {
	for _, s := range p.slabs {
		if s.BlockSize < size {
			continue
		}
		if blk, ok := s.alloc(); ok {
			return blk
		}
	}
	return &MemBlock{Data: make([]byte, size), Pooled: false}
}

// Free returns blk to its owning slab, or discards it (letting Go's GC
// reclaim it) if it was a heap fallback.
func (p *Pool) Free(blk *MemBlock) {
	if blk == nil || !blk.Pooled {
		return
	}
	blk.slab.free(blk)
}

// Stats reports per-slab accounting, smallest block size first.
func (p *Pool) Stats() []Stats {
	out := make([]Stats, len(p.slabs))
	for i, s := range p.slabs {
		out[i] = s.stats()
	}
	return out
}

// StartReclaimer launches the background goroutine that periodically
// walks each slab once, freeing at most one idle non-minimum region per
// slab per tick (spec §4.2). Safe to call at most once per Pool.
func (p *Pool) StartReclaimer(ctx context.Context) {
	if p.reclaimInterval <= 0 {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(p.reclaimInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-t.C:
				p.reclaimTick()
			}
		}
	}()
}

func (p *Pool) reclaimTick() {
	for _, s := range p.slabs {
		if freed, n := s.reclaimOne(); freed {
			logger.Debug("pool: reclaimed idle region",
				logger.KeySlabBlockSize, s.BlockSize,
				"freed_blocks", n)
		}
	}
}

// Close stops the reclaimer goroutine, if running, and waits for it to
// exit. Idempotent.
func (p *Pool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}
