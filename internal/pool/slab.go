package pool

import "sync"

// Slab holds one size class of the memory pool: block_size, min_blocks
// (eager), max_blocks (cap), growth_quantum, and a designated minimum
// region that is never reclaimed (spec §3/§4.2).
//
// Concurrency: one mutex per slab stands in for the spec's "one spinlock
// per slab" — Go's runtime-parked sync.Mutex is the idiomatic equivalent
// here; a hand-rolled spin loop would fight the Go scheduler instead of
// cooperating with it, and the teacher corpus never rolls its own spin
// primitive either.
type Slab struct {
	BlockSize      uint64
	MinBlocks      uint64
	MaxBlocks      uint64
	GrowthQuantum  uint64

	mu             sync.Mutex
	regionOrder    []uint64 // definition order, oldest first
	regions        map[uint64]*Region
	nextRegionID   uint64
	minimumRegion  uint64
	totalBlocks    uint64
}

// NewSlab creates a slab and eagerly grows it to minBlocks (spec: "min
// eager"), designating the first region as the never-reclaimed minimum
// region.
func NewSlab(blockSize, minBlocks, maxBlocks, quantum uint64) *Slab {
	if maxBlocks < minBlocks {
		maxBlocks = minBlocks
	}
	s := &Slab{
		BlockSize:     blockSize,
		MinBlocks:     minBlocks,
		MaxBlocks:     maxBlocks,
		GrowthQuantum: quantum,
		regions:       make(map[uint64]*Region),
	}
	if minBlocks > 0 {
		id := s.addRegionLocked(minBlocks)
		s.minimumRegion = id
	}
	return s
}

// addRegionLocked must be called with mu held.
func (s *Slab) addRegionLocked(numBlocks uint64) uint64 {
	id := s.nextRegionID
	s.nextRegionID++
	r := newRegion(id, s.BlockSize, numBlocks)
	s.regions[id] = r
	s.regionOrder = append(s.regionOrder, id)
	s.totalBlocks += numBlocks
	return id
}

// alloc returns a block from this slab, growing by GrowthQuantum (bounded
// by MaxBlocks) if every existing region is exhausted. Returns (nil,
// false) if growth is impossible — the caller falls back to a heap
// allocation (spec §4.2).
func (s *Slab) alloc() (*MemBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.regionOrder {
		if blk, ok := s.regions[id].allocBlock(s); ok {
			return blk, true
		}
	}

	if s.totalBlocks >= s.MaxBlocks {
		return nil, false
	}
	grow := s.GrowthQuantum
	if s.totalBlocks+grow > s.MaxBlocks {
		grow = s.MaxBlocks - s.totalBlocks
	}
	if grow == 0 {
		return nil, false
	}
	id := s.addRegionLocked(grow)
	return s.regions[id].allocBlock(s)
}

// free returns blk to its region's free list.
func (s *Slab) free(blk *MemBlock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blk.region.freeBlock(blk.index)
}

// reclaimOne frees at most one idle, non-minimum region if the slab holds
// more than MinBlocks total. The region's block list is detached from the
// slab under the lock and only actually dropped (left for GC) after the
// lock is released, matching spec §4.2's "freed outside the slab lock"
// rationale even though Go's GC — not an explicit destructor — does the
// final deallocation.
func (s *Slab) reclaimOne() (reclaimed bool, freedBlocks uint64) {
	s.mu.Lock()
	if s.totalBlocks <= s.MinBlocks {
		s.mu.Unlock()
		return false, 0
	}

	var victimIdx = -1
	var victimID uint64
	for i, id := range s.regionOrder {
		if id == s.minimumRegion {
			continue
		}
		r := s.regions[id]
		if r.refcount == 0 {
			victimIdx = i
			victimID = id
			break
		}
	}
	if victimIdx < 0 {
		s.mu.Unlock()
		return false, 0
	}

	victim := s.regions[victimID]
	delete(s.regions, victimID)
	s.regionOrder = append(s.regionOrder[:victimIdx], s.regionOrder[victimIdx+1:]...)
	s.totalBlocks -= victim.numBlocks
	s.mu.Unlock()

	// victim is now unreachable from the slab; its backing array is
	// reclaimed by the garbage collector once this function returns.
	return true, victim.numBlocks
}

// Stats reports the slab's current accounting, used by the admin package
// and by tests asserting the invariants of spec §8.
type Stats struct {
	BlockSize uint64
	Regions   int
	Total     uint64
	Used      uint64
	Free      uint64
}

func (s *Slab) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var used, free uint64
	for _, id := range s.regionOrder {
		r := s.regions[id]
		used += uint64(r.usedBlocks())
		free += uint64(r.freeBlocks())
	}
	return Stats{
		BlockSize: s.BlockSize,
		Regions:   len(s.regionOrder),
		Total:     s.totalBlocks,
		Used:      used,
		Free:      free,
	}
}
