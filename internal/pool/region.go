package pool

import "fmt"

// Region is a single contiguous allocation of pinned memory of size
// block_size * n_blocks (spec §3). In the reference C++ implementation
// this was xio-registered memory; here it is a plain Go byte slice — Go
// has no user-space pinning primitive, and the network transport
// substrate (internal/transport) treats any []byte the same way, so a
// slice stands in for the registered-memory region without loss of the
// semantics this package is responsible for (size-classed allocation,
// refcounting, reclamation).
type Region struct {
	id        uint64
	blockSize uint64
	numBlocks uint64
	backing   []byte

	// refcount counts blocks currently checked out of this region. A
	// region is reclaimable iff refcount == 0 and it is not the slab's
	// designated minimum region (spec §3 invariant).
	refcount uint64

	// freeList holds indices (0..numBlocks-1) of blocks not checked out,
	// used as a stack (LIFO) for O(1) alloc/free.
	freeList []uint64
}

func newRegion(id, blockSize, numBlocks uint64) *Region {
	r := &Region{
		id:        id,
		blockSize: blockSize,
		numBlocks: numBlocks,
		backing:   make([]byte, blockSize*numBlocks),
		freeList:  make([]uint64, numBlocks),
	}
	for i := uint64(0); i < numBlocks; i++ {
		r.freeList[i] = i
	}
	return r
}

// allocBlock pops a free index and returns a MemBlock view over it, or
// false if the region has no free blocks left.
func (r *Region) allocBlock(slab *Slab) (*MemBlock, bool) {
	n := len(r.freeList)
	if n == 0 {
		return nil, false
	}
	idx := r.freeList[n-1]
	r.freeList = r.freeList[:n-1]
	r.refcount++

	start := idx * r.blockSize
	return &MemBlock{
		Data:   r.backing[start : start+r.blockSize],
		region: r,
		slab:   slab,
		index:  idx,
		Pooled: true,
	}, true
}

// freeBlock returns idx to the region's free list and decrements refcount.
func (r *Region) freeBlock(idx uint64) {
	if r.refcount == 0 {
		panic(fmt.Sprintf("pool: region %d refcount underflow", r.id))
	}
	r.refcount--
	r.freeList = append(r.freeList, idx)
}

func (r *Region) freeBlocks() int { return len(r.freeList) }
func (r *Region) usedBlocks() int { return int(r.numBlocks) - len(r.freeList) }
