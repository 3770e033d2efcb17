package pool

// MemBlock is one fixed-size subrange of a Region (spec §3). It carries
// back-references to its owning region and slab so Free can locate the
// right free list without the caller having to track that bookkeeping.
type MemBlock struct {
	// Data is the block's backing bytes, length == slab block size. A
	// caller that needs fewer bytes should slice Data itself;
	// Free/Put always operates on the whole block.
	Data []byte

	// Pooled is false for the heap-allocated fallback a caller receives
	// when every suitable slab class is exhausted and growth failed
	// (spec §4.2). Such a block is freed by the generic deallocator
	// (Go's GC, via Free being a no-op) rather than returned to a slab.
	Pooled bool

	region *Region
	slab   *Slab
	index  uint64
}

// Len reports the block's usable size in bytes.
func (b *MemBlock) Len() int { return len(b.Data) }
