package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	p, err := New([]SlabConfig{
		{BlockSize: 4096, MinBlocks: 2, MaxBlocks: 4, GrowthQuantum: 2},
		{BlockSize: 16384, MinBlocks: 1, MaxBlocks: 2, GrowthQuantum: 1},
	}, 0)
	require.NoError(t, err)
	return p
}

func TestNewEagerlyAllocatesMinimumRegion(t *testing.T) {
	p := newTestPool(t)
	stats := p.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, uint64(4096), stats[0].BlockSize)
	assert.EqualValues(t, 2, stats[0].Total)
	assert.EqualValues(t, 0, stats[0].Used)
	assert.EqualValues(t, 1, stats[1].Regions)
}

func TestAllocPicksSmallestSuitableClass(t *testing.T) {
	p := newTestPool(t)
	blk := p.Alloc(1024)
	require.True(t, blk.Pooled)
	assert.Equal(t, 4096, blk.Len())
}

func TestAllocFallsThroughToLargerClass(t *testing.T) {
	p := newTestPool(t)
	blk := p.Alloc(8000)
	require.True(t, blk.Pooled)
	assert.Equal(t, 16384, blk.Len())
}

func TestFreeReturnsBlockToSlab(t *testing.T) {
	p := newTestPool(t)
	blk := p.Alloc(4096)
	assert.EqualValues(t, 1, p.Stats()[0].Used)
	p.Free(blk)
	assert.EqualValues(t, 0, p.Stats()[0].Used)
}

func TestAllocGrowsSlabWhenExhausted(t *testing.T) {
	p := newTestPool(t)
	a := p.Alloc(4096)
	b := p.Alloc(4096)
	require.True(t, a.Pooled)
	require.True(t, b.Pooled)

	stats := p.Stats()
	assert.EqualValues(t, 2, stats[0].Total)
	assert.EqualValues(t, 2, stats[0].Used)

	c := p.Alloc(4096)
	require.True(t, c.Pooled, "slab should grow by its quantum instead of falling back")
	stats = p.Stats()
	assert.EqualValues(t, 4, stats[0].Total)
	assert.EqualValues(t, 3, stats[0].Used)
}

// TestPoolExhaustionFallsBackToHeap models spec §8's scenario: a 4 KiB
// slab capped at max=4 blocks serving 5 concurrent requests. The fifth
// must fall back to a non-pooled heap allocation rather than blocking or
// failing.
func TestPoolExhaustionFallsBackToHeap(t *testing.T) {
	p, err := New([]SlabConfig{
		{BlockSize: 4096, MinBlocks: 2, MaxBlocks: 4, GrowthQuantum: 2},
	}, 0)
	require.NoError(t, err)

	var mu sync.Mutex
	var pooledCount, fallbackCount int
	var wg sync.WaitGroup
	blocks := make([]*MemBlock, 5)

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			blk := p.Alloc(4096)
			mu.Lock()
			blocks[i] = blk
			if blk.Pooled {
				pooledCount++
			} else {
				fallbackCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, pooledCount)
	assert.Equal(t, 1, fallbackCount)

	for _, blk := range blocks {
		p.Free(blk)
	}
	stats := p.Stats()
	assert.EqualValues(t, 4, stats[0].Total)
	assert.EqualValues(t, 0, stats[0].Used)
}

func TestReclaimNeverTouchesMinimumRegion(t *testing.T) {
	p := newTestPool(t)
	a := p.Alloc(4096)
	b := p.Alloc(4096)
	c := p.Alloc(4096) // grows the slab to 4 total blocks, 2 regions
	require.True(t, a.Pooled && b.Pooled && c.Pooled)

	p.Free(a)
	p.Free(b)
	p.Free(c)

	s := p.slabs[0]
	freed, n := s.reclaimOne()
	assert.True(t, freed)
	assert.EqualValues(t, 2, n)

	stats := p.Stats()
	assert.EqualValues(t, 2, stats[0].Total, "minimum region must survive reclamation")
	assert.EqualValues(t, 1, stats[0].Regions)

	freed, _ = s.reclaimOne()
	assert.False(t, freed, "reclaim must stop once the slab is back down to MinBlocks")
}

func TestReclaimSkipsRegionsStillInUse(t *testing.T) {
	p := newTestPool(t)
	a := p.Alloc(4096)
	_ = p.Alloc(4096)
	blk := p.Alloc(4096) // forces growth; new region holds this block
	require.True(t, blk.Pooled)

	s := p.slabs[0]
	freed, _ := s.reclaimOne()
	assert.False(t, freed, "the grown region is still referenced and must not be reclaimed")

	p.Free(a)
	p.Free(blk)
}

func TestStartReclaimerRunsPeriodically(t *testing.T) {
	p, err := New([]SlabConfig{
		{BlockSize: 4096, MinBlocks: 1, MaxBlocks: 4, GrowthQuantum: 1},
	}, 10*time.Millisecond)
	require.NoError(t, err)

	a := p.Alloc(4096)   // takes the minimum region's only block
	blk := p.Alloc(4096) // grows slab to 2 regions
	require.True(t, blk.Pooled)
	require.EqualValues(t, 2, p.Stats()[0].Regions)
	p.Free(a)
	p.Free(blk)

	ctx, cancel := context.WithCancel(context.Background())
	p.StartReclaimer(ctx)
	defer func() {
		cancel()
		p.Close()
	}()

	require.Eventually(t, func() bool {
		return p.Stats()[0].Regions == 1
	}, time.Second, 5*time.Millisecond)
}
