package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/openvstorage/xiovolumed/internal/pool"
)

// PoolMetrics reports per-slab block accounting. A nil *PoolMetrics is
// valid and every method is a no-op on it.
type PoolMetrics struct {
	blocksUsed  *prometheus.GaugeVec
	blocksFree  *prometheus.GaugeVec
	regions     *prometheus.GaugeVec
	reclaimedTotal *prometheus.CounterVec
}

// NewPoolMetrics returns nil if metrics are not enabled.
func NewPoolMetrics() *PoolMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &PoolMetrics{
		blocksUsed: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "xiovolumed_pool_blocks_used",
			Help: "Blocks currently checked out, per slab block size.",
		}, []string{"block_size"}),
		blocksFree: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "xiovolumed_pool_blocks_free",
			Help: "Blocks currently free, per slab block size.",
		}, []string{"block_size"}),
		regions: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "xiovolumed_pool_regions",
			Help: "Regions currently allocated, per slab block size.",
		}, []string{"block_size"}),
		reclaimedTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xiovolumed_pool_regions_reclaimed_total",
			Help: "Regions freed by the idle-region reclaimer, per slab block size.",
		}, []string{"block_size"}),
	}
}

// Observe records the current snapshot of a pool's per-slab stats.
func (m *PoolMetrics) Observe(stats []pool.Stats) {
	if m == nil {
		return
	}
	for _, s := range stats {
		label := prometheus.Labels{"block_size": blockSizeLabel(s.BlockSize)}
		m.blocksUsed.With(label).Set(float64(s.Used))
		m.blocksFree.With(label).Set(float64(s.Free))
		m.regions.With(label).Set(float64(s.Regions))
	}
}

// ReclaimedRegion increments the reclaim counter for one slab.
func (m *PoolMetrics) ReclaimedRegion(blockSize uint64) {
	if m == nil {
		return
	}
	m.reclaimedTotal.With(prometheus.Labels{"block_size": blockSizeLabel(blockSize)}).Inc()
}

func blockSizeLabel(blockSize uint64) string {
	return strconv.FormatUint(blockSize, 10)
}
