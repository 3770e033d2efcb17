package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openvstorage/xiovolumed/internal/pool"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var pm *PoolMetrics
	var sm *ServerMetrics
	var cm *ClientMetrics

	assert.NotPanics(t, func() {
		pm.Observe(nil)
		pm.ReclaimedRegion(4096)
		sm.ObserveRequest("Read", 0, time.Millisecond)
		sm.SetConnectionsOpen(1)
		sm.SetWorkQueueDepth(1)
		sm.SetOpenSessions(1)
		cm.ObserveSubmit(time.Millisecond)
		cm.SetInFlight(1)
		cm.IncQueueBusy()
		cm.IncReconnect()
	})
}

func TestDisabledConstructorsReturnNil(t *testing.T) {
	assert.Nil(t, NewPoolMetrics())
	assert.Nil(t, NewServerMetrics())
	assert.Nil(t, NewClientMetrics())
}

func TestEnabledConstructorsBuildInstruments(t *testing.T) {
	InitRegistry()
	pm := NewPoolMetrics()
	assert.NotNil(t, pm)
	pm.Observe([]pool.Stats{{BlockSize: 4096, Total: 4, Used: 1, Free: 3, Regions: 1}})
	pm.ReclaimedRegion(4096)
}
