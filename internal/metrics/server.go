package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServerMetrics reports request counts by opcode, connection counts, and
// work-queue depth. A nil *ServerMetrics is valid; every method is a
// no-op on it.
type ServerMetrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	connectionsOpen  prometheus.Gauge
	workQueueDepth   prometheus.Gauge
	openSessions     prometheus.Gauge
}

func NewServerMetrics() *ServerMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &ServerMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "xiovolumed_server_requests_total",
			Help: "Requests handled, by opcode and result.",
		}, []string{"opcode", "errval"}),
		requestDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "xiovolumed_server_request_duration_milliseconds",
			Help:    "Request handling latency in milliseconds, by opcode.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000},
		}, []string{"opcode"}),
		connectionsOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "xiovolumed_server_connections_open",
			Help: "Currently established connections.",
		}),
		workQueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "xiovolumed_server_workqueue_depth",
			Help: "Items currently pending in the work queue.",
		}),
		openSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "xiovolumed_server_open_sessions",
			Help: "Currently open I/O handler sessions.",
		}),
	}
}

func (m *ServerMetrics) ObserveRequest(opcode string, errval int32, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.With(prometheus.Labels{"opcode": opcode, "errval": intLabel(int64(errval))}).Inc()
	m.requestDuration.With(prometheus.Labels{"opcode": opcode}).Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *ServerMetrics) SetConnectionsOpen(n int) {
	if m == nil {
		return
	}
	m.connectionsOpen.Set(float64(n))
}

func (m *ServerMetrics) SetWorkQueueDepth(n int) {
	if m == nil {
		return
	}
	m.workQueueDepth.Set(float64(n))
}

func (m *ServerMetrics) SetOpenSessions(n int64) {
	if m == nil {
		return
	}
	m.openSessions.Set(float64(n))
}
