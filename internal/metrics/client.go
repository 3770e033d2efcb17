package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClientMetrics reports submission latency, in-flight request counts and
// HA reconnect counts. A nil *ClientMetrics is valid.
type ClientMetrics struct {
	submitDuration  prometheus.Histogram
	inFlight        prometheus.Gauge
	queueBusyTotal  prometheus.Counter
	reconnectsTotal prometheus.Counter
}

func NewClientMetrics() *ClientMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := GetRegistry()
	return &ClientMetrics{
		submitDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "xiovolumed_client_submit_duration_milliseconds",
			Help:    "Time from submission to reply or failure, including back-pressure wait.",
			Buckets: []float64{0.1, 1, 5, 10, 50, 100, 500, 1000, 5000, 30000, 60000},
		}),
		inFlight: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "xiovolumed_client_inflight_requests",
			Help: "Requests submitted but not yet completed.",
		}),
		queueBusyTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "xiovolumed_client_queue_busy_total",
			Help: "Submissions that failed with QueueBusy.",
		}),
		reconnectsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "xiovolumed_client_reconnects_total",
			Help: "HA client core swaps due to connection failure.",
		}),
	}
}

func (m *ClientMetrics) ObserveSubmit(d time.Duration) {
	if m == nil {
		return
	}
	m.submitDuration.Observe(float64(d.Microseconds()) / 1000.0)
}

func (m *ClientMetrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

func (m *ClientMetrics) IncQueueBusy() {
	if m == nil {
		return
	}
	m.queueBusyTotal.Inc()
}

func (m *ClientMetrics) IncReconnect() {
	if m == nil {
		return
	}
	m.reconnectsTotal.Inc()
}
