// Package metrics implements the "nil disables, zero overhead" interface
// pattern the teacher uses for its cache/NFS/S3 metrics
// (pkg/metrics/{cache,nfs,s3}.go): every metrics interface here can be
// passed as nil by a caller that does not want metrics, and every
// recording call on this package's types nil-checks the receiver so a nil
// interface value costs nothing beyond the check.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.Mutex
	registry *prometheus.Registry
	enabled  bool
)

// InitRegistry creates the process-wide Prometheus registry metrics are
// registered against. Must be called once, before any NewXMetrics call,
// for metrics to be enabled; if never called IsEnabled reports false and
// every NewXMetrics constructor returns nil.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
		enabled = true
	}
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return enabled
}

// GetRegistry returns the process-wide registry, or nil if metrics were
// never enabled.
func GetRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	return registry
}

// intLabel formats an integer as a Prometheus label value.
func intLabel(v int64) string { return strconv.FormatInt(v, 10) }
