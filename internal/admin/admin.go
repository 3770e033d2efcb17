// Package admin exposes the HTTP introspection surface of SPEC_FULL.md
// §3.3: liveness, Prometheus exposition, and debug endpoints for the pool
// and work queue. This is purely an operational concern — no volume data
// crosses this port, consistent with the protocol's non-goals.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openvstorage/xiovolumed/internal/pool"
)

// WorkQueueStats is the subset of workqueue.Queue's state the /debug/inflight
// endpoint reports, kept as a narrow struct so this package does not need
// to import internal/workqueue directly.
type WorkQueueStats struct {
	Depth    int   `json:"depth"`
	Sessions int64 `json:"open_sessions"`
}

// Sources supplies the live state the debug endpoints read. nil funcs are
// treated as "not available" and return an empty result rather than
// panicking, so admin can be wired up before every component exists.
type Sources struct {
	PoolStats      func() []pool.Stats
	WorkQueueStats func() WorkQueueStats
}

// NewRouter builds the chi mux. registry may be nil to disable /metrics
// (matching the teacher's "nil disables" convention carried through to
// the HTTP surface).
func NewRouter(src Sources, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	r.Get("/debug/pool", func(w http.ResponseWriter, _ *http.Request) {
		var stats []pool.Stats
		if src.PoolStats != nil {
			stats = src.PoolStats()
		}
		writeJSON(w, stats)
	})

	r.Get("/debug/inflight", func(w http.ResponseWriter, _ *http.Request) {
		var stats WorkQueueStats
		if src.WorkQueueStats != nil {
			stats = src.WorkQueueStats()
		}
		writeJSON(w, stats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
