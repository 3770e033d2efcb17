// Command xiovolumed runs the network-attached block-storage front end:
// the wire-protocol server of internal/server bound to a catalog and
// backend selected by environment configuration. There is no CLI surface
// by design (spec non-goal) — every knob comes from internal/config.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/openvstorage/xiovolumed/internal/admin"
	"github.com/openvstorage/xiovolumed/internal/backend"
	"github.com/openvstorage/xiovolumed/internal/backend/badgervolume"
	"github.com/openvstorage/xiovolumed/internal/backend/memvolume"
	"github.com/openvstorage/xiovolumed/internal/catalog"
	"github.com/openvstorage/xiovolumed/internal/catalog/memcatalog"
	"github.com/openvstorage/xiovolumed/internal/catalog/pgcatalog"
	"github.com/openvstorage/xiovolumed/internal/cluster"
	"github.com/openvstorage/xiovolumed/internal/config"
	"github.com/openvstorage/xiovolumed/internal/logger"
	"github.com/openvstorage/xiovolumed/internal/metrics"
	"github.com/openvstorage/xiovolumed/internal/pool"
	"github.com/openvstorage/xiovolumed/internal/server"
	"github.com/openvstorage/xiovolumed/internal/workqueue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "xiovolumed:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.Info("xiovolumed starting", "listen", cfg.Server.ListenAddr, "admin", cfg.Admin.ListenAddr)

	registry := metrics.InitRegistry()
	serverMetrics := metrics.NewServerMetrics()

	cat, closeCatalog, err := buildCatalog(context.Background(), cfg.Catalog)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	defer closeCatalog()

	be, snaps, closeBackend, err := buildBackend(cfg.Backend)
	if err != nil {
		return fmt.Errorf("build backend: %w", err)
	}
	defer closeBackend()

	p, err := pool.New(cfg.Pool.Slabs, cfg.Reclaim)
	if err != nil {
		return fmt.Errorf("build pool: %w", err)
	}
	defer p.Close()

	queue, err := workqueue.New(workqueue.Config{QueueDepth: cfg.WorkQueue.QueueDepth, Workers: cfg.WorkQueue.Workers})
	if err != nil {
		return fmt.Errorf("build work queue: %w", err)
	}

	dir := cluster.NewDirectory(cfg.Cluster.SelfURI, cfg.Cluster.Nodes)

	srv := server.New(server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, queue, p, cat, be, snaps, dir, serverMetrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.StartReclaimer(ctx)

	adminSrv := &http.Server{
		Addr:    cfg.Admin.ListenAddr,
		Handler: admin.NewRouter(srv.AdminSources(), registry),
	}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", "error", err)
		}
	}()
	defer func() { _ = adminSrv.Shutdown(context.Background()) }()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		cancel()
		<-serveDone
	case err := <-serveDone:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	queue.Stop()

	logger.Info("xiovolumed stopped")
	return nil
}

func buildCatalog(ctx context.Context, cfg config.CatalogConfig) (catalog.Catalog, func(), error) {
	switch cfg.Driver {
	case "postgres":
		c, err := pgcatalog.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return memcatalog.New(), func() {}, nil
	}
}

func buildBackend(cfg config.BackendConfig) (backend.VolumeBackend, backend.SnapshotBackend, func(), error) {
	switch cfg.Driver {
	case "badger":
		b, err := badgervolume.Open(cfg.BadgerDir)
		if err != nil {
			return nil, nil, nil, err
		}
		return b, b, func() { _ = b.Close() }, nil
	default:
		b := memvolume.New()
		return b, b, func() {}, nil
	}
}
