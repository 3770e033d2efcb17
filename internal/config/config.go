// Package config loads xiovolumed's configuration from the environment only.
// There is no CLI and no config file loader: per spec, the core consumes
// environment variables exclusively and everything else is a deployment
// concern left to the process supervisor.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openvstorage/xiovolumed/internal/bytesize"
	"github.com/openvstorage/xiovolumed/internal/pool"
)

// Config is the fully resolved, defaulted and validated process configuration.
type Config struct {
	Logging    LoggingConfig
	Server     ServerConfig
	Admin      AdminConfig
	Pool       PoolConfig
	WorkQueue  WorkQueueConfig
	Reclaim    time.Duration
	Client     ClientConfig
	Backend    BackendConfig
	Catalog    CatalogConfig
	Completion CompletionConfig
	Cluster    ClusterConfig
}

// LoggingConfig mirrors the ambient logging knobs carried from the teacher's
// own LoggingConfig shape.
type LoggingConfig struct {
	Level  string
	Format string
}

// ServerConfig holds the listen endpoint and shutdown behavior.
type ServerConfig struct {
	ListenAddr      string
	ShutdownTimeout time.Duration
}

// AdminConfig holds the introspection HTTP surface's listen address.
type AdminConfig struct {
	ListenAddr string
}

// PoolConfig holds the size-classed slab definitions. Up to maxSlabClasses
// size classes are configurable via environment variables; unset classes
// are omitted.
type PoolConfig struct {
	Slabs []pool.SlabConfig
}

// WorkQueueConfig holds the bounded FIFO and worker count.
type WorkQueueConfig struct {
	QueueDepth int
	Workers    int
}

// ClientConfig holds submission back-pressure and keepalive defaults for
// the client core (spec §4.6).
type ClientConfig struct {
	SubmitQueueDepth int
	SubmitTimeout    time.Duration
	KeepaliveTime    time.Duration
	KeepaliveIntvl   time.Duration
	KeepaliveProbes  int
	ReconnectBackoff time.Duration
}

// BackendConfig selects and configures the volume backend (spec §3.1).
type BackendConfig struct {
	Driver    string // "memory" or "badger"
	BadgerDir string
}

// CatalogConfig selects and configures the name/metadata catalog (spec §3.2).
type CatalogConfig struct {
	Driver      string // "memory" or "postgres"
	PostgresDSN string
}

// CompletionConfig holds the process-wide completion-dispatch pool size
// (spec §4.7).
type CompletionConfig struct {
	Workers int
}

// ClusterConfig holds the static peer-node list haclient's resolver and
// the server's cluster-discovery opcodes (OpListClusterNodeURIReq,
// OpGetVolumeURIReq) answer from. SelfURI is this node's own advertised
// address, included in Nodes so ListClusterNodeURI reports it alongside
// its peers.
type ClusterConfig struct {
	SelfURI string
	Nodes   []string
}

// Load reads configuration from the environment. Environment variables use
// the XIO prefix and underscores, e.g. XIO_LOGGING_LEVEL=DEBUG,
// XIO_POOL_SLAB1_BLOCKSIZE=4096.
func Load() (*Config, error) {
	v := viper.New()
	setupViper(v)

	cfg := &Config{
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Server: ServerConfig{
			ListenAddr:      v.GetString("server.listen_addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Admin: AdminConfig{
			ListenAddr: v.GetString("admin.listen_addr"),
		},
		WorkQueue: WorkQueueConfig{
			QueueDepth: v.GetInt("workqueue.queue_depth"),
			Workers:    v.GetInt("workqueue.workers"),
		},
		Reclaim: v.GetDuration("pool.reclaim_interval"),
		Client: ClientConfig{
			SubmitQueueDepth: v.GetInt("client.submit_queue_depth"),
			SubmitTimeout:    v.GetDuration("client.submit_timeout"),
			KeepaliveTime:    v.GetDuration("client.keepalive_time"),
			KeepaliveIntvl:   v.GetDuration("client.keepalive_interval"),
			KeepaliveProbes:  v.GetInt("client.keepalive_probes"),
			ReconnectBackoff: v.GetDuration("client.reconnect_backoff"),
		},
		Backend: BackendConfig{
			Driver:    v.GetString("backend.driver"),
			BadgerDir: v.GetString("backend.badger_dir"),
		},
		Catalog: CatalogConfig{
			Driver:      v.GetString("catalog.driver"),
			PostgresDSN: v.GetString("catalog.postgres_dsn"),
		},
		Completion: CompletionConfig{
			Workers: v.GetInt("completion.workers"),
		},
		Cluster: ClusterConfig{
			SelfURI: v.GetString("cluster.self_uri"),
			Nodes:   parseNodeList(v.GetString("cluster.nodes")),
		},
	}

	slabs, err := parseSlabs(v)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Pool.Slabs = slabs

	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// setupViper binds the environment. There is no config file support: this
// module's configuration surface is environment-only by design.
func setupViper(v *viper.Viper) {
	v.SetEnvPrefix("XIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{
		"logging.level", "logging.format",
		"server.listen_addr", "server.shutdown_timeout",
		"admin.listen_addr",
		"workqueue.queue_depth", "workqueue.workers",
		"pool.reclaim_interval",
		"client.submit_queue_depth", "client.submit_timeout",
		"client.keepalive_time", "client.keepalive_interval", "client.keepalive_probes",
		"client.reconnect_backoff",
		"backend.driver", "backend.badger_dir",
		"catalog.driver", "catalog.postgres_dsn",
		"completion.workers",
		"cluster.self_uri", "cluster.nodes",
	} {
		_ = v.BindEnv(key)
	}
	for i := 1; i <= maxSlabClasses; i++ {
		prefix := fmt.Sprintf("pool.slab%d.", i)
		_ = v.BindEnv(prefix + "blocksize")
		_ = v.BindEnv(prefix + "minblocks")
		_ = v.BindEnv(prefix + "maxblocks")
		_ = v.BindEnv(prefix + "quantum")
	}
}

// maxSlabClasses bounds how many XIO_POOL_SLABN_* env groups Load looks for.
const maxSlabClasses = 8

// parseSlabs reads XIO_POOL_SLAB1_BLOCKSIZE..XIO_POOL_SLAB{N}_BLOCKSIZE and
// their MINBLOCKS/MAXBLOCKS/QUANTUM siblings. A class is included if its
// BLOCKSIZE is set (a zero value is included here and rejected by
// Validate); scanning stops at the first unset class, so classes must be
// numbered contiguously starting at 1.
func parseSlabs(v *viper.Viper) ([]pool.SlabConfig, error) {
	var slabs []pool.SlabConfig
	for i := 1; i <= maxSlabClasses; i++ {
		prefix := fmt.Sprintf("pool.slab%d.", i)
		raw := v.GetString(prefix + "blocksize")
		if raw == "" {
			break
		}
		bs, err := bytesize.ParseByteSize(raw)
		if err != nil {
			return nil, fmt.Errorf("slab %d: blocksize: %w", i, err)
		}
		slabs = append(slabs, pool.SlabConfig{
			BlockSize:     bs.Uint64(),
			MinBlocks:     uint64(v.GetInt64(prefix + "minblocks")),
			MaxBlocks:     uint64(v.GetInt64(prefix + "maxblocks")),
			GrowthQuantum: uint64(v.GetInt64(prefix + "quantum")),
		})
	}
	return slabs, nil
}

// parseNodeList splits a comma-separated XIO_CLUSTER_NODES value into
// trimmed, non-empty entries.
func parseNodeList(raw string) []string {
	if raw == "" {
		return nil
	}
	var nodes []string
	for _, n := range strings.Split(raw, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// ApplyDefaults fills any zero-valued field with its default. Called after
// reading the environment so explicit values always win.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":17003"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Admin.ListenAddr == "" {
		cfg.Admin.ListenAddr = ":17080"
	}

	if cfg.WorkQueue.QueueDepth == 0 {
		cfg.WorkQueue.QueueDepth = 256
	}
	if cfg.WorkQueue.Workers == 0 {
		cfg.WorkQueue.Workers = 4
	}

	if cfg.Reclaim == 0 {
		cfg.Reclaim = 15 * time.Minute
	}

	if len(cfg.Pool.Slabs) == 0 {
		cfg.Pool.Slabs = []pool.SlabConfig{
			{BlockSize: 4096, MinBlocks: 64, MaxBlocks: 4096, GrowthQuantum: 64},
			{BlockSize: 65536, MinBlocks: 16, MaxBlocks: 1024, GrowthQuantum: 16},
			{BlockSize: 1 << 20, MinBlocks: 4, MaxBlocks: 256, GrowthQuantum: 4},
		}
	}

	if cfg.Client.SubmitQueueDepth == 0 {
		cfg.Client.SubmitQueueDepth = 128
	}
	if cfg.Client.SubmitTimeout == 0 {
		cfg.Client.SubmitTimeout = 60 * time.Second
	}
	if cfg.Client.KeepaliveTime == 0 {
		cfg.Client.KeepaliveTime = 600 * time.Second
	}
	if cfg.Client.KeepaliveIntvl == 0 {
		cfg.Client.KeepaliveIntvl = 60 * time.Second
	}
	if cfg.Client.KeepaliveProbes == 0 {
		cfg.Client.KeepaliveProbes = 20
	}
	if cfg.Client.ReconnectBackoff == 0 {
		cfg.Client.ReconnectBackoff = 2 * time.Second
	}

	if cfg.Backend.Driver == "" {
		cfg.Backend.Driver = "memory"
	}
	if cfg.Catalog.Driver == "" {
		cfg.Catalog.Driver = "memory"
	}

	if cfg.Completion.Workers == 0 {
		cfg.Completion.Workers = 4
	}

	if cfg.Cluster.SelfURI == "" {
		cfg.Cluster.SelfURI = "tcp://" + cfg.Server.ListenAddr
	}
	if len(cfg.Cluster.Nodes) == 0 {
		cfg.Cluster.Nodes = []string{cfg.Cluster.SelfURI}
	}
}

// Validate rejects configurations that ApplyDefaults cannot make sensible
// on its own, mirroring the teacher's validate-after-default ordering.
func Validate(cfg *Config) error {
	switch strings.ToUpper(cfg.Logging.Level) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return fmt.Errorf("logging.level: invalid value %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: invalid value %q", cfg.Logging.Format)
	}

	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr: required")
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout: must be > 0")
	}

	for i, s := range cfg.Pool.Slabs {
		if s.BlockSize == 0 {
			return fmt.Errorf("pool.slab%d: blocksize must be > 0", i+1)
		}
		if s.MaxBlocks < s.MinBlocks {
			return fmt.Errorf("pool.slab%d: maxblocks (%d) < minblocks (%d)", i+1, s.MaxBlocks, s.MinBlocks)
		}
		if s.GrowthQuantum == 0 {
			return fmt.Errorf("pool.slab%d: quantum must be > 0", i+1)
		}
	}

	if cfg.WorkQueue.QueueDepth <= 0 {
		return fmt.Errorf("workqueue.queue_depth: must be > 0")
	}
	if cfg.WorkQueue.Workers <= 0 {
		return fmt.Errorf("workqueue.workers: must be > 0")
	}

	switch cfg.Backend.Driver {
	case "memory":
	case "badger":
		if cfg.Backend.BadgerDir == "" {
			return fmt.Errorf("backend.badger_dir: required when backend.driver=badger")
		}
	default:
		return fmt.Errorf("backend.driver: unknown driver %q", cfg.Backend.Driver)
	}

	switch cfg.Catalog.Driver {
	case "memory":
	case "postgres":
		if cfg.Catalog.PostgresDSN == "" {
			return fmt.Errorf("catalog.postgres_dsn: required when catalog.driver=postgres")
		}
	default:
		return fmt.Errorf("catalog.driver: unknown driver %q", cfg.Catalog.Driver)
	}

	if cfg.Completion.Workers <= 0 {
		return fmt.Errorf("completion.workers: must be > 0")
	}

	if cfg.Cluster.SelfURI == "" {
		return fmt.Errorf("cluster.self_uri: required")
	}

	return nil
}
