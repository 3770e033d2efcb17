package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoEnvironment(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, ":17003", cfg.Server.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 256, cfg.WorkQueue.QueueDepth)
	assert.Equal(t, 4, cfg.WorkQueue.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Reclaim)
	assert.Len(t, cfg.Pool.Slabs, 3)
	assert.Equal(t, 600*time.Second, cfg.Client.KeepaliveTime)
	assert.Equal(t, 60*time.Second, cfg.Client.KeepaliveIntvl)
	assert.Equal(t, 20, cfg.Client.KeepaliveProbes)
	assert.Equal(t, "memory", cfg.Backend.Driver)
	assert.Equal(t, "memory", cfg.Catalog.Driver)
	assert.Equal(t, "tcp://:17003", cfg.Cluster.SelfURI)
	assert.Equal(t, []string{"tcp://:17003"}, cfg.Cluster.Nodes)
}

func TestLoadReadsClusterNodesFromEnvironment(t *testing.T) {
	t.Setenv("XIO_CLUSTER_SELF_URI", "tcp://10.0.0.1:17003")
	t.Setenv("XIO_CLUSTER_NODES", "tcp://10.0.0.1:17003, tcp://10.0.0.2:17003")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.1:17003", cfg.Cluster.SelfURI)
	assert.Equal(t, []string{"tcp://10.0.0.1:17003", "tcp://10.0.0.2:17003"}, cfg.Cluster.Nodes)
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("XIO_LOGGING_LEVEL", "debug")
	t.Setenv("XIO_SERVER_LISTEN_ADDR", "0.0.0.0:9999")
	t.Setenv("XIO_WORKQUEUE_WORKERS", "8")
	t.Setenv("XIO_BACKEND_DRIVER", "badger")
	t.Setenv("XIO_BACKEND_BADGER_DIR", "/var/lib/xiovolumed")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "0.0.0.0:9999", cfg.Server.ListenAddr)
	assert.Equal(t, 8, cfg.WorkQueue.Workers)
	assert.Equal(t, "badger", cfg.Backend.Driver)
	assert.Equal(t, "/var/lib/xiovolumed", cfg.Backend.BadgerDir)
}

func TestLoadReadsSlabClassesFromEnvironment(t *testing.T) {
	t.Setenv("XIO_POOL_SLAB1_BLOCKSIZE", "4Ki")
	t.Setenv("XIO_POOL_SLAB1_MINBLOCKS", "8")
	t.Setenv("XIO_POOL_SLAB1_MAXBLOCKS", "64")
	t.Setenv("XIO_POOL_SLAB1_QUANTUM", "8")
	t.Setenv("XIO_POOL_SLAB2_BLOCKSIZE", "64Ki")
	t.Setenv("XIO_POOL_SLAB2_MINBLOCKS", "2")
	t.Setenv("XIO_POOL_SLAB2_MAXBLOCKS", "16")
	t.Setenv("XIO_POOL_SLAB2_QUANTUM", "2")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Pool.Slabs, 2)
	assert.EqualValues(t, 4096, cfg.Pool.Slabs[0].BlockSize)
	assert.EqualValues(t, 8, cfg.Pool.Slabs[0].MinBlocks)
	assert.EqualValues(t, 65536, cfg.Pool.Slabs[1].BlockSize)
}

func TestLoadRejectsBadgerDriverWithoutDir(t *testing.T) {
	t.Setenv("XIO_BACKEND_DRIVER", "badger")
	_, err := Load()
	assert.ErrorContains(t, err, "badger_dir")
}

func TestLoadRejectsPostgresCatalogWithoutDSN(t *testing.T) {
	t.Setenv("XIO_CATALOG_DRIVER", "postgres")
	_, err := Load()
	assert.ErrorContains(t, err, "postgres_dsn")
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Setenv("XIO_LOGGING_LEVEL", "TRACE")
	_, err := Load()
	assert.ErrorContains(t, err, "logging.level")
}

func TestValidateRejectsInvertedSlabBounds(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	cfg.Pool.Slabs[0].MaxBlocks = cfg.Pool.Slabs[0].MinBlocks - 1
	err := Validate(cfg)
	assert.ErrorContains(t, err, "maxblocks")
}
