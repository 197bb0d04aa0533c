package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 8000, cfg.HTTPPort)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, 3, cfg.Replication)
	assert.Equal(t, 5, cfg.MaxReplicasAttempted)
	assert.Equal(t, 0.8, cfg.PairThreshold)
	assert.Equal(t, 0.7, cfg.JobThreshold)
	assert.Equal(t, 3600.0, cfg.PointsCap)
	assert.Equal(t, 24*time.Hour, cfg.JobRetention)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 256, cfg.EventBuffer)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("REPLICATION_FACTOR", "5")
	t.Setenv("JOB_RETENTION", "90m")
	t.Setenv("ADMIN_TOKEN", "s3cret")

	cfg := Load()

	assert.Equal(t, ":9100", cfg.Addr())
	assert.Equal(t, 5, cfg.Replication)
	assert.Equal(t, 90*time.Minute, cfg.JobRetention)
	assert.Equal(t, "s3cret", cfg.AdminToken)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coordinator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("NODE_ID: lab-1\nPOINTS_CAP: 600\n"), 0644))
	t.Setenv("POINTS_CAP", "1200")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "lab-1", cfg.NodeID)
	assert.Equal(t, 1200.0, cfg.PointsCap, "environment wins over the file")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestCoordinatorOptions(t *testing.T) {
	t.Setenv("MAX_REPLICAS_ATTEMPTED", "7")
	t.Setenv("TARGET_PENDING", "12")

	opts := Load().CoordinatorOptions()

	assert.Equal(t, 3, opts.Replication)
	assert.Equal(t, 7, opts.MaxReplicasAttempted)
	assert.Equal(t, 12, opts.TargetPending)
	assert.Equal(t, 168*time.Hour, opts.AbandonAfter)
}

func TestLoad_CatalogGit(t *testing.T) {
	cfg := Load()
	assert.Empty(t, cfg.CatalogGitURL)
	assert.Equal(t, "main", cfg.CatalogGitBranch)

	t.Setenv("CATALOG_GIT_URL", "https://example.com/lab/catalog.git")
	t.Setenv("CATALOG_GIT_TOKEN", "t0k")
	t.Setenv("CATALOG_PATH", "jobs/catalog.yaml")

	cfg = Load()
	assert.Equal(t, "https://example.com/lab/catalog.git", cfg.CatalogGitURL)
	assert.Equal(t, "t0k", cfg.CatalogGitToken)
	assert.Equal(t, "jobs/catalog.yaml", cfg.CatalogPath)
}

func TestLoad_NonPositiveSweepInterval(t *testing.T) {
	for _, v := range []string{"0s", "-1m"} {
		t.Setenv("SWEEP_INTERVAL", v)
		assert.Equal(t, 5*time.Minute, Load().SweepInterval, v)
	}
}
