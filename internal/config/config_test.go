package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", c.DataDir)
	assert.Equal(t, "jsonl", c.Store.Kind)
	assert.Equal(t, "data", c.StoreDSN())
	assert.Equal(t, "none", c.Metrics.Backend)
	assert.Equal(t, 30*time.Second, c.LLM.Timeout)
	assert.Equal(t, 3, c.LLM.MaxAttempts)
	assert.Equal(t, "canonical", c.Diagnostics.Profile)
	assert.Equal(t, 0.25, c.Problem.ArbitrationBias)
	assert.Equal(t, 0.85, c.Problem.CorrelationThreshold)
	assert.Equal(t, 5.0, c.Cleaning.OutlierZ)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TABPREP_STORE_KIND", "sqlite")
	t.Setenv("TABPREP_STORE_DSN", "file:x.db")
	t.Setenv("TABPREP_LLM_TIMEOUT", "5s")
	t.Setenv("TABPREP_DIAGNOSTICS_PROFILE", "extended")
	t.Setenv("TABPREP_AUDIT_KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.Store.Kind)
	assert.Equal(t, "file:x.db", c.StoreDSN())
	assert.Equal(t, 5*time.Second, c.LLM.Timeout)
	assert.Equal(t, "extended", c.Diagnostics.Profile)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Audit.KafkaBrokers)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tabprep.yaml")
	yml := "data_dir: /srv/tabprep\nlog:\n  level: debug\nproblem:\n  arbitration_bias: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	t.Setenv("TABPREP_LOG_LEVEL", "warn")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tabprep", c.DataDir)
	assert.Equal(t, "warn", c.Log.Level)
	assert.Equal(t, 0.1, c.Problem.ArbitrationBias)
	assert.Equal(t, "json", c.Log.Format)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("TABPREP_STORE_KIND", "oracle")
	t.Setenv("TABPREP_PROBLEM_ARBITRATION_BIAS", "2")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Config.Store.Kind")
	assert.Contains(t, err.Error(), "Config.Problem.ArbitrationBias")
}

func TestRedisCacheNeedsAddress(t *testing.T) {
	t.Setenv("TABPREP_CACHE_KIND", "redis")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RedisAddr")

	t.Setenv("TABPREP_CACHE_REDIS_ADDR", "localhost:6379")
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", c.Cache.RedisAddr)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	c.DataDir = "out"
	c.Store.Kind = "postgres"
	c.Store.DSN = "postgres://localhost/tabprep"
	c.Cache.TTL = 2 * time.Hour

	path := filepath.Join(t.TempDir(), "nested", "tabprep.yaml")
	require.NoError(t, Save(c, path))

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c.DataDir, back.DataDir)
	assert.Equal(t, c.Store, back.Store)
	assert.Equal(t, c.Cache, back.Cache)
	assert.Equal(t, c.LLM, back.LLM)
	assert.Equal(t, c.Problem, back.Problem)
}
