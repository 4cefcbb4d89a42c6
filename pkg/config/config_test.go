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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Crawler.Concurrency)
	assert.Equal(t, 0.5, cfg.Router.DefaultThreshold)
	assert.Equal(t, "redis", cfg.Index.Backend)
	assert.Equal(t, "reject", cfg.Cycle.Mode)
	assert.Equal(t, "query-created", cfg.Kafka.Topics.QueryCreated)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yml := `
index:
  backend: memory
postgres:
  driver: sqlite
  path: /tmp/nr.db
crawler:
  concurrency: 5
  fetchTimeout: 3s
  feeds:
    - http://example.com/rss
cycle:
  mode: block
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, "/tmp/nr.db", cfg.Postgres.DSN())
	assert.Equal(t, 5, cfg.Crawler.Concurrency)
	assert.Equal(t, 3*time.Second, cfg.Crawler.FetchTimeout)
	assert.Equal(t, []string{"http://example.com/rss"}, cfg.Crawler.Feeds)
	assert.Equal(t, "block", cfg.Cycle.Mode)
	// untouched sections keep their defaults
	assert.Equal(t, 500, cfg.Router.BatchSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NR_INDEX_BACKEND", "mongo")
	t.Setenv("NR_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("NR_KAFKA_ENABLED", "true")
	t.Setenv("NR_CYCLE_INTERVAL", "90s")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.Index.Backend)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, 90*time.Second, cfg.Cycle.Interval)
}

func TestLoad_InvalidBackend(t *testing.T) {
	t.Setenv("NR_INDEX_BACKEND", "cassandra")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cassandra")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestPostgresConfig_DSN(t *testing.T) {
	p := PostgresConfig{
		Driver:   "postgres",
		Host:     "db",
		Port:     5433,
		User:     "u",
		Password: "p",
		Database: "d",
		SSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
