package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mall-resolver/internal/match"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mallmatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, match.DefaultTiers(), cfg.Tiers())
	assert.Equal(t, match.DefaultWeights(), cfg.Weights())
	assert.Equal(t, 5, cfg.Match.Neighbors)
	assert.True(t, cfg.Match.WidenSearch)
	assert.Equal(t, "medium", cfg.Match.MinAdjudicatorConfidence)
	assert.Equal(t, 0.3, cfg.Cluster.DistanceKm)
	assert.Equal(t, 70.0, cfg.Cluster.NameSimilarity)
	assert.Equal(t, "file", cfg.Cache.Backend)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialInterval)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Nil(t, cfg.CategoryFilter())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
match:
  high_distance_km: 0.2
  high_similarity: 80
cluster:
  distance_km: 0.5
cache:
  backend: redis
  redis_addr: redis:6379
filter:
  deny_name_keywords: [airport, outlet]
server:
  port: 9090
  api_key: secret
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.2, cfg.Match.HighDistanceKm)
	assert.Equal(t, 80.0, cfg.Match.HighSimilarity)
	assert.Equal(t, 2.0, cfg.Match.MediumDistanceKm, "unset keys keep defaults")
	assert.Equal(t, 0.5, cfg.Cluster.DistanceKm)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 9090, cfg.Server.Port)

	filter := cfg.CategoryFilter()
	require.NotNil(t, filter)
	assert.Equal(t, []string{"airport", "outlet"}, filter.DenyNameKeywords)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MALLMATCH_MATCH_HIGH_DISTANCE_KM", "0.25")
	t.Setenv("MALLMATCH_ADJUDICATOR_MODE", "llm")
	t.Setenv("MALLMATCH_RETRY_TIMEOUT", "5s")

	path := writeConfig(t, "match:\n  high_distance_km: 0.1\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.25, cfg.Match.HighDistanceKm, "environment wins over the file")
	assert.Equal(t, "llm", cfg.Adjudicator.Mode)
	assert.Equal(t, 5*time.Second, cfg.Retry.Timeout)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"high beyond medium", "match:\n  high_distance_km: 2.5\n", "out of order"},
		{"medium beyond max", "match:\n  medium_distance_km: 4\n", "out of order"},
		{"similarity inverted", "match:\n  high_similarity: 40\n", "similarity thresholds out of order"},
		{"bad tier", "match:\n  min_adjudicator_confidence: certain\n", "min_adjudicator_confidence"},
		{"bad backend", "cache:\n  backend: etcd\n", "cache.backend"},
		{"bad source", "data:\n  source: sqlite\n", "data.source"},
		{"bad mode", "adjudicator:\n  mode: oracle\n", "adjudicator.mode"},
		{"no attempts", "retry:\n  attempts: 0\n", "retry.attempts"},
		{"cluster radius", "cluster:\n  distance_km: 0\n", "cluster.distance_km"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
