package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiolaogu/VoxGuard-sub001/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileStandalone, cfg.Profile)
	assert.Equal(t, 5, cfg.Detection.WindowSeconds)
	assert.Equal(t, 5, cfg.Detection.CallerThreshold)
	assert.Equal(t, 300, cfg.Detection.CooldownSeconds)
	assert.Equal(t, 2*time.Second, cfg.Detection.StoreTimeout)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, "sqlite", cfg.Repository.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.EventBus.Kafka.Brokers)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
detection:
  window_seconds: 10
  caller_threshold: 8
  store_timeout: 500ms
inference:
  strategy: cel
  expression: "distinct_callers > 8.0 ? 0.9 : 0.1"
`)
	t.Setenv("VOXGUARD_DETECTION__CALLER_THRESHOLD", "12")
	t.Setenv("VOXGUARD_EVENTBUS__KAFKA__BROKERS", "k1:9092, k2:9092")

	cfg, err := load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Detection.WindowSeconds)
	assert.Equal(t, 12, cfg.Detection.CallerThreshold, "env overrides the file")
	assert.Equal(t, 500*time.Millisecond, cfg.Detection.StoreTimeout)
	assert.Equal(t, "cel", cfg.Inference.Strategy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.EventBus.Kafka.Brokers)
}

func TestLoadClusterProfile(t *testing.T) {
	t.Setenv("VOXGUARD_PROFILE", "cluster")

	cfg, err := load("")
	require.NoError(t, err)

	assert.Equal(t, domain.ProfileCluster, cfg.Profile)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.True(t, cfg.EventBus.NATS.Enabled)
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "detection:\n  window_seconds: 0\n")

	_, err := load(path)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Config)
		field  string
	}{
		{"threshold above one", func(c *domain.Config) { c.Detection.ProbabilityThreshold = 1.5 }, "Config.Detection.ProbabilityThreshold"},
		{"zero window", func(c *domain.Config) { c.Detection.WindowSeconds = 0 }, "Config.Detection.WindowSeconds"},
		{"negative cooldown", func(c *domain.Config) { c.Detection.CooldownSeconds = -1 }, "Config.Detection.CooldownSeconds"},
		{"unknown cache", func(c *domain.Config) { c.Cache.Type = "memcached" }, "Config.Cache.Type"},
		{"redis without address", func(c *domain.Config) { c.Cache.Type = "redis" }, "cache.redis_addr"},
		{"cel without expression", func(c *domain.Config) { c.Inference.Strategy = "cel" }, "inference.expression"},
		{"kafka without brokers", func(c *domain.Config) {
			c.EventBus.Kafka.Enabled = true
			c.EventBus.Kafka.Brokers = nil
		}, "eventbus.kafka.brokers"},
		{"nats ingest without nats", func(c *domain.Config) { c.Ingest.NATSSubject = "voxguard.signals" }, "ingest.nats_subject"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			var cfgErr *domain.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, Validate(domain.DefaultConfig()))
		assert.NoError(t, Validate(domain.ClusterConfig()))
	})
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "detection.window_seconds", envKey("VOXGUARD_DETECTION__WINDOW_SECONDS"))
	assert.Equal(t, "profile", envKey("VOXGUARD_PROFILE"))
}
