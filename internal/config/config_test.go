package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "data/payflow.db", cfg.Database.Path)
	assert.Equal(t, 64, cfg.Engine.MaxAutoAdvanceSteps)
	assert.Equal(t, 1, cfg.Engine.ConflictRetries)
	assert.Equal(t, 72*time.Hour, cfg.Engine.StallAfter)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Zero(t, cfg.Server.RateLimit)
	assert.False(t, cfg.Events.Journal)
	assert.Equal(t, 5*time.Second, cfg.Events.RelayInterval)
	assert.Equal(t, PublisherNone, cfg.Events.Publisher)
	assert.Equal(t, DedupStoreMemory, cfg.Events.DedupStore)
	assert.Equal(t, []string{"ORG_ADMIN", "SUPER_ADMIN"}, cfg.Authorization.AdminRoles)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PAYFLOW_DB_PATH", "/tmp/override.db")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")

	cfg, err := Load(writeConfig(t, `
events:
  publisher: gochannel
  dedup_store: redis
  relay_interval: 2s
engine:
  max_auto_advance_steps: 16
`))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, PublisherGoChannel, cfg.Events.Publisher)
	assert.Equal(t, 2*time.Second, cfg.Events.RelayInterval)
	assert.Equal(t, 16, cfg.Engine.MaxAutoAdvanceSteps)

	cc := cfg.ToContainerConfig()
	assert.Equal(t, "/tmp/override.db", cc.Database.Path)
	assert.Equal(t, 16, cc.Engine.MaxAutoAdvanceSteps)
	assert.Equal(t, "localhost:6379", cc.Redis.Addr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cc.Kafka.Brokers)
	assert.Equal(t, "payment-approval", cc.Kafka.ConsumerGroup)
	assert.Equal(t, cfg.Authorization.AdminRoles, cc.Engine.AdminRoles)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:        ServerConfig{Port: 8080},
			Database:      DatabaseConfig{Path: "payflow.db"},
			Engine:        EngineConfig{MaxAutoAdvanceSteps: 64, ConflictRetries: 1},
			Events:        EventsConfig{Publisher: PublisherNone, DedupStore: DedupStoreMemory},
			Authorization: AuthorizationConfig{AdminRoles: []string{"ORG_ADMIN"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(c *Config) {}, true},
		{"missing db path", func(c *Config) { c.Database.Path = "" }, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"zero auto advance", func(c *Config) { c.Engine.MaxAutoAdvanceSteps = 0 }, false},
		{"negative retries", func(c *Config) { c.Engine.ConflictRetries = -1 }, false},
		{"unknown publisher", func(c *Config) { c.Events.Publisher = "nats" }, false},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }, false},
		{"redis without addr", func(c *Config) { c.Events.DedupStore = DedupStoreRedis }, false},
		{"redis with addr", func(c *Config) {
			c.Events.DedupStore = DedupStoreRedis
			c.Redis.Addr = "localhost:6379"
		}, true},
		{"no admin roles", func(c *Config) { c.Authorization.AdminRoles = nil }, false},
		{"journal without publisher", func(c *Config) { c.Events.Journal = true }, false},
		{"kafka without brokers", func(c *Config) { c.Events.Publisher = PublisherKafka }, false},
		{"kafka with brokers", func(c *Config) {
			c.Events.Publisher = PublisherKafka
			c.Kafka.Brokers = []string{"localhost:9092"}
		}, true},
		{"journal with gochannel", func(c *Config) {
			c.Events.Publisher = PublisherGoChannel
			c.Events.Journal = true
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
