// Package container provides dependency injection and lifecycle management
// for the payment approval service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Engine configuration
	Engine EngineConfig

	// Event delivery configuration
	Events EventsConfig

	// Redis configuration, used by the redis dedup store
	Redis RedisConfig

	// Kafka configuration, used by the kafka publisher
	Kafka KafkaConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or ":memory:"
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// EngineConfig holds transition engine settings.
type EngineConfig struct {
	// MaxAutoAdvanceSteps bounds non-approval steps run in one call
	MaxAutoAdvanceSteps int

	// ConflictRetries is how often a decision is re-applied after a
	// concurrent save on an unchanged node
	ConflictRetries int

	// StallAfter is how long a running instance may sit on one step
	// before the stall monitor reports it
	StallAfter time.Duration

	// AdminRoles may cancel workflows in their organization
	AdminRoles []string
}

// EventsConfig holds outbox and publishing settings.
type EventsConfig struct {
	RelayInterval  time.Duration
	RelayBatchSize int

	// Publisher is "none", "gochannel" or "kafka"
	Publisher string
	Topic     string

	// Journal logs every published event through a subscriber
	Journal bool

	// DedupStore is "memory" or "redis"
	DedupStore string
	DedupTTL   time.Duration
}

// KafkaConfig holds Kafka broker settings.
type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Engine.MaxAutoAdvanceSteps <= 0 {
		return fmt.Errorf("max auto-advance steps must be positive")
	}
	if len(c.Engine.AdminRoles) == 0 {
		return fmt.Errorf("at least one admin role is required")
	}
	if c.Events.Journal && (c.Events.Publisher == "" || c.Events.Publisher == "none") {
		return fmt.Errorf("the event journal requires a publisher")
	}
	if c.Events.Publisher == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required for the kafka publisher")
	}
	if c.Events.DedupStore == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required for the redis dedup store")
	}
	return nil
}

// DefaultConfig returns a configuration for an in-memory deployment.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: ":memory:",
		},
		Engine: EngineConfig{
			MaxAutoAdvanceSteps: 64,
			ConflictRetries:     1,
			StallAfter:          72 * time.Hour,
			AdminRoles:          []string{"ORG_ADMIN", "SUPER_ADMIN"},
		},
		Events: EventsConfig{
			RelayInterval:  5 * time.Second,
			RelayBatchSize: 100,
			Publisher:      "none",
			DedupStore:     "memory",
			DedupTTL:       24 * time.Hour,
		},
	}
}
