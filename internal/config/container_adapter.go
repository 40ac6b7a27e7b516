package config

import (
	"github.com/garyjia/payment-approval/internal/container"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Engine: container.EngineConfig{
			MaxAutoAdvanceSteps: c.Engine.MaxAutoAdvanceSteps,
			ConflictRetries:     c.Engine.ConflictRetries,
			StallAfter:          c.Engine.StallAfter,
			AdminRoles:          c.Authorization.AdminRoles,
		},
		Events: container.EventsConfig{
			RelayInterval:  c.Events.RelayInterval,
			RelayBatchSize: c.Events.RelayBatchSize,
			Publisher:      c.Events.Publisher,
			Topic:          c.Events.Topic,
			Journal:        c.Events.Journal,
			DedupStore:     c.Events.DedupStore,
			DedupTTL:       c.Events.DedupTTL,
		},
		Kafka: container.KafkaConfig{
			Brokers:       c.Kafka.Brokers,
			ConsumerGroup: c.Kafka.ConsumerGroup,
		},
		Redis: container.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
		},
	}
}
