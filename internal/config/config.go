package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logger        LoggerConfig        `mapstructure:"logger"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Events        EventsConfig        `mapstructure:"events"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Authorization AuthorizationConfig `mapstructure:"authorization"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// EngineConfig holds transition engine limits
type EngineConfig struct {
	MaxAutoAdvanceSteps int           `mapstructure:"max_auto_advance_steps"`
	ConflictRetries     int           `mapstructure:"conflict_retries"`
	StallAfter          time.Duration `mapstructure:"stall_after"`
}

// EventsConfig holds event delivery configuration
type EventsConfig struct {
	RelayInterval  time.Duration `mapstructure:"relay_interval"`
	RelayBatchSize int           `mapstructure:"relay_batch_size"`
	Publisher      string        `mapstructure:"publisher"` // none or gochannel
	Topic          string        `mapstructure:"topic"`
	Journal        bool          `mapstructure:"journal"`
	DedupStore     string        `mapstructure:"dedup_store"` // memory or redis
	DedupTTL       time.Duration `mapstructure:"dedup_ttl"`
}

// RedisConfig holds Redis connection settings for the dedup store
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig holds broker settings for the kafka publisher
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	ConsumerGroup string   `mapstructure:"consumer_group"`
}

// AuthorizationConfig holds authorization policy settings
type AuthorizationConfig struct {
	AdminRoles []string `mapstructure:"admin_roles"`
}

// Publisher kinds
const (
	PublisherNone      = "none"
	PublisherGoChannel = "gochannel"
	PublisherKafka     = "kafka"
)

// Dedup store kinds
const (
	DedupStoreMemory = "memory"
	DedupStoreRedis  = "redis"
)

// Load loads configuration from file, an optional .env file, and
// environment variables
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := bindEnvVars(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment variables: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 0)

	v.SetDefault("database.path", "data/payflow.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("engine.max_auto_advance_steps", 64)
	v.SetDefault("engine.conflict_retries", 1)
	v.SetDefault("engine.stall_after", 72*time.Hour)

	v.SetDefault("events.relay_interval", 5*time.Second)
	v.SetDefault("events.relay_batch_size", 100)
	v.SetDefault("events.publisher", PublisherNone)
	v.SetDefault("events.topic", "payment-approval.workflow")
	v.SetDefault("events.journal", false)
	v.SetDefault("events.dedup_store", DedupStoreMemory)
	v.SetDefault("events.dedup_ttl", 24*time.Hour)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "payflow:dedup:")

	v.SetDefault("kafka.consumer_group", "payment-approval")

	v.SetDefault("authorization.admin_roles", []string{"ORG_ADMIN", "SUPER_ADMIN"})
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"database.path":  "PAYFLOW_DB_PATH",
		"server.port":    "PAYFLOW_PORT",
		"logger.level":   "PAYFLOW_LOG_LEVEL",
		"redis.addr":     "REDIS_ADDR",
		"redis.password": "REDIS_PASSWORD",
		"kafka.brokers":  "KAFKA_BROKERS",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst must not be negative")
	}
	if c.Engine.MaxAutoAdvanceSteps <= 0 {
		return fmt.Errorf("engine.max_auto_advance_steps must be positive")
	}
	if c.Engine.ConflictRetries < 0 {
		return fmt.Errorf("engine.conflict_retries must not be negative")
	}

	switch c.Events.Publisher {
	case PublisherNone, PublisherGoChannel:
	case PublisherKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers is required when events.publisher is %q", PublisherKafka)
		}
	default:
		return fmt.Errorf("events.publisher must be %q, %q or %q, got %q",
			PublisherNone, PublisherGoChannel, PublisherKafka, c.Events.Publisher)
	}

	if c.Events.Journal && c.Events.Publisher == PublisherNone {
		return fmt.Errorf("events.journal requires an events.publisher")
	}

	switch c.Events.DedupStore {
	case DedupStoreMemory:
	case DedupStoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when events.dedup_store is %q", DedupStoreRedis)
		}
	default:
		return fmt.Errorf("events.dedup_store must be %q or %q, got %q",
			DedupStoreMemory, DedupStoreRedis, c.Events.DedupStore)
	}

	if len(c.Authorization.AdminRoles) == 0 {
		return fmt.Errorf("authorization.admin_roles must not be empty")
	}

	return nil
}
