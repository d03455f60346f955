package config

import (
	"errors"
	"time"
)

// Config represents the workflow engine configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig represents the operational HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects the persistence backend
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseConfig represents PostgreSQL configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig represents Redis idempotency store configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EngineConfig represents executor, scheduler, and escalation tuning
type EngineConfig struct {
	MaxTransitionAttempts int           `mapstructure:"max_transition_attempts"`
	IdempotencyTTL        time.Duration `mapstructure:"idempotency_ttl"`
	TimerPollInterval     time.Duration `mapstructure:"timer_poll_interval"`
	TimerBatchSize        int           `mapstructure:"timer_batch_size"`
	TimerWorkers          int           `mapstructure:"timer_workers"`
	TimerQueueSize        int           `mapstructure:"timer_queue_size"`
	EventWorkers          int           `mapstructure:"event_workers"`
	EventQueueSize        int           `mapstructure:"event_queue_size"`
	EventMaxAttempts      int           `mapstructure:"event_max_attempts"`
	EventBackoff          time.Duration `mapstructure:"event_backoff"`
	EscalationMaxAttempts int           `mapstructure:"escalation_max_attempts"`
	EscalationBackoff     time.Duration `mapstructure:"escalation_backoff"`
}

// CacheConfig represents in-process cache TTLs
type CacheConfig struct {
	TenantTTL     time.Duration `mapstructure:"tenant_ttl"`
	DefinitionTTL time.Duration `mapstructure:"definition_ttl"`
	ActorTTL      time.Duration `mapstructure:"actor_ttl"`
}

// MetricsConfig represents Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.New("server.port must be between 1 and 65535")
	}
	if !isValidStorageDriver(c.Storage.Driver) {
		return errors.New("storage.driver must be one of: postgres, memory")
	}
	if c.Storage.Driver == "postgres" {
		if c.Database.Host == "" {
			return errors.New("database.host is required")
		}
		if c.Database.Database == "" {
			return errors.New("database.database is required")
		}
		if c.Database.User == "" {
			return errors.New("database.user is required")
		}
		if c.Redis.Host == "" {
			return errors.New("redis.host is required")
		}
	}
	if c.Engine.MaxTransitionAttempts <= 0 {
		return errors.New("engine.max_transition_attempts must be positive")
	}
	if c.Engine.TimerPollInterval <= 0 {
		return errors.New("engine.timer_poll_interval must be positive")
	}
	if c.Engine.TimerBatchSize <= 0 {
		return errors.New("engine.timer_batch_size must be positive")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	return nil
}

// isValidStorageDriver checks if the storage driver is valid
func isValidStorageDriver(driver string) bool {
	switch driver {
	case "postgres", "memory":
		return true
	default:
		return false
	}
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8090,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "flowline",
			User:            "flowline",
			Password:        "",
			MaxConnections:  50,
			MinConnections:  10,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			Password: "",
			DB:       0,
		},
		Engine: EngineConfig{
			MaxTransitionAttempts: 3,
			IdempotencyTTL:        24 * time.Hour,
			TimerPollInterval:     250 * time.Millisecond,
			TimerBatchSize:        100,
			TimerWorkers:          8,
			TimerQueueSize:        1000,
			EventWorkers:          8,
			EventQueueSize:        1000,
			EventMaxAttempts:      3,
			EventBackoff:          100 * time.Millisecond,
			EscalationMaxAttempts: 3,
			EscalationBackoff:     100 * time.Millisecond,
		},
		Cache: CacheConfig{
			TenantTTL:     5 * time.Minute,
			DefinitionTTL: 10 * time.Minute,
			ActorTTL:      1 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
