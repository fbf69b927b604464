package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents game server configuration
type Config struct {
	Server ServerConfig `yaml:"server"`

	// Connection admission and framing limits
	Admission AdmissionConfig `yaml:"admission"`

	Storage StorageConfig `yaml:"storage"`

	// Presence mirror; disabled when redis.addr is empty
	Redis RedisConfig `yaml:"redis"`

	// Domain event publishing; disabled when events.nats_url is empty
	Events EventsConfig `yaml:"events"`

	Log LogConfig `yaml:"log"`

	// Graceful shutdown timeout
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	// Websocket listen address
	ListenAddr string `yaml:"listen_addr"`

	// Path the websocket upgrade is served on
	WebsocketPath string `yaml:"websocket_path"`

	// Port for /health, /ready, /status and /metrics
	HealthCheckPort int `yaml:"health_check_port"`

	// Idle read timeout per connection, 0 disables it
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// Deadline for a single outbound write
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// Upper bound on waiting for player locks
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// Config file polling interval, 0 disables hot reload
	ConfigReloadInterval time.Duration `yaml:"config_reload_interval"`
}

// AdmissionConfig bounds concurrent connections and message sizes
type AdmissionConfig struct {
	MaxConnections int `yaml:"max_connections"`

	// Maximum connections per remote IP, 0 = unlimited
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`

	// New connections per second per IP, 0 = unlimited
	ConnectionRateLimit int `yaml:"connection_rate_limit"`

	// Messages slower than this are logged and counted
	LatencyThresholdMs int `yaml:"latency_threshold_ms"`

	// Hard cap on a reassembled message
	MaxMessageSize int `yaml:"max_message_size"`
}

// StorageConfig selects the repository backend
type StorageConfig struct {
	// memory or postgres
	Driver string `yaml:"driver"`

	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`

	// TTL of cached friend lists, 0 disables the cache
	FriendCacheTTL time.Duration `yaml:"friend_cache_ttl"`

	// Apply embedded migrations on startup
	Migrate *bool `yaml:"migrate"`

	ConnectRetries    int           `yaml:"connect_retries"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Key prefix for Redis keys
	KeyPrefix string `yaml:"key_prefix"`

	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// EventsConfig represents NATS event publishing configuration
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`

	// Circuit breaker around publishing
	MaxFailures    int64         `yaml:"max_failures"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout"`
}

// LogConfig enables rotated file logging when File is set
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied
func Default() *Config {
	var cfg Config
	setDefaults(&cfg)
	return &cfg
}

// ValidateConfig validates the configuration (exported for hot reload)
func ValidateConfig(cfg *Config) error {
	return validateConfig(cfg)
}

// MigrateEnabled reports whether embedded migrations should run
func (c StorageConfig) MigrateEnabled() bool {
	return c.Migrate == nil || *c.Migrate
}

// LatencyThreshold returns the slow message threshold as a duration
func (c AdmissionConfig) LatencyThreshold() time.Duration {
	return time.Duration(c.LatencyThresholdMs) * time.Millisecond
}

func validateConfig(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if cfg.Server.HealthCheckPort <= 0 || cfg.Server.HealthCheckPort > 65535 {
		return fmt.Errorf("server.health_check_port must be between 1 and 65535")
	}
	if cfg.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be greater than 0")
	}
	if cfg.Server.LockTimeout <= 0 {
		return fmt.Errorf("server.lock_timeout must be greater than 0")
	}
	if cfg.Server.ReadTimeout < 0 {
		return fmt.Errorf("server.read_timeout must not be negative")
	}

	if cfg.Admission.MaxConnections <= 0 {
		return fmt.Errorf("admission.max_connections must be greater than 0")
	}
	if cfg.Admission.MaxConnectionsPerIP < 0 {
		return fmt.Errorf("admission.max_connections_per_ip must not be negative")
	}
	if cfg.Admission.MaxMessageSize <= 0 {
		return fmt.Errorf("admission.max_message_size must be greater than 0")
	}
	if cfg.Admission.LatencyThresholdMs <= 0 {
		return fmt.Errorf("admission.latency_threshold_ms must be greater than 0")
	}

	switch cfg.Storage.Driver {
	case "memory":
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be memory or postgres, got %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Addr != "" && cfg.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis.pool_size must be greater than 0")
	}

	if cfg.GracefulShutdownTimeout <= 0 {
		return fmt.Errorf("graceful_shutdown_timeout must be greater than 0")
	}

	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.WebsocketPath == "" {
		cfg.Server.WebsocketPath = "/ws"
	}
	if cfg.Server.HealthCheckPort == 0 {
		cfg.Server.HealthCheckPort = 9090
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.LockTimeout == 0 {
		cfg.Server.LockTimeout = 5 * time.Second
	}

	if cfg.Admission.MaxConnections == 0 {
		cfg.Admission.MaxConnections = 1000
	}
	if cfg.Admission.LatencyThresholdMs == 0 {
		cfg.Admission.LatencyThresholdMs = 50
	}
	if cfg.Admission.MaxMessageSize == 0 {
		cfg.Admission.MaxMessageSize = 1024 * 1024 // 1MB default
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "memory"
	}
	if cfg.Storage.MaxConns == 0 {
		cfg.Storage.MaxConns = 10
	}
	if cfg.Storage.FriendCacheTTL == 0 {
		cfg.Storage.FriendCacheTTL = 30 * time.Second
	}
	if cfg.Storage.ConnectRetries == 0 {
		cfg.Storage.ConnectRetries = 5
	}
	if cfg.Storage.ConnectRetryDelay == 0 {
		cfg.Storage.ConnectRetryDelay = 500 * time.Millisecond
	}

	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "game-server:"
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.MinIdleConns == 0 {
		cfg.Redis.MinIdleConns = 2
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "game.events"
	}
	if cfg.Events.MaxFailures == 0 {
		cfg.Events.MaxFailures = 5
	}
	if cfg.Events.BreakerTimeout == 0 {
		cfg.Events.BreakerTimeout = 30 * time.Second
	}

	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 5
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 7
		}
	}

	if cfg.GracefulShutdownTimeout == 0 {
		cfg.GracefulShutdownTimeout = 30 * time.Second
	}
}
