package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Storage configurations
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`

	// Message broker configuration
	NATS NATSConfig `mapstructure:"nats"`

	// Authentication
	Auth AuthConfig `mapstructure:"auth"`

	// Logging
	Logging LoggingConfig `mapstructure:"logging"`

	// Decision-path tuning
	Cache     CacheConfig     `mapstructure:"cache"`
	EvalLog   EvalLogConfig   `mapstructure:"eval_log"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Host            string        `mapstructure:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Environment     string        `mapstructure:"environment"`
}

// DatabaseConfig holds Postgres connection configuration. URL wins when set;
// otherwise the DSN is composed from the individual fields.
type DatabaseConfig struct {
	URL         string        `mapstructure:"url"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Database    string        `mapstructure:"database"`
	Username    string        `mapstructure:"username"`
	Password    string        `mapstructure:"password"`
	SSLMode     string        `mapstructure:"ssl_mode"`
	MaxConns    int32         `mapstructure:"max_conns"`
	MinConns    int32         `mapstructure:"min_conns"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// RedisConfig holds Redis connection configuration. URL wins when set.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	Database     int           `mapstructure:"database"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// ClickHouseConfig holds the evaluation log store configuration. Disabled
// turns the sink into a no-op, which keeps local setups runnable without a
// ClickHouse instance.
type ClickHouseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// NATSConfig holds NATS connection configuration
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnect  int           `mapstructure:"max_reconnect"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// AuthConfig holds authentication configuration. BackendURL names the
// identity service whose tokens the admin API accepts; when set it is
// enforced as the JWT issuer.
type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	JWTExpiry  time.Duration `mapstructure:"jwt_expiry"`
	BackendURL string        `mapstructure:"backend_url"`
	BCryptCost int           `mapstructure:"bcrypt_cost"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CacheConfig tunes the two snapshot cache layers. The TTL applies to both:
// in-process entries and Redis entries expire on the same horizon, and both
// are invalidated eagerly on change events.
type CacheConfig struct {
	SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
	L1NumCounters int64         `mapstructure:"l1_num_counters"`
	L1MaxCost     int64         `mapstructure:"l1_max_cost"`
}

// EvalLogConfig tunes the evaluation log sink.
type EvalLogConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	BufferSize    int           `mapstructure:"buffer_size"`
	SampleRate    float64       `mapstructure:"sample_rate"`
}

// SchedulerConfig tunes the scheduled change worker.
type SchedulerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	RetryCap     time.Duration `mapstructure:"retry_cap"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	v := viper.New()

	// Set default values
	setDefaults(v)

	// Set up environment variable handling
	v.SetEnvPrefix("SWITCHYARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional unprefixed variables used by deploy tooling.
	v.BindEnv("database.url", "SWITCHYARD_DATABASE_URL", "DATABASE_URL")
	v.BindEnv("redis.url", "SWITCHYARD_REDIS_URL", "CACHE_URL")
	v.BindEnv("clickhouse.url", "SWITCHYARD_CLICKHOUSE_URL", "CLICKHOUSE_URL")
	v.BindEnv("nats.url", "SWITCHYARD_NATS_URL", "NATS_URL")
	v.BindEnv("auth.backend_url", "SWITCHYARD_AUTH_BACKEND_URL", "AUTH_BACKEND_URL")
	v.BindEnv("auth.jwt_secret", "SWITCHYARD_AUTH_JWT_SECRET", "JWT_SECRET")

	// Try to read config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/switchyard")

	// Read config file if it exists (not required)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.environment", "development")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "switchyard")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	// ClickHouse defaults
	v.SetDefault("clickhouse.enabled", true)
	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "switchyard")
	v.SetDefault("clickhouse.username", "default")

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnect", 10)
	v.SetDefault("nats.reconnect_wait", "2s")
	v.SetDefault("nats.timeout", "5s")

	// Auth defaults
	v.SetDefault("auth.jwt_expiry", "24h")
	v.SetDefault("auth.bcrypt_cost", 12)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Cache defaults
	v.SetDefault("cache.snapshot_ttl", "60s")
	v.SetDefault("cache.l1_num_counters", 100000)
	v.SetDefault("cache.l1_max_cost", 64<<20)

	// Evaluation log defaults
	v.SetDefault("eval_log.batch_size", 500)
	v.SetDefault("eval_log.flush_interval", "2s")
	v.SetDefault("eval_log.buffer_size", 10000)
	v.SetDefault("eval_log.sample_rate", 1.0)

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval", "5s")
	v.SetDefault("scheduler.batch_size", 20)
	v.SetDefault("scheduler.max_attempts", 5)
	v.SetDefault("scheduler.retry_base", "2s")
	v.SetDefault("scheduler.retry_cap", "5m")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("database url or host is required")
	}

	if c.Redis.URL == "" && c.Redis.Host == "" {
		return fmt.Errorf("redis url or host is required")
	}

	if c.NATS.URL == "" {
		return fmt.Errorf("NATS URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.EvalLog.SampleRate < 0 || c.EvalLog.SampleRate > 1 {
		return fmt.Errorf("eval log sample rate must be within [0,1]: %f", c.EvalLog.SampleRate)
	}

	if c.Scheduler.MaxAttempts < 1 {
		return fmt.Errorf("scheduler max attempts must be at least 1: %d", c.Scheduler.MaxAttempts)
	}

	return nil
}

// PostgresDSN returns the Postgres connection string
func (c *Config) PostgresDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// RedisURL returns the Redis connection URL
func (c *Config) RedisURL() string {
	if c.Redis.URL != "" {
		return c.Redis.URL
	}
	if c.Redis.Password != "" {
		return fmt.Sprintf("redis://:%s@%s:%d/%d",
			c.Redis.Password, c.Redis.Host, c.Redis.Port, c.Redis.Database)
	}
	return fmt.Sprintf("redis://%s:%d/%d", c.Redis.Host, c.Redis.Port, c.Redis.Database)
}

// ClickHouseDSN returns the ClickHouse connection string
func (c *Config) ClickHouseDSN() string {
	if c.ClickHouse.URL != "" {
		return c.ClickHouse.URL
	}
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s",
		c.ClickHouse.Username,
		c.ClickHouse.Password,
		c.ClickHouse.Host,
		c.ClickHouse.Port,
		c.ClickHouse.Database,
	)
}

// ListenAddr returns the HTTP listen address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}
