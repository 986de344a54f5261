// Package config loads the service configuration from YAML and KIDLEDGER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcclellann/kidLedger/pkg/ledger"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. KIDLEDGER_DATABASE_DSN.
const EnvPrefix = "KIDLEDGER"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	Interest  InterestConfig  `mapstructure:"interest" yaml:"interest"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka" yaml:"kafka"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Addr                   string `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig selects the storage backend: sqlite3, postgres or memory.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type SchedulerConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Times        []string `mapstructure:"times" yaml:"times"` // HH:MM, UTC
	Workers      int      `mapstructure:"workers" yaml:"workers"`
	QueueSize    int      `mapstructure:"queue_size" yaml:"queue_size"`
	JobDelayMs   int      `mapstructure:"job_delay_ms" yaml:"job_delay_ms"`
	RunOnStartup bool     `mapstructure:"run_on_startup" yaml:"run_on_startup"`
}

func (c SchedulerConfig) JobDelay() time.Duration {
	return time.Duration(c.JobDelayMs) * time.Millisecond
}

// InterestConfig holds the fixed-deposit parameters that are not rate schemes.
type InterestConfig struct {
	FDPrematureRate float64 `mapstructure:"fd_premature_rate" yaml:"fd_premature_rate"`
	DefaultFDRate   float64 `mapstructure:"default_fd_rate" yaml:"default_fd_rate"`
	LockInDays      int     `mapstructure:"lock_in_days" yaml:"lock_in_days"`
}

// FDPolicy converts the settings for the ledger.
func (c InterestConfig) FDPolicy() ledger.FDPolicy {
	return ledger.FDPolicy{
		LockIn:        time.Duration(c.LockInDays) * 24 * time.Hour,
		PrematureRate: decimal.NewFromFloat(c.FDPrematureRate),
		DefaultRate:   decimal.NewFromFloat(c.DefaultFDRate),
	}
}

// RedisConfig enables the distributed account lock when Addr is set.
type RedisConfig struct {
	Addr           string `mapstructure:"addr" yaml:"addr"`
	Password       string `mapstructure:"password" yaml:"password"`
	DB             int    `mapstructure:"db" yaml:"db"`
	LockTTLSeconds int    `mapstructure:"lock_ttl_seconds" yaml:"lock_ttl_seconds"`
	LockRetryMs    int    `mapstructure:"lock_retry_ms" yaml:"lock_retry_ms"`
	LockMaxRetries int    `mapstructure:"lock_max_retries" yaml:"lock_max_retries"`
	LockKeyPrefix  string `mapstructure:"lock_key_prefix" yaml:"lock_key_prefix"`
}

// KafkaConfig enables ledger event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers" yaml:"brokers"`
	Topic    string   `mapstructure:"topic" yaml:"topic"`
	ClientID string   `mapstructure:"client_id" yaml:"client_id"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text or json
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                   ":8080",
			ShutdownTimeoutSeconds: 15,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "kidledger.db",
		},
		Scheduler: SchedulerConfig{
			Enabled:   true,
			Times:     []string{"00:05"},
			Workers:   4,
			QueueSize: 1000,
		},
		Interest: InterestConfig{
			FDPrematureRate: 3.5,
			DefaultFDRate:   8,
			LockInDays:      ledger.DefaultLockInDays,
		},
		Redis: RedisConfig{
			LockTTLSeconds: 10,
			LockRetryMs:    50,
			LockMaxRetries: 100,
			LockKeyPrefix:  "kidledger:lock:",
		},
		Kafka: KafkaConfig{
			Topic:    "ledger.transactions",
			ClientID: "kidledger",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "kidledger",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout_seconds", d.Server.ShutdownTimeoutSeconds)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("scheduler.enabled", d.Scheduler.Enabled)
	v.SetDefault("scheduler.times", d.Scheduler.Times)
	v.SetDefault("scheduler.workers", d.Scheduler.Workers)
	v.SetDefault("scheduler.queue_size", d.Scheduler.QueueSize)
	v.SetDefault("scheduler.job_delay_ms", d.Scheduler.JobDelayMs)
	v.SetDefault("scheduler.run_on_startup", d.Scheduler.RunOnStartup)
	v.SetDefault("interest.fd_premature_rate", d.Interest.FDPrematureRate)
	v.SetDefault("interest.default_fd_rate", d.Interest.DefaultFDRate)
	v.SetDefault("interest.lock_in_days", d.Interest.LockInDays)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.lock_ttl_seconds", d.Redis.LockTTLSeconds)
	v.SetDefault("redis.lock_retry_ms", d.Redis.LockRetryMs)
	v.SetDefault("redis.lock_max_retries", d.Redis.LockMaxRetries)
	v.SetDefault("redis.lock_key_prefix", d.Redis.LockKeyPrefix)
	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.client_id", d.Kafka.ClientID)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Interest.FDPrematureRate < 0 || c.Interest.DefaultFDRate < 0 {
		return errors.New("interest rates must not be negative")
	}
	if c.Interest.LockInDays <= 0 {
		return fmt.Errorf("lock_in_days must be positive, got %d", c.Interest.LockInDays)
	}
	return nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
