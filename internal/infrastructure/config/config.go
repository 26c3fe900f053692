// Package config loads the salesflow configuration from file, environment
// and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Aidin1998/salesflow/internal/analytics"
	"github.com/Aidin1998/salesflow/internal/infrastructure/messaging"
	"github.com/Aidin1998/salesflow/internal/redis"
	"github.com/Aidin1998/salesflow/internal/snapshot/store"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. SALESFLOW_STREAM_DRIVER.
const EnvPrefix = "SALESFLOW"

// Config is the process configuration.
type Config struct {
	Log            LogConfig                      `mapstructure:"log"`
	Stream         messaging.StreamConfig         `mapstructure:"stream"`
	Redis          redis.Config                   `mapstructure:"redis"`
	Kafka          messaging.KafkaConfig          `mapstructure:"kafka"`
	Store          store.Config                   `mapstructure:"store"`
	Analytics      analytics.Config               `mapstructure:"analytics"`
	Reconstruct    ReconstructConfig              `mapstructure:"reconstruct"`
	CircuitBreaker messaging.CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Ops            OpsConfig                      `mapstructure:"ops"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// ReconstructConfig configures delta reconstruction.
type ReconstructConfig struct {
	// Timezone names the location calendar days are evaluated in.
	Timezone string `mapstructure:"timezone" validate:"required"`
	Workers  int    `mapstructure:"workers" validate:"min=1,max=256"`
}

// Location resolves Timezone.
func (c ReconstructConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

type OpsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")

	stream := messaging.DefaultStreamConfig()
	v.SetDefault("stream.driver", stream.Driver)
	v.SetDefault("stream.stream", stream.Stream)
	v.SetDefault("stream.group", stream.Group)
	v.SetDefault("stream.consumer", "")
	v.SetDefault("stream.batch_size", stream.BatchSize)
	v.SetDefault("stream.block", stream.Block)
	v.SetDefault("stream.ack_policy", string(stream.AckPolicy))
	v.SetDefault("stream.poll_interval", stream.PollInterval)
	v.SetDefault("stream.read_backoff", stream.ReadBackoff)
	v.SetDefault("stream.reclaim.enabled", stream.Reclaim.Enabled)
	v.SetDefault("stream.reclaim.interval", stream.Reclaim.Interval)
	v.SetDefault("stream.reclaim.min_idle", stream.Reclaim.MinIdle)
	v.SetDefault("stream.reclaim.max_deliveries", stream.Reclaim.MaxDeliveries)
	v.SetDefault("stream.reclaim.max_fetch", stream.Reclaim.MaxFetch)
	v.SetDefault("stream.reclaim.batch", stream.Reclaim.Batch)

	rc := redis.DefaultConfig()
	v.SetDefault("redis.addr", rc.Addr)
	v.SetDefault("redis.password", rc.Password)
	v.SetDefault("redis.db", rc.DB)
	v.SetDefault("redis.pool_size", rc.PoolSize)
	v.SetDefault("redis.min_idle_conns", rc.MinIdleConns)
	v.SetDefault("redis.conn_max_lifetime", rc.ConnMaxLifetime)
	v.SetDefault("redis.conn_max_idle_time", rc.ConnMaxIdleTime)
	v.SetDefault("redis.pool_timeout", rc.PoolTimeout)
	v.SetDefault("redis.max_retries", rc.MaxRetries)
	v.SetDefault("redis.min_retry_backoff", rc.MinRetryBackoff)
	v.SetDefault("redis.max_retry_backoff", rc.MaxRetryBackoff)
	v.SetDefault("redis.dial_timeout", rc.DialTimeout)
	v.SetDefault("redis.read_timeout", rc.ReadTimeout)
	v.SetDefault("redis.write_timeout", rc.WriteTimeout)
	v.SetDefault("redis.enable_cluster", false)
	v.SetDefault("redis.cluster_addrs", []string{})
	v.SetDefault("redis.enable_sentinel", false)
	v.SetDefault("redis.sentinel_addrs", []string{})
	v.SetDefault("redis.sentinel_password", "")
	v.SetDefault("redis.master_name", "")

	kc := messaging.DefaultKafkaConfig()
	v.SetDefault("kafka.brokers", kc.Brokers)
	v.SetDefault("kafka.topic", "")
	v.SetDefault("kafka.group_id", "")
	v.SetDefault("kafka.min_bytes", kc.MinBytes)
	v.SetDefault("kafka.max_bytes", kc.MaxBytes)
	v.SetDefault("kafka.max_wait", kc.MaxWait)
	v.SetDefault("kafka.fetch_wait", kc.FetchWait)

	v.SetDefault("store.driver", store.DriverBadger)
	v.SetDefault("store.path", "./data/snapshots")
	v.SetDefault("store.in_memory", false)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("analytics.driver", analytics.DriverMemory)
	v.SetDefault("analytics.addr", "localhost:9000")
	v.SetDefault("analytics.database", "default")
	v.SetDefault("analytics.username", "default")
	v.SetDefault("analytics.password", "")
	v.SetDefault("analytics.table", "sku_daily_deltas")

	v.SetDefault("reconstruct.timezone", "UTC")
	v.SetDefault("reconstruct.workers", 4)

	cb := messaging.DefaultCircuitBreakerConfig()
	v.SetDefault("circuit_breaker.enabled", cb.Enabled)
	v.SetDefault("circuit_breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", cb.SuccessThreshold)
	v.SetDefault("circuit_breaker.timeout", cb.Timeout)
	v.SetDefault("circuit_breaker.max_half_open_requests", cb.MaxHalfOpenRequests)

	v.SetDefault("ops.enabled", true)
	v.SetDefault("ops.addr", ":9090")
}

// Load reads config.yaml from the given file, or from ., ./configs and
// /etc/salesflow when path is empty. A missing file is not an error.
// Environment variables override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/salesflow")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := validator.New().Struct(struct {
		Log         LogConfig
		Reconstruct ReconstructConfig
		Ops         OpsConfig
	}{c.Log, c.Reconstruct, c.Ops}); err != nil {
		return err
	}
	if _, err := c.Reconstruct.Location(); err != nil {
		return fmt.Errorf("reconstruct timezone: %w", err)
	}
	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	switch c.Stream.Driver {
	case messaging.DriverRedis:
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	case messaging.DriverKafka:
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka: brokers must be specified")
		}
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Analytics.Validate(); err != nil {
		return fmt.Errorf("analytics: %w", err)
	}
	return nil
}

// KafkaShardConfig fills topic and group from the stream section when the
// kafka section leaves them empty.
func (c *Config) KafkaShardConfig() messaging.KafkaConfig {
	kc := c.Kafka
	if kc.Topic == "" {
		kc.Topic = c.Stream.Stream
	}
	if kc.GroupID == "" {
		kc.GroupID = c.Stream.Group
	}
	return kc
}
