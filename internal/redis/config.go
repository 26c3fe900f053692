// Package redis builds the Redis client shared by the stream transport.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config holds Redis configuration
type Config struct {
	// Connection settings
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// Pool settings
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	PoolTimeout     time.Duration `mapstructure:"pool_timeout"`

	// Operational settings
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`

	// Timeout settings
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// Cluster settings
	EnableCluster bool     `mapstructure:"enable_cluster"`
	ClusterAddrs  []string `mapstructure:"cluster_addrs"`

	// Sentinel settings (for high availability)
	EnableSentinel   bool     `mapstructure:"enable_sentinel"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`
	MasterName       string   `mapstructure:"master_name"`
}

// DefaultConfig returns default Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr: "localhost:6379",

		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 5 * time.Minute,
		PoolTimeout:     4 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	switch {
	case c.EnableCluster && len(c.ClusterAddrs) == 0:
		return fmt.Errorf("redis cluster enabled without cluster_addrs")
	case c.EnableSentinel && (len(c.SentinelAddrs) == 0 || c.MasterName == ""):
		return fmt.Errorf("redis sentinel needs sentinel_addrs and master_name")
	case !c.EnableCluster && !c.EnableSentinel && c.Addr == "":
		return fmt.Errorf("redis addr must be specified")
	}
	return nil
}

// Options maps the configuration onto go-redis universal options. Cluster
// and sentinel settings win over the single address.
func (c Config) Options() *redis.UniversalOptions {
	opts := &redis.UniversalOptions{
		Addrs:    []string{c.Addr},
		Password: c.Password,
		DB:       c.DB,

		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		ConnMaxLifetime: c.ConnMaxLifetime,
		ConnMaxIdleTime: c.ConnMaxIdleTime,
		PoolTimeout:     c.PoolTimeout,

		MaxRetries:      c.MaxRetries,
		MinRetryBackoff: c.MinRetryBackoff,
		MaxRetryBackoff: c.MaxRetryBackoff,

		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
	switch {
	case c.EnableCluster:
		opts.Addrs = c.ClusterAddrs
		opts.IsClusterMode = true
	case c.EnableSentinel:
		opts.Addrs = c.SentinelAddrs
		opts.MasterName = c.MasterName
		opts.SentinelPassword = c.SentinelPassword
	}
	return opts
}

// NewClient creates a Redis client and checks the connection
func NewClient(ctx context.Context, config Config, logger *zap.Logger) (redis.UniversalClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	rdb := redis.NewUniversalClient(config.Options())

	pingCtx, cancel := context.WithTimeout(ctx, config.DialTimeout+time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis client connected",
		zap.Strings("addrs", config.Options().Addrs),
		zap.Bool("cluster", config.EnableCluster),
		zap.Bool("sentinel", config.EnableSentinel))
	return rdb, nil
}
