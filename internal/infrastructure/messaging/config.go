package messaging

import (
	"fmt"
	"time"
)

// Stream drivers.
const (
	DriverRedis  = "redis"
	DriverKafka  = "kafka"
	DriverMemory = "memory"
)

// ReclaimSettings is the reclaim section of StreamConfig.
type ReclaimSettings struct {
	Enabled       bool          `mapstructure:"enabled"`
	Interval      time.Duration `mapstructure:"interval"`
	MinIdle       time.Duration `mapstructure:"min_idle"`
	MaxDeliveries int64         `mapstructure:"max_deliveries"`
	MaxFetch      int64         `mapstructure:"max_fetch"`
	Batch         bool          `mapstructure:"batch"`
}

// StreamConfig contains configuration for stream consumption
type StreamConfig struct {
	Driver       string        `mapstructure:"driver"`
	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	Consumer     string        `mapstructure:"consumer"`
	BatchSize    int           `mapstructure:"batch_size"`
	Block        time.Duration `mapstructure:"block"`
	AckPolicy    AckPolicy     `mapstructure:"ack_policy"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	ReadBackoff  time.Duration `mapstructure:"read_backoff"`

	Reclaim ReclaimSettings `mapstructure:"reclaim"`
}

// DefaultStreamConfig returns default stream configuration
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Driver:       DriverRedis,
		Stream:       "inventory:snapshots",
		Group:        "salesflow",
		BatchSize:    100,
		Block:        2 * time.Second,
		AckPolicy:    AckAlways,
		PollInterval: 200 * time.Millisecond,
		ReadBackoff:  time.Second,
		Reclaim: ReclaimSettings{
			Enabled:       true,
			Interval:      10 * time.Second,
			MinIdle:       5 * time.Second,
			MaxDeliveries: 5,
			MaxFetch:      100,
		},
	}
}

// Validate validates the configuration
func (c StreamConfig) Validate() error {
	switch c.Driver {
	case DriverRedis, DriverKafka, DriverMemory:
	default:
		return fmt.Errorf("unknown stream driver %q", c.Driver)
	}

	if c.Stream == "" {
		return fmt.Errorf("stream name must be specified")
	}
	if c.Group == "" {
		return fmt.Errorf("consumer group must be specified")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	switch c.AckPolicy {
	case AckAlways, AckOnSuccess:
	default:
		return fmt.Errorf("unknown ack policy %q", c.AckPolicy)
	}

	if c.Driver == DriverKafka && c.AckPolicy == AckOnSuccess {
		return fmt.Errorf("ack policy %q is not available on the kafka driver", AckOnSuccess)
	}

	if c.Reclaim.Enabled {
		if c.Driver == DriverKafka {
			return fmt.Errorf("pending reclaim is not available on the kafka driver")
		}
		if c.Reclaim.Interval <= 0 {
			return fmt.Errorf("reclaim interval must be positive")
		}
		if c.Reclaim.MaxDeliveries <= 0 {
			return fmt.Errorf("reclaim max deliveries must be positive")
		}
	}

	return nil
}

// ConsumerConfig derives the consumer loop configuration.
func (c StreamConfig) ConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Name:         c.Stream,
		BatchSize:    c.BatchSize,
		AckPolicy:    c.AckPolicy,
		ReadBackoff:  c.ReadBackoff,
		PollInterval: c.PollInterval,
	}
}

// ReclaimConfig derives the reclaim manager configuration.
func (c StreamConfig) ReclaimConfig() ReclaimConfig {
	return ReclaimConfig{
		Stream:        c.Stream,
		Group:         c.Group,
		Consumer:      c.Consumer,
		Interval:      c.Reclaim.Interval,
		MinIdle:       c.Reclaim.MinIdle,
		MaxDeliveries: c.Reclaim.MaxDeliveries,
		MaxFetch:      c.Reclaim.MaxFetch,
		Batch:         c.Reclaim.Batch,
	}
}
