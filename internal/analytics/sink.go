// Package analytics writes reconstructed daily deltas to the analytics store.
package analytics

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aidin1998/salesflow/internal/snapshot"
)

// Sink is the append-only analytics store.
type Sink interface {
	InsertBatch(ctx context.Context, deltas []snapshot.DailyDelta) error
	Close() error
}

// Config selects and configures a sink.
type Config struct {
	Driver   string `mapstructure:"driver"`
	Addr     string `mapstructure:"addr"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Table    string `mapstructure:"table"`
}

// Sink drivers.
const (
	DriverMemory     = "memory"
	DriverClickHouse = "clickhouse"
)

// Validate validates the configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverClickHouse:
		if c.Addr == "" {
			return fmt.Errorf("clickhouse sink needs an addr")
		}
		if c.Table == "" {
			return fmt.Errorf("clickhouse sink needs a table")
		}
		return nil
	default:
		return fmt.Errorf("unknown analytics driver %q", c.Driver)
	}
}

// Open connects the configured sink.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemorySink(), nil
	case DriverClickHouse:
		return NewClickHouseSink(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown analytics driver %q", cfg.Driver)
	}
}

// MemorySink collects deltas in memory.
type MemorySink struct {
	mu      sync.Mutex
	deltas  []snapshot.DailyDelta
	batches int
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) InsertBatch(ctx context.Context, deltas []snapshot.DailyDelta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(deltas) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, deltas...)
	s.batches++
	return nil
}

// Deltas returns everything inserted so far.
func (s *MemorySink) Deltas() []snapshot.DailyDelta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]snapshot.DailyDelta(nil), s.deltas...)
}

// Batches returns the number of non-empty InsertBatch calls.
func (s *MemorySink) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

func (s *MemorySink) Close() error { return nil }
