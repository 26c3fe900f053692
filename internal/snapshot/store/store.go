// Package store persists inventory snapshots and categories.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/snapshot"
)

// ErrNotFound is returned when a product has no stored snapshots.
var ErrNotFound = errors.New("not found")

// Store is the snapshot document store. Histories come back in arrival
// order; normalization happens in the reconstruction layer.
type Store interface {
	Save(ctx context.Context, s snapshot.Snapshot) error
	FindHistory(ctx context.Context, productID, skuID int64) (snapshot.SkuHistory, error)
	FindProductHistory(ctx context.Context, productID int64) (snapshot.ProductHistory, error)
	ProductIDs(ctx context.Context) ([]int64, error)
	Close() error
}

// CategoryStore persists the flattened category arena.
type CategoryStore interface {
	SaveCategories(ctx context.Context, categories []catalog.Category) error
	Categories(ctx context.Context) ([]catalog.Category, error)
}

// SnapshotStore is what the ingest pipeline needs from one backend.
type SnapshotStore interface {
	Store
	CategoryStore
}

// Config selects and configures a backend.
type Config struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	InMemory bool   `mapstructure:"in_memory"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBadger   = "badger"
	DriverPostgres = "postgres"
)

// Validate validates the configuration
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
	case DriverBadger:
		if c.Path == "" && !c.InMemory {
			return fmt.Errorf("badger store needs a path or in_memory")
		}
	case DriverPostgres:
		if c.DSN == "" {
			return fmt.Errorf("postgres store needs a dsn")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Driver)
	}
	return nil
}

// Open connects the configured backend. Postgres schema is created when
// missing.
func Open(ctx context.Context, cfg Config) (SnapshotStore, error) {
	switch cfg.Driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverBadger:
		return NewBadgerStore(cfg.Path, cfg.InMemory)
	case DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN, cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
