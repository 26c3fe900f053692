package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore keeps snapshots in an append-only table. The bigserial id
// preserves arrival order.
type PostgresStore struct {
	Pool *pgxpool.Pool
}

// NewPostgresStore connects a pool and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresStore{Pool: pool}, nil
}

// EnsureSchema creates the tables when missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS sku_snapshots (
  id bigserial PRIMARY KEY,
  product_id bigint NOT NULL,
  sku_id bigint NOT NULL,
  captured_at timestamptz NOT NULL,
  available_amount bigint NOT NULL,
  total_available_amount bigint NOT NULL,
  total_order_amount bigint NOT NULL,
  price numeric NOT NULL,
  full_price numeric,
  reviews_amount bigint NOT NULL,
  photo_key text NOT NULL DEFAULT '',
  characteristics jsonb NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS sku_snapshots_product_sku_idx ON sku_snapshots (product_id, sku_id, id);
CREATE TABLE IF NOT EXISTS categories (
  id bigint PRIMARY KEY,
  parent_id bigint NOT NULL DEFAULT 0,
  title text NOT NULL
);`)
	return err
}

const selectSnapshots = `SELECT product_id, sku_id, captured_at, available_amount, total_available_amount,
  total_order_amount, price::text, full_price::text, reviews_amount, photo_key, characteristics
FROM sku_snapshots`

func (r *PostgresStore) Save(ctx context.Context, s snapshot.Snapshot) error {
	chars, err := json.Marshal(characteristicsOrEmpty(s.Characteristics))
	if err != nil {
		return fmt.Errorf("encode characteristics: %w", err)
	}
	var fullPrice *string
	if s.FullPrice != nil {
		v := s.FullPrice.String()
		fullPrice = &v
	}
	_, err = r.Pool.Exec(ctx, `INSERT INTO sku_snapshots(product_id, sku_id, captured_at, available_amount,
  total_available_amount, total_order_amount, price, full_price, reviews_amount, photo_key, characteristics)
VALUES($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10, $11)`,
		s.ProductID, s.SkuID, s.CapturedAt, s.AvailableAmount, s.TotalAvailableAmount, s.TotalOrderAmount,
		s.Price.String(), fullPrice, s.ReviewsAmount, s.PhotoKey, chars)
	if err != nil {
		return fmt.Errorf("insert snapshot %d/%d: %w", s.ProductID, s.SkuID, err)
	}
	return nil
}

func (r *PostgresStore) FindHistory(ctx context.Context, productID, skuID int64) (snapshot.SkuHistory, error) {
	rows, err := r.Pool.Query(ctx, selectSnapshots+` WHERE product_id = $1 AND sku_id = $2 ORDER BY id`, productID, skuID)
	if err != nil {
		return nil, err
	}
	var out snapshot.SkuHistory
	err = scanSnapshots(rows, func(s snapshot.Snapshot) { out = append(out, s) })
	return out, err
}

func (r *PostgresStore) FindProductHistory(ctx context.Context, productID int64) (snapshot.ProductHistory, error) {
	rows, err := r.Pool.Query(ctx, selectSnapshots+` WHERE product_id = $1 ORDER BY sku_id, id`, productID)
	if err != nil {
		return nil, err
	}
	out := make(snapshot.ProductHistory)
	if err := scanSnapshots(rows, func(s snapshot.Snapshot) { out[s.SkuID] = append(out[s.SkuID], s) }); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return out, nil
}

func (r *PostgresStore) ProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.Pool.Query(ctx, `SELECT DISTINCT product_id FROM sku_snapshots ORDER BY product_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *PostgresStore) SaveCategories(ctx context.Context, categories []catalog.Category) error {
	b := &pgx.Batch{}
	for _, c := range categories {
		b.Queue(`INSERT INTO categories(id, parent_id, title) VALUES($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET parent_id = EXCLUDED.parent_id, title = EXCLUDED.title`,
			c.ID, c.ParentID, c.Title)
	}
	br := r.Pool.SendBatch(ctx, b)
	for range categories {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("upsert categories: %w", err)
		}
	}
	return br.Close()
}

func (r *PostgresStore) Categories(ctx context.Context) ([]catalog.Category, error) {
	rows, err := r.Pool.Query(ctx, `SELECT id, parent_id, title FROM categories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (catalog.Category, error) {
		var c catalog.Category
		err := row.Scan(&c.ID, &c.ParentID, &c.Title)
		return c, err
	})
}

func (r *PostgresStore) Close() error {
	r.Pool.Close()
	return nil
}

func scanSnapshots(rows pgx.Rows, fn func(snapshot.Snapshot)) error {
	defer rows.Close()
	for rows.Next() {
		var (
			s         snapshot.Snapshot
			price     string
			fullPrice *string
			chars     []byte
		)
		if err := rows.Scan(&s.ProductID, &s.SkuID, &s.CapturedAt, &s.AvailableAmount, &s.TotalAvailableAmount,
			&s.TotalOrderAmount, &price, &fullPrice, &s.ReviewsAmount, &s.PhotoKey, &chars); err != nil {
			return err
		}
		p, err := decimal.NewFromString(price)
		if err != nil {
			return fmt.Errorf("parse price %q: %w", price, err)
		}
		s.Price = p
		if fullPrice != nil {
			fp, err := decimal.NewFromString(*fullPrice)
			if err != nil {
				return fmt.Errorf("parse full price %q: %w", *fullPrice, err)
			}
			s.FullPrice = &fp
		}
		if err := json.Unmarshal(chars, &s.Characteristics); err != nil {
			return fmt.Errorf("decode characteristics: %w", err)
		}
		if len(s.Characteristics) == 0 {
			s.Characteristics = nil
		}
		fn(s)
	}
	return rows.Err()
}

func characteristicsOrEmpty(c []snapshot.Characteristic) []snapshot.Characteristic {
	if c == nil {
		return []snapshot.Characteristic{}
	}
	return c
}
