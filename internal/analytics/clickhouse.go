package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink appends deltas to a ReplacingMergeTree table; rerunning a
// reconstruction replaces the rows of the same (product, sku, date).
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink connects and ensures the table exists.
func NewClickHouseSink(ctx context.Context, cfg Config) (*ClickHouseSink, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", cfg.Table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	s := &ClickHouseSink{conn: conn, table: cfg.Table}
	if err := s.EnsureTable(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// EnsureTable creates the deltas table when missing.
func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			product_id Int64,
			sku_id Int64,
			date Date,
			order_amount Int64,
			revenue_amount Decimal(18, 4),
			price Decimal(18, 4),
			full_price Nullable(Decimal(18, 4)),
			available_amount Int64,
			reviews_amount Int64,
			reviews_amount_delta Int64,
			photo_key String,
			characteristics String CODEC(ZSTD(1)),
			inserted_at DateTime64(3) DEFAULT now64(3)
		) ENGINE = ReplacingMergeTree(inserted_at)
		ORDER BY (product_id, sku_id, date)
	`, s.table)
	if err := s.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// InsertBatch sends all deltas in one batch.
func (s *ClickHouseSink) InsertBatch(ctx context.Context, deltas []snapshot.DailyDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	query := fmt.Sprintf(`INSERT INTO %s (product_id, sku_id, date, order_amount, revenue_amount, price,
		full_price, available_amount, reviews_amount, reviews_amount_delta, photo_key, characteristics) VALUES`, s.table)
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for _, d := range deltas {
		chars, err := json.Marshal(d.Characteristics)
		if err != nil {
			return fmt.Errorf("encode characteristics: %w", err)
		}
		err = batch.Append(
			d.ProductID,
			d.SkuID,
			d.Date,
			d.OrderAmount,
			d.RevenueAmount,
			d.Price,
			d.FullPrice,
			d.AvailableAmount,
			d.ReviewsAmount,
			d.ReviewsAmountDelta,
			d.PhotoKey,
			string(chars),
		)
		if err != nil {
			return fmt.Errorf("append delta %d/%d: %w", d.ProductID, d.SkuID, err)
		}
	}

	return batch.Send()
}

func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
