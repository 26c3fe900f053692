package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observation(product, sku int64, capturedAt time.Time, available, total int64) snapshot.Snapshot {
	full := decimal.RequireFromString("15.00")
	return snapshot.Snapshot{
		ProductID:        product,
		SkuID:            sku,
		CapturedAt:       capturedAt,
		AvailableAmount:  available,
		TotalOrderAmount: total,
		Price:            decimal.RequireFromString("12.50"),
		FullPrice:        &full,
		ReviewsAmount:    3,
		PhotoKey:         "p/1.jpg",
		Characteristics:  []snapshot.Characteristic{{Type: "color", Title: "red"}},
	}
}

// runStoreSuite exercises the behaviour every backend shares.
func runStoreSuite(t *testing.T, s SnapshotStore) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// stored out of chronological order on purpose
	require.NoError(t, s.Save(ctx, observation(1, 10, base.Add(24*time.Hour), 80, 20)))
	require.NoError(t, s.Save(ctx, observation(1, 10, base, 100, 10)))
	require.NoError(t, s.Save(ctx, observation(1, 11, base, 5, 10)))
	require.NoError(t, s.Save(ctx, observation(2, 20, base, 1, 1)))

	h, err := s.FindHistory(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, int64(80), h[0].AvailableAmount, "arrival order is preserved")
	assert.Equal(t, int64(100), h[1].AvailableAmount)
	assert.True(t, h[1].CapturedAt.Equal(base))
	assert.True(t, decimal.RequireFromString("12.5").Equal(h[0].Price))
	require.NotNil(t, h[0].FullPrice)
	assert.True(t, decimal.RequireFromString("15").Equal(*h[0].FullPrice))
	assert.Equal(t, []snapshot.Characteristic{{Type: "color", Title: "red"}}, h[0].Characteristics)

	empty, err := s.FindHistory(ctx, 1, 99)
	require.NoError(t, err)
	assert.Empty(t, empty)

	product, err := s.FindProductHistory(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, product, 2)
	assert.Len(t, product[10], 2)
	assert.Len(t, product[11], 1)

	_, err = s.FindProductHistory(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := s.ProductIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	cats := catalog.Flatten(catalog.Node{ID: 1, Title: "Home", Children: []catalog.Node{{ID: 2, Title: "Kitchen"}}})
	require.NoError(t, s.SaveCategories(ctx, cats))
	require.NoError(t, s.SaveCategories(ctx, []catalog.Category{{ID: 2, ParentID: 1, Title: "Kitchenware"}}))
	got, err := s.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []catalog.Category{{ID: 1, Title: "Home"}, {ID: 2, ParentID: 1, Title: "Kitchenware"}}, got)
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestBadgerStoreInMemory(t *testing.T) {
	s, err := NewBadgerStore("", true)
	require.NoError(t, err)
	defer s.Close()
	runStoreSuite(t, s)
}

func TestBadgerStorePersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	s, err := NewBadgerStore(dir, false)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, observation(7, 70, base, 10, 1)))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(dir, false)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Save(ctx, observation(7, 70, base.Add(time.Hour), 9, 2)))

	h, err := s.FindHistory(ctx, 7, 70)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, int64(10), h[0].AvailableAmount, "the sequence keeps growing across reopen")
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SALESFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SALESFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn, 4)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Pool.Exec(ctx, `TRUNCATE sku_snapshots, categories`)
	require.NoError(t, err)
	runStoreSuite(t, s)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Driver: DriverMemory}.Validate())
	assert.NoError(t, Config{Driver: DriverBadger, InMemory: true}.Validate())
	assert.Error(t, Config{Driver: DriverBadger}.Validate())
	assert.Error(t, Config{Driver: DriverPostgres}.Validate())
	assert.Error(t, Config{Driver: "mongo"}.Validate())
}

func TestOpenMemory(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
