package snapshot

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(sku int64, day int, available, totalOrders int64) Snapshot {
	return Snapshot{
		ProductID:        100,
		SkuID:            sku,
		CapturedAt:       at(day, 0),
		AvailableAmount:  available,
		TotalOrderAmount: totalOrders,
		Price:            decimal.RequireFromString("12.50"),
	}
}

func orders(deltas []DailyDelta) []int64 {
	out := make([]int64, len(deltas))
	for i, d := range deltas {
		out[i] = d.OrderAmount
	}
	return out
}

func TestReconstructDepletionTrustsStockOverCounter(t *testing.T) {
	history := SkuHistory{snap(1, 0, 100, 10), snap(1, 1, 80, 20)}

	deltas := NewReconstructor(nil).Reconstruct(history, nil)

	require.Len(t, deltas, 2)
	assert.Equal(t, int64(20), deltas[0].OrderAmount)
	assert.True(t, decimal.NewFromInt(250).Equal(deltas[0].RevenueAmount))
	assert.Equal(t, int64(80), deltas[0].AvailableAmount)
	assert.Equal(t, Day(at(0, 0), nil), deltas[0].Date)
}

func TestReconstructRestockSingleSku(t *testing.T) {
	history := SkuHistory{snap(1, 0, 10, 5), snap(1, 1, 50, 8)}

	deltas := NewReconstructor(nil).Reconstruct(history, nil)

	require.Len(t, deltas, 2)
	assert.Equal(t, int64(3), deltas[0].OrderAmount)
}

func TestReconstructCounterNotAdvancing(t *testing.T) {
	for _, next := range []int64{50, 40} {
		history := SkuHistory{snap(1, 0, 100, 50), snap(1, 1, 10, next)}
		deltas := NewReconstructor(nil).Reconstruct(history, nil)
		require.Len(t, deltas, 2)
		assert.Zero(t, deltas[0].OrderAmount, "next total %d", next)
		assert.True(t, deltas[0].RevenueAmount.IsZero())
	}
}

func TestReconstructMonotonicDepletion(t *testing.T) {
	history := SkuHistory{
		snap(1, 0, 100, 1),
		snap(1, 1, 90, 2),
		snap(1, 2, 90, 3),
		snap(1, 3, 70, 4),
		snap(1, 4, 65, 5),
	}

	deltas := NewReconstructor(nil).Reconstruct(history, nil)

	assert.Equal(t, []int64{10, 0, 20, 5, 0}, orders(deltas))
	var sum int64
	for _, d := range deltas {
		sum += d.OrderAmount
	}
	assert.Equal(t, history[0].AvailableAmount-history[len(history)-1].AvailableAmount, sum)
}

func TestReconstructLastDayCarriesLatestState(t *testing.T) {
	last := snap(1, 1, 80, 20)
	last.ReviewsAmount = 7
	last.PhotoKey = "photo-2"
	history := SkuHistory{snap(1, 0, 100, 10), last}

	deltas := NewReconstructor(nil).Reconstruct(history, nil)

	tail := deltas[len(deltas)-1]
	assert.Zero(t, tail.OrderAmount)
	assert.Equal(t, int64(80), tail.AvailableAmount)
	assert.Equal(t, int64(7), tail.ReviewsAmount)
	assert.Equal(t, "photo-2", tail.PhotoKey)
	assert.Equal(t, Day(at(1, 0), nil), tail.Date)
}

func TestReconstructReviewsDeltaAndAnchors(t *testing.T) {
	current := snap(1, 0, 100, 10)
	current.ReviewsAmount = 3
	next := snap(1, 1, 80, 20)
	next.ReviewsAmount = 5
	next.Price = decimal.RequireFromString("99")
	next.Characteristics = []Characteristic{{Type: "color", Title: "red"}}

	deltas := NewReconstructor(nil).Reconstruct(SkuHistory{current, next}, nil)

	assert.Equal(t, int64(2), deltas[0].ReviewsAmountDelta)
	assert.True(t, current.Price.Equal(deltas[0].Price), "revenue uses the earlier day's price")
	assert.Equal(t, next.Characteristics, deltas[0].Characteristics)
}

func TestReconstructSkipsGaps(t *testing.T) {
	history := SkuHistory{snap(1, 0, 100, 10), snap(1, 2, 80, 20), snap(1, 3, 70, 25)}

	deltas := NewReconstructor(nil).Reconstruct(history, nil)

	require.Len(t, deltas, 2)
	assert.Equal(t, Day(at(2, 0), nil), deltas[0].Date)
	assert.Equal(t, int64(10), deltas[0].OrderAmount)
}

func TestReconstructEmptyHistory(t *testing.T) {
	assert.Empty(t, NewReconstructor(nil).Reconstruct(nil, nil))

	single := NewReconstructor(nil).Reconstruct(SkuHistory{snap(1, 0, 5, 1)}, nil)
	require.Len(t, single, 1)
	assert.Zero(t, single[0].OrderAmount)
}

func TestReconstructRestockSplitsAcrossRestockedSiblings(t *testing.T) {
	history := SkuHistory{snap(1, 0, 10, 5), snap(1, 1, 50, 17)}
	siblings := ProductHistory{
		2: {snap(2, 0, 5, 0), snap(2, 1, 20, 0)},  // restocked too
		3: {snap(3, 0, 30, 0), snap(3, 1, 25, 0)}, // depleted
	}

	deltas := NewReconstructor(nil).Reconstruct(history, siblings)

	assert.Equal(t, int64(6), deltas[0].OrderAmount)
}

func TestReconstructRestockCountsUnchangedSiblingAsRestocked(t *testing.T) {
	history := SkuHistory{snap(1, 0, 10, 5), snap(1, 1, 50, 15)}
	siblings := ProductHistory{
		2: {snap(2, 0, 7, 0), snap(2, 1, 7, 0)},   // stock unchanged
		3: {snap(3, 0, 30, 0), snap(3, 1, 28, 0)}, // depleted
	}

	deltas := NewReconstructor(nil).Reconstruct(history, siblings)

	assert.Equal(t, int64(5), deltas[0].OrderAmount)
}

func TestReconstructRestockSubtractsSiblingDepletion(t *testing.T) {
	history := SkuHistory{snap(1, 0, 10, 5), snap(1, 1, 50, 17)}
	siblings := ProductHistory{
		2: {snap(2, 0, 30, 0), snap(2, 1, 26, 0)},
	}

	deltas := NewReconstructor(nil).Reconstruct(history, siblings)

	assert.Equal(t, int64(8), deltas[0].OrderAmount)
}

func TestReconstructRestockFallsBackToEvenSplit(t *testing.T) {
	history := SkuHistory{snap(1, 0, 10, 5), snap(1, 1, 50, 8)}

	t.Run("siblings depleted more than the counter moved", func(t *testing.T) {
		siblings := ProductHistory{2: {snap(2, 0, 30, 0), snap(2, 1, 25, 0)}}
		deltas := NewReconstructor(nil).Reconstruct(history, siblings)
		assert.Equal(t, int64(1), deltas[0].OrderAmount)
	})

	t.Run("siblings without snapshots that day", func(t *testing.T) {
		siblings := ProductHistory{
			2: {snap(2, 5, 30, 0)},
			3: {},
		}
		deltas := NewReconstructor(nil).Reconstruct(history, siblings)
		assert.Equal(t, int64(1), deltas[0].OrderAmount)
	})
}

func TestReconstructIsIdempotent(t *testing.T) {
	product := ProductHistory{
		1: {snap(1, 0, 10, 5), snap(1, 1, 50, 17), snap(1, 2, 45, 20)},
		2: {snap(2, 0, 5, 0), snap(2, 1, 20, 0), snap(2, 2, 18, 0)},
	}
	r := NewReconstructor(nil)

	first := r.ReconstructProduct(product)
	second := r.ReconstructProduct(product)

	assert.Equal(t, first, second)
}

func TestReconstructProductOrdersBySku(t *testing.T) {
	product := ProductHistory{
		7: {snap(7, 0, 10, 1)},
		3: {snap(3, 1, 10, 1), snap(3, 0, 12, 0), snap(3, 0, 99, 0)},
	}

	deltas := NewReconstructor(nil).ReconstructProduct(product)

	require.Len(t, deltas, 3)
	assert.Equal(t, int64(3), deltas[0].SkuID)
	assert.Equal(t, int64(2), deltas[0].OrderAmount, "normalized before reconstruction")
	assert.Equal(t, int64(7), deltas[2].SkuID)
}
