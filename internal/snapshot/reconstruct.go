package snapshot

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Reconstructor infers daily order deltas from consecutive snapshots.
type Reconstructor struct {
	Location *time.Location
}

// NewReconstructor returns a Reconstructor evaluating calendar days in loc.
func NewReconstructor(loc *time.Location) *Reconstructor {
	if loc == nil {
		loc = time.UTC
	}
	return &Reconstructor{Location: loc}
}

func (r *Reconstructor) location() *time.Location {
	if r == nil || r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// siblingDays indexes one sibling's normalized history by calendar day.
type siblingDays map[time.Time]Snapshot

// Reconstruct converts a normalized history into one DailyDelta per adjacent
// day pair plus a zero-order record for the latest snapshot. Pairs more than
// one calendar day apart produce nothing. siblings must not contain the SKU
// being reconstructed.
func (r *Reconstructor) Reconstruct(history SkuHistory, siblings ProductHistory) []DailyDelta {
	if len(history) == 0 {
		return nil
	}
	loc := r.location()

	index := make([]siblingDays, 0, len(siblings))
	for _, h := range siblings {
		days := make(siblingDays, len(h))
		for _, s := range h {
			day := Day(s.CapturedAt, loc)
			if _, ok := days[day]; !ok {
				days[day] = s
			}
		}
		index = append(index, days)
	}

	deltas := make([]DailyDelta, 0, len(history))
	for i := 0; i < len(history)-1; i++ {
		current, next := history[i], history[i+1]
		if DaysBetween(current.CapturedAt, next.CapturedAt, loc) > 1 {
			continue
		}
		orders := r.orderAmount(current, next, index, len(siblings))
		deltas = append(deltas, DailyDelta{
			ProductID:          current.ProductID,
			SkuID:              current.SkuID,
			Date:               Day(current.CapturedAt, loc),
			OrderAmount:        orders,
			RevenueAmount:      current.Price.Mul(decimal.NewFromInt(orders)),
			Price:              current.Price,
			FullPrice:          next.FullPrice,
			AvailableAmount:    next.AvailableAmount,
			ReviewsAmount:      next.ReviewsAmount,
			ReviewsAmountDelta: next.ReviewsAmount - current.ReviewsAmount,
			PhotoKey:           next.PhotoKey,
			Characteristics:    next.Characteristics,
		})
	}

	last := history[len(history)-1]
	deltas = append(deltas, DailyDelta{
		ProductID:       last.ProductID,
		SkuID:           last.SkuID,
		Date:            Day(last.CapturedAt, loc),
		OrderAmount:     0,
		RevenueAmount:   decimal.Zero,
		Price:           last.Price,
		FullPrice:       last.FullPrice,
		AvailableAmount: last.AvailableAmount,
		ReviewsAmount:   last.ReviewsAmount,
		PhotoKey:        last.PhotoKey,
		Characteristics: last.Characteristics,
	})
	return deltas
}

// orderAmount applies the counter/restock/depletion rules to one day pair.
// A pure depletion trusts the stock drop over the counter delta.
func (r *Reconstructor) orderAmount(current, next Snapshot, siblings []siblingDays, siblingCount int) int64 {
	if next.TotalOrderAmount <= current.TotalOrderAmount {
		return 0
	}
	if next.AvailableAmount <= current.AvailableAmount {
		return current.AvailableAmount - next.AvailableAmount
	}

	// d > 0 is guaranteed by the counter check above.
	d := next.TotalOrderAmount - current.TotalOrderAmount

	loc := r.location()
	day := Day(current.CapturedAt, loc)
	following := day.AddDate(0, 0, 1)

	var highAvailabilityCount, siblingsOrderAmount int64
	for _, days := range siblings {
		prev, ok := days[day]
		if !ok {
			continue
		}
		after, ok := days[following]
		if !ok {
			continue
		}
		if prev.AvailableAmount > after.AvailableAmount {
			siblingsOrderAmount += prev.AvailableAmount - after.AvailableAmount
		} else {
			highAvailabilityCount++
		}
	}

	switch {
	case highAvailabilityCount > 0:
		return d / (highAvailabilityCount + 1)
	case siblingsOrderAmount > 0 && d > siblingsOrderAmount:
		return d - siblingsOrderAmount
	default:
		return d / int64(siblingCount+1)
	}
}

// ReconstructProduct normalizes every SKU of a product and reconstructs each
// one against its siblings. Output is grouped by ascending SKU id.
func (r *Reconstructor) ReconstructProduct(product ProductHistory) []DailyDelta {
	normalized := Normalizer{Location: r.location()}.NormalizeProduct(product)

	skuIDs := make([]int64, 0, len(normalized))
	for id := range normalized {
		skuIDs = append(skuIDs, id)
	}
	sort.Slice(skuIDs, func(i, j int) bool { return skuIDs[i] < skuIDs[j] })

	var deltas []DailyDelta
	for _, id := range skuIDs {
		deltas = append(deltas, r.Reconstruct(normalized[id], normalized.Siblings(id))...)
	}
	return deltas
}
