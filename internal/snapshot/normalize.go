package snapshot

import (
	"sort"
	"time"
)

// Day truncates t to the start of its calendar day in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// DaysBetween returns the number of calendar days from a to b in loc.
// DST shifts do not affect the result.
func DaysBetween(a, b time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	from := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	to := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// Normalizer reduces a raw SKU history to one snapshot per calendar day.
type Normalizer struct {
	Location *time.Location
}

// Normalize keeps the first snapshot of every calendar day in arrival order,
// drops the later ones of the same day and sorts the result by CapturedAt.
// The input is not modified.
func (n Normalizer) Normalize(history SkuHistory) SkuHistory {
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}

	seen := make(map[time.Time]struct{}, len(history))
	out := make(SkuHistory, 0, len(history))
	for _, s := range history {
		day := Day(s.CapturedAt, loc)
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CapturedAt.Before(out[j].CapturedAt)
	})
	return out
}

// NormalizeProduct normalizes every SKU history of a product.
func (n Normalizer) NormalizeProduct(product ProductHistory) ProductHistory {
	out := make(ProductHistory, len(product))
	for skuID, h := range product {
		out[skuID] = n.Normalize(h)
	}
	return out
}
