// Package snapshot holds the inventory snapshot model and the daily sales
// reconstruction built on top of it.
package snapshot

import (
	"time"

	"github.com/shopspring/decimal"
)

// Characteristic is one variant attribute of a SKU (color, size, ...).
type Characteristic struct {
	Type  string `json:"type"`
	Title string `json:"title"`
}

// Snapshot is one timestamped observation of a SKU. Snapshots are never
// mutated after they are stored.
type Snapshot struct {
	ProductID            int64            `json:"product_id"`
	SkuID                int64            `json:"sku_id"`
	CapturedAt           time.Time        `json:"captured_at"`
	AvailableAmount      int64            `json:"available_amount"`       // sku-level stock
	TotalAvailableAmount int64            `json:"total_available_amount"` // product-level stock
	TotalOrderAmount     int64            `json:"total_order_amount"`     // cumulative since product creation
	Price                decimal.Decimal  `json:"price"`
	FullPrice            *decimal.Decimal `json:"full_price,omitempty"`
	ReviewsAmount        int64            `json:"reviews_amount"`
	PhotoKey             string           `json:"photo_key,omitempty"`
	Characteristics      []Characteristic `json:"characteristics,omitempty"`
}

// SkuHistory is the snapshot sequence of one (product, sku). After
// normalization it is ascending by CapturedAt with one entry per day.
type SkuHistory []Snapshot

// Last returns the latest snapshot, false for an empty history.
func (h SkuHistory) Last() (Snapshot, bool) {
	if len(h) == 0 {
		return Snapshot{}, false
	}
	return h[len(h)-1], true
}

// ProductHistory groups the histories of every SKU of a product by SKU id.
type ProductHistory map[int64]SkuHistory

// Siblings returns the product history without the given SKU.
func (p ProductHistory) Siblings(skuID int64) ProductHistory {
	siblings := make(ProductHistory, len(p))
	for id, h := range p {
		if id != skuID {
			siblings[id] = h
		}
	}
	return siblings
}

// DailyDelta is the reconstructed activity of one SKU on one calendar day.
type DailyDelta struct {
	ProductID          int64            `json:"product_id"`
	SkuID              int64            `json:"sku_id"`
	Date               time.Time        `json:"date"`
	OrderAmount        int64            `json:"order_amount"`
	RevenueAmount      decimal.Decimal  `json:"revenue_amount"`
	Price              decimal.Decimal  `json:"price"`
	FullPrice          *decimal.Decimal `json:"full_price,omitempty"`
	AvailableAmount    int64            `json:"available_amount"`
	ReviewsAmount      int64            `json:"reviews_amount"`
	ReviewsAmountDelta int64            `json:"reviews_amount_delta"`
	PhotoKey           string           `json:"photo_key,omitempty"`
	Characteristics    []Characteristic `json:"characteristics,omitempty"`
}
