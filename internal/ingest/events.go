// Package ingest turns inventory events into stored snapshots and daily
// sales deltas.
package ingest

import (
	"fmt"
	"time"

	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/shopspring/decimal"
)

// SkuObservation is the per-SKU part of a product observation.
type SkuObservation struct {
	SkuID           int64                     `json:"sku_id"`
	AvailableAmount int64                     `json:"available_amount"`
	Price           decimal.Decimal           `json:"price"`
	FullPrice       *decimal.Decimal          `json:"full_price,omitempty"`
	PhotoKey        string                    `json:"photo_key,omitempty"`
	Characteristics []snapshot.Characteristic `json:"characteristics,omitempty"`
}

// ProductObservation is the payload of a product.snapshot event: one
// observation of a product with all of its SKUs.
type ProductObservation struct {
	ProductID            int64            `json:"product_id"`
	CapturedAt           time.Time        `json:"captured_at"`
	TotalAvailableAmount int64            `json:"total_available_amount"`
	TotalOrderAmount     int64            `json:"total_order_amount"`
	ReviewsAmount        int64            `json:"reviews_amount"`
	Skus                 []SkuObservation `json:"skus"`
}

// Snapshots fans the observation out into one snapshot per SKU.
func (o ProductObservation) Snapshots() ([]snapshot.Snapshot, error) {
	if o.ProductID == 0 {
		return nil, fmt.Errorf("observation without product_id")
	}
	if o.CapturedAt.IsZero() {
		return nil, fmt.Errorf("observation of product %d without captured_at", o.ProductID)
	}
	out := make([]snapshot.Snapshot, 0, len(o.Skus))
	for _, sku := range o.Skus {
		out = append(out, snapshot.Snapshot{
			ProductID:            o.ProductID,
			SkuID:                sku.SkuID,
			CapturedAt:           o.CapturedAt,
			AvailableAmount:      sku.AvailableAmount,
			TotalAvailableAmount: o.TotalAvailableAmount,
			TotalOrderAmount:     o.TotalOrderAmount,
			Price:                sku.Price,
			FullPrice:            sku.FullPrice,
			ReviewsAmount:        o.ReviewsAmount,
			PhotoKey:             sku.PhotoKey,
			Characteristics:      sku.Characteristics,
		})
	}
	return out, nil
}

// ProductHistoryPayload is the payload of a product.history event.
type ProductHistoryPayload struct {
	ProductID int64               `json:"product_id"`
	Snapshots []snapshot.Snapshot `json:"snapshots"`
}

// History groups the snapshots by SKU, keeping their order.
func (p ProductHistoryPayload) History() snapshot.ProductHistory {
	h := make(snapshot.ProductHistory)
	for _, s := range p.Snapshots {
		if s.ProductID == 0 {
			s.ProductID = p.ProductID
		}
		h[s.SkuID] = append(h[s.SkuID], s)
	}
	return h
}

// CategoryTreePayload is the payload of a category.tree event.
type CategoryTreePayload struct {
	Categories []catalog.Node `json:"categories"`
}
