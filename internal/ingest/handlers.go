package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/Aidin1998/salesflow/internal/analytics"
	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/infrastructure/messaging"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/Aidin1998/salesflow/internal/snapshot/store"
	"github.com/Aidin1998/salesflow/pkg/metrics"
	"go.uber.org/zap"
)

// SnapshotHandler stores product observations.
type SnapshotHandler struct {
	store  store.Store
	logger *zap.Logger
}

// NewSnapshotHandler stores every observation of product.snapshot events.
func NewSnapshotHandler(s store.Store, logger *zap.Logger) *SnapshotHandler {
	return &SnapshotHandler{store: s, logger: logger}
}

func (h *SnapshotHandler) Name() string { return "snapshot" }

func (h *SnapshotHandler) IsHandle(e messaging.Event) bool {
	return e.Type == messaging.MsgProductSnapshot
}

// Handle saves every SKU snapshot of every event. All writes are attempted;
// the errors are returned joined so the batch is reported failed.
func (h *SnapshotHandler) Handle(ctx context.Context, events []messaging.Event) error {
	var errs []error
	for _, e := range events {
		var obs ProductObservation
		if err := e.Unmarshal(&obs); err != nil {
			errs = append(errs, err)
			continue
		}
		snaps, err := obs.Snapshots()
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", messaging.ErrInvalidEvent, err))
			continue
		}
		for _, s := range snaps {
			if err := h.store.Save(ctx, s); err != nil {
				metrics.SnapshotsSaved.WithLabelValues("failure").Inc()
				errs = append(errs, fmt.Errorf("save snapshot %d/%d: %w", s.ProductID, s.SkuID, err))
				continue
			}
			metrics.SnapshotsSaved.WithLabelValues("success").Inc()
		}
		h.logger.Debug("Stored product observation",
			zap.Int64("product_id", obs.ProductID),
			zap.Int("skus", len(snaps)),
			zap.String("stream_id", e.StreamID))
	}
	return errors.Join(errs...)
}

// HistoryHandler reconstructs full product histories sent by backfills.
type HistoryHandler struct {
	reconstructor *snapshot.Reconstructor
	sink          analytics.Sink
	logger        *zap.Logger
}

// NewHistoryHandler reconstructs product.history events and writes the deltas
// to sink.
func NewHistoryHandler(r *snapshot.Reconstructor, sink analytics.Sink, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{reconstructor: r, sink: sink, logger: logger}
}

func (h *HistoryHandler) Name() string { return "history" }

func (h *HistoryHandler) IsHandle(e messaging.Event) bool {
	return e.Type == messaging.MsgProductHistory
}

func (h *HistoryHandler) Handle(ctx context.Context, events []messaging.Event) error {
	var deltas []snapshot.DailyDelta
	var errs []error
	for _, e := range events {
		var p ProductHistoryPayload
		if err := e.Unmarshal(&p); err != nil {
			errs = append(errs, err)
			continue
		}
		deltas = append(deltas, h.reconstructor.ReconstructProduct(p.History())...)
	}

	if len(deltas) > 0 {
		if err := h.sink.InsertBatch(ctx, deltas); err != nil {
			errs = append(errs, fmt.Errorf("insert %d deltas: %w", len(deltas), err))
		} else {
			metrics.DeltasEmitted.Add(float64(len(deltas)))
			h.logger.Info("Inserted reconstructed deltas", zap.Int("deltas", len(deltas)), zap.Int("events", len(events)))
		}
	}
	return errors.Join(errs...)
}

// CategoryHandler stores category trees.
type CategoryHandler struct {
	store  store.CategoryStore
	logger *zap.Logger
}

// NewCategoryHandler validates and upserts category.tree events.
func NewCategoryHandler(s store.CategoryStore, logger *zap.Logger) *CategoryHandler {
	return &CategoryHandler{store: s, logger: logger}
}

func (h *CategoryHandler) Name() string { return "category" }

func (h *CategoryHandler) IsHandle(e messaging.Event) bool {
	return e.Type == messaging.MsgCategoryTree
}

func (h *CategoryHandler) Handle(ctx context.Context, events []messaging.Event) error {
	var errs []error
	for _, e := range events {
		var p CategoryTreePayload
		if err := e.Unmarshal(&p); err != nil {
			errs = append(errs, err)
			continue
		}
		tree, err := catalog.NewTree(catalog.Flatten(p.Categories...))
		if err == nil {
			err = tree.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", messaging.ErrInvalidEvent, err))
			continue
		}
		if err := h.store.SaveCategories(ctx, tree.Categories()); err != nil {
			errs = append(errs, fmt.Errorf("save %d categories: %w", tree.Len(), err))
			continue
		}
		h.logger.Debug("Stored category tree", zap.Int("categories", tree.Len()))
	}
	return errors.Join(errs...)
}
