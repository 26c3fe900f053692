package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/Aidin1998/salesflow/internal/analytics"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/Aidin1998/salesflow/internal/snapshot/store"
	"github.com/Aidin1998/salesflow/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// JobReport summarizes one reconstruction run.
type JobReport struct {
	Products int64 `json:"products"`
	Skipped  int64 `json:"skipped"`
	Deltas   int64 `json:"deltas"`
}

// Job rebuilds daily deltas from stored histories. Products run in
// parallel; the SKUs of one product are reconstructed together.
type Job struct {
	store         store.Store
	sink          analytics.Sink
	reconstructor *snapshot.Reconstructor
	workers       int
	logger        *zap.Logger
}

// NewJob creates a job running at most workers products at once; zero or
// less means 4.
func NewJob(s store.Store, sink analytics.Sink, r *snapshot.Reconstructor, workers int, logger *zap.Logger) *Job {
	if workers <= 0 {
		workers = 4
	}
	return &Job{store: s, sink: sink, reconstructor: r, workers: workers, logger: logger}
}

// Run reconstructs the given products. Products without snapshots are
// skipped; the first other error cancels the remaining work.
func (j *Job) Run(ctx context.Context, productIDs []int64) (JobReport, error) {
	var products, skipped, deltas atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.workers)
	for _, id := range productIDs {
		g.Go(func() error {
			n, err := j.reconstruct(gctx, id)
			if errors.Is(err, store.ErrNotFound) {
				skipped.Add(1)
				j.logger.Warn("No snapshots for product, skipping", zap.Int64("product_id", id))
				return nil
			}
			if err != nil {
				return fmt.Errorf("product %d: %w", id, err)
			}
			products.Add(1)
			deltas.Add(int64(n))
			return nil
		})
	}
	err := g.Wait()

	report := JobReport{Products: products.Load(), Skipped: skipped.Load(), Deltas: deltas.Load()}
	j.logger.Info("Reconstruction finished",
		zap.Int64("products", report.Products),
		zap.Int64("skipped", report.Skipped),
		zap.Int64("deltas", report.Deltas),
		zap.Error(err))
	return report, err
}

// RunAll reconstructs every product in the store.
func (j *Job) RunAll(ctx context.Context) (JobReport, error) {
	ids, err := j.store.ProductIDs(ctx)
	if err != nil {
		return JobReport{}, fmt.Errorf("list products: %w", err)
	}
	return j.Run(ctx, ids)
}

func (j *Job) reconstruct(ctx context.Context, productID int64) (int, error) {
	history, err := j.store.FindProductHistory(ctx, productID)
	if err != nil {
		return 0, err
	}
	deltas := j.reconstructor.ReconstructProduct(history)
	if err := j.sink.InsertBatch(ctx, deltas); err != nil {
		return 0, fmt.Errorf("insert deltas: %w", err)
	}
	metrics.DeltasEmitted.Add(float64(len(deltas)))
	return len(deltas), nil
}
