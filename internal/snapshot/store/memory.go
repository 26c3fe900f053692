package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/tidwall/btree"
)

type skuKey struct{ product, sku int64 }

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	histories map[skuKey]snapshot.SkuHistory
	// skus is ordered by product id and lists SKUs in first-seen order.
	skus       *btree.Map[int64, []int64]
	categories map[int64]catalog.Category
	order      []int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		histories:  make(map[skuKey]snapshot.SkuHistory),
		skus:       btree.NewMap[int64, []int64](32),
		categories: make(map[int64]catalog.Category),
	}
}

func (m *MemoryStore) Save(ctx context.Context, s snapshot.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := skuKey{s.ProductID, s.SkuID}
	if _, ok := m.histories[k]; !ok {
		skus, _ := m.skus.Get(s.ProductID)
		m.skus.Set(s.ProductID, append(skus, s.SkuID))
	}
	m.histories[k] = append(m.histories[k], s)
	return nil
}

func (m *MemoryStore) FindHistory(ctx context.Context, productID, skuID int64) (snapshot.SkuHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(snapshot.SkuHistory(nil), m.histories[skuKey{productID, skuID}]...), nil
}

func (m *MemoryStore) FindProductHistory(ctx context.Context, productID int64) (snapshot.ProductHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	skus, ok := m.skus.Get(productID)
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	out := make(snapshot.ProductHistory, len(skus))
	for _, sku := range skus {
		out[sku] = append(snapshot.SkuHistory(nil), m.histories[skuKey{productID, sku}]...)
	}
	return out, nil
}

func (m *MemoryStore) ProductIDs(ctx context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.skus.Keys(), nil
}

func (m *MemoryStore) SaveCategories(ctx context.Context, categories []catalog.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range categories {
		if _, ok := m.categories[c.ID]; !ok {
			m.order = append(m.order, c.ID)
		}
		m.categories[c.ID] = c
	}
	return nil
}

func (m *MemoryStore) Categories(ctx context.Context) ([]catalog.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.Category, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.categories[id])
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
