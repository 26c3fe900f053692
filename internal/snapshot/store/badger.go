package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Aidin1998/salesflow/internal/catalog"
	"github.com/Aidin1998/salesflow/internal/snapshot"
	"github.com/dgraph-io/badger/v3"
)

const (
	snapshotPrefix = "snap/"
	categoryPrefix = "cat/"
	sequenceKey    = "seq/snapshot"
)

// BadgerStore persists snapshots in BadgerDB. Keys are
// snap/{product}/{sku}/{seq} with a persistent sequence, so a prefix scan
// returns each SKU's snapshots in arrival order.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

// NewBadgerStore opens the store at path, or a throwaway in-memory store.
func NewBadgerStore(path string, inMemory bool) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 1000)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to lease snapshot sequence: %w", err)
	}
	return &BadgerStore{db: db, seq: seq}, nil
}

func snapshotKey(productID, skuID int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/%020d", snapshotPrefix, productID, skuID, seq))
}

func productPrefix(productID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d/", snapshotPrefix, productID))
}

func skuPrefix(productID, skuID int64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d/", snapshotPrefix, productID, skuID))
}

// Save stores the snapshot under the next sequence number.
func (s *BadgerStore) Save(ctx context.Context, snap snapshot.Snapshot) error {
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next snapshot sequence: %w", err)
	}
	value, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(snap.ProductID, snap.SkuID, n), value)
	})
}

func (s *BadgerStore) scan(prefix []byte, fn func(snapshot.Snapshot)) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var snap snapshot.Snapshot
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &snap)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			fn(snap)
		}
		return nil
	})
}

// FindHistory returns the SKU's snapshots in arrival order.
func (s *BadgerStore) FindHistory(ctx context.Context, productID, skuID int64) (snapshot.SkuHistory, error) {
	var out snapshot.SkuHistory
	err := s.scan(skuPrefix(productID, skuID), func(snap snapshot.Snapshot) {
		out = append(out, snap)
	})
	return out, err
}

// FindProductHistory returns every SKU history of the product.
func (s *BadgerStore) FindProductHistory(ctx context.Context, productID int64) (snapshot.ProductHistory, error) {
	out := make(snapshot.ProductHistory)
	err := s.scan(productPrefix(productID), func(snap snapshot.Snapshot) {
		out[snap.SkuID] = append(out[snap.SkuID], snap)
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return out, nil
}

// ProductIDs lists products with at least one snapshot, ascending.
func (s *BadgerStore) ProductIDs(ctx context.Context) ([]int64, error) {
	seen := make(map[int64]struct{})
	prefix := []byte(snapshotPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), snapshotPrefix)
			head, _, _ := strings.Cut(rest, "/")
			id, err := strconv.ParseInt(head, 10, 64)
			if err != nil {
				return fmt.Errorf("malformed snapshot key %q: %w", it.Item().Key(), err)
			}
			seen[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// SaveCategories upserts categories by id.
func (s *BadgerStore) SaveCategories(ctx context.Context, categories []catalog.Category) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range categories {
		value, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode category %d: %w", c.ID, err)
		}
		if err := wb.Set([]byte(fmt.Sprintf("%s%020d", categoryPrefix, c.ID)), value); err != nil {
			return fmt.Errorf("write category %d: %w", c.ID, err)
		}
	}
	return wb.Flush()
}

// Categories returns the stored categories ordered by id.
func (s *BadgerStore) Categories(ctx context.Context) ([]catalog.Category, error) {
	var out []catalog.Category
	prefix := []byte(categoryPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c catalog.Category
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &c) }); err != nil {
				return err
			}
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// Close releases the sequence lease and closes the database.
func (s *BadgerStore) Close() error {
	if err := s.seq.Release(); err != nil {
		s.db.Close()
		return fmt.Errorf("release snapshot sequence: %w", err)
	}
	return s.db.Close()
}
