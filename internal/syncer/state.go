package syncer

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"tokoku/internal/domain"
	"tokoku/internal/kv"
)

// Keys of the persisted local state.
const (
	keyStores     = "stores"
	keyCategories = "categories"
	keyProducts   = "products"
	keySales      = "sales"
	keyReturns    = "returns"
	keyCash       = "cash"
	keyQueue      = "queue"
	keyDeadLetter = "dead_letter"
	keyMeta       = "meta"
)

var collectionKeys = []string{keyStores, keyCategories, keyProducts, keySales, keyReturns, keyCash}

type meta struct {
	LastPull int64 `json:"last_pull"`
}

// state is the local store. Slices are never modified in place once they are
// part of a committed state; every change builds new slices.
type state struct {
	stores     []domain.Store
	products   []domain.Product
	categories []domain.Category
	sales      []domain.SaleRecord
	returns    []domain.ReturnRecord
	cash       []domain.CashReceipt
	queue      []domain.QueueItem
	deadLetter []domain.QueueItem
	meta       meta
}

func (s *state) value(key string) any {
	switch key {
	case keyStores:
		return s.stores
	case keyCategories:
		return s.categories
	case keyProducts:
		return s.products
	case keySales:
		return s.sales
	case keyReturns:
		return s.returns
	case keyCash:
		return s.cash
	case keyQueue:
		return s.queue
	case keyDeadLetter:
		return s.deadLetter
	case keyMeta:
		return s.meta
	}
	panic(fmt.Sprintf("syncer: unknown state key %q", key))
}

func (s *state) target(key string) any {
	switch key {
	case keyStores:
		return &s.stores
	case keyCategories:
		return &s.categories
	case keyProducts:
		return &s.products
	case keySales:
		return &s.sales
	case keyReturns:
		return &s.returns
	case keyCash:
		return &s.cash
	case keyQueue:
		return &s.queue
	case keyDeadLetter:
		return &s.deadLetter
	case keyMeta:
		return &s.meta
	}
	panic(fmt.Sprintf("syncer: unknown state key %q", key))
}

func loadState(ctx context.Context, store kv.Store) (state, error) {
	var s state
	keys := append(slices.Clone(collectionKeys), keyQueue, keyDeadLetter, keyMeta)
	for _, key := range keys {
		if _, err := store.Get(ctx, key, s.target(key)); err != nil {
			return state{}, fmt.Errorf("load %s: %w", key, err)
		}
	}
	return s, nil
}

// pending returns the queue and dead-letter items together in the order they
// were enqueued. Dead-lettered writes are still unconfirmed local writes.
func (s *state) pending() []domain.QueueItem {
	if len(s.deadLetter) == 0 {
		return s.queue
	}
	items := make([]domain.QueueItem, 0, len(s.queue)+len(s.deadLetter))
	items = append(items, s.deadLetter...)
	items = append(items, s.queue...)
	slices.SortStableFunc(items, func(a, b domain.QueueItem) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return items
}

func findRow[T any](rows []T, id string, key func(T) string) (T, bool) {
	for _, row := range rows {
		if key(row) == id {
			return row, true
		}
	}
	var zero T
	return zero, false
}

// upsertRow returns a new slice with row replacing the row of the same id, or
// appended when there is none.
func upsertRow[T any](rows []T, row T, key func(T) string) []T {
	out := slices.Clone(rows)
	id := key(row)
	for i := range out {
		if key(out[i]) == id {
			out[i] = row
			return out
		}
	}
	return append(out, row)
}

func removeRow[T any](rows []T, id string, key func(T) string) []T {
	return slices.DeleteFunc(slices.Clone(rows), func(row T) bool { return key(row) == id })
}

func sortHistory[T any](rows []T, key func(T) string, createdAt func(T) int64) []T {
	slices.SortStableFunc(rows, func(a, b T) int {
		return cmp.Or(cmp.Compare(createdAt(a), createdAt(b)), cmp.Compare(key(a), key(b)))
	})
	return rows
}

func appendItems(queue []domain.QueueItem, items ...domain.QueueItem) []domain.QueueItem {
	out := make([]domain.QueueItem, 0, len(queue)+len(items))
	out = append(out, queue...)
	return append(out, items...)
}

func cloneStore(st domain.Store) domain.Store {
	st.Prices = maps.Clone(st.Prices)
	return st
}
