package syncer

import (
	"cmp"
	"encoding/json"
	"log"
	"slices"

	"tokoku/internal/domain"
)

// ordered is an insertion-ordered map used to build merge results.
type ordered[T any] struct {
	keys []string
	rows map[string]T
}

func newOrdered[T any](capacity int) *ordered[T] {
	return &ordered[T]{keys: make([]string, 0, capacity), rows: make(map[string]T, capacity)}
}

func (o *ordered[T]) set(id string, row T) {
	if _, ok := o.rows[id]; !ok {
		o.keys = append(o.keys, id)
	}
	o.rows[id] = row
}

func (o *ordered[T]) has(id string) bool {
	_, ok := o.rows[id]
	return ok
}

func (o *ordered[T]) remove(id string) {
	if _, ok := o.rows[id]; !ok {
		return
	}
	delete(o.rows, id)
	o.keys = slices.DeleteFunc(o.keys, func(k string) bool { return k == id })
}

func (o *ordered[T]) values() []T {
	out := make([]T, 0, len(o.keys))
	for _, id := range o.keys {
		out = append(out, o.rows[id])
	}
	return out
}

// mergeCatalog replaces the local collection with the server rows, then
// replays pending upserts and removes in queue order. Ids the server no
// longer returns disappear unless a pending upsert recreates them.
func mergeCatalog[T any](server []T, pending []domain.QueueItem, upsert domain.MutationKind, remove domain.MutationKind, key func(T) string) []T {
	result := newOrdered[T](len(server))
	for _, row := range server {
		result.set(key(row), row)
	}

	for _, item := range pending {
		switch item.Kind {
		case upsert:
			var row T
			if err := json.Unmarshal(item.Payload, &row); err != nil {
				log.Printf("[syncer] WARN: skip undecodable pending %s %s: %v", item.Kind, item.ID, err)
				continue
			}
			result.set(key(row), row)
		case remove:
			id, err := item.TargetID()
			if err != nil {
				log.Printf("[syncer] WARN: skip undecodable pending %s %s: %v", item.Kind, item.ID, err)
				continue
			}
			result.remove(id)
		}
	}
	return result.values()
}

// mergeHistory unions server rows with prior local rows the server does not
// return, then replays pending adds, updates and removes in queue order.
// Pending add and update payloads carry the whole record, so they replace
// whatever the server returned for that id. The result is sorted by
// createdAt with the id as tie-break.
func mergeHistory[T any](server []T, prior []T, pending []domain.QueueItem, kinds historyKinds, key func(T) string, createdAt func(T) int64) []T {
	result := newOrdered[T](len(server) + len(prior))
	for _, row := range server {
		result.set(key(row), row)
	}
	for _, row := range prior {
		if !result.has(key(row)) {
			result.set(key(row), row)
		}
	}

	for _, item := range pending {
		switch item.Kind {
		case kinds.add, kinds.update:
			var row T
			if err := json.Unmarshal(item.Payload, &row); err != nil {
				log.Printf("[syncer] WARN: skip undecodable pending %s %s: %v", item.Kind, item.ID, err)
				continue
			}
			result.set(key(row), row)
		case kinds.remove:
			id, err := item.TargetID()
			if err != nil {
				log.Printf("[syncer] WARN: skip undecodable pending %s %s: %v", item.Kind, item.ID, err)
				continue
			}
			result.remove(id)
		}
	}

	rows := result.values()
	slices.SortStableFunc(rows, func(a, b T) int {
		return cmp.Or(cmp.Compare(createdAt(a), createdAt(b)), cmp.Compare(key(a), key(b)))
	})
	return rows
}

type historyKinds struct {
	add    domain.MutationKind
	update domain.MutationKind
	remove domain.MutationKind
}

var (
	saleKinds   = historyKinds{add: domain.KindSaleAdd, update: domain.KindSaleUpdate, remove: domain.KindSaleRemove}
	returnKinds = historyKinds{add: domain.KindReturnAdd, update: domain.KindReturnUpdate, remove: domain.KindReturnRemove}
	cashKinds   = historyKinds{add: domain.KindCashAdd, update: domain.KindCashUpdate, remove: domain.KindCashRemove}
)

// mergeSnapshot reconciles every local collection with snap. pending must be
// in queue order.
func mergeSnapshot(prior state, snap domain.Snapshot, pending []domain.QueueItem) state {
	next := prior
	next.stores = mergeCatalog(snap.Stores, pending, domain.KindStoreUpsert, domain.KindStoreRemove, storeKey)
	next.products = mergeCatalog(snap.Products, pending, domain.KindProductUpsert, domain.KindProductRemove, productKey)
	next.categories = mergeCatalog(snap.Categories, pending, domain.KindCategoryUpsert, domain.KindCategoryRemove, categoryKey)
	next.sales = mergeHistory(snap.Sales, prior.sales, pending, saleKinds, lineKey, lineCreatedAt)
	next.returns = mergeHistory(snap.Returns, prior.returns, pending, returnKinds, lineKey, lineCreatedAt)
	next.cash = mergeHistory(snap.CashReceipts, prior.cash, pending, cashKinds, cashKey, cashCreatedAt)
	return next
}

func storeKey(s domain.Store) string       { return s.ID }
func productKey(p domain.Product) string   { return p.ID }
func categoryKey(c domain.Category) string { return c.ID }
func lineKey(l domain.LineRecord) string   { return l.ID }
func cashKey(c domain.CashReceipt) string  { return c.ID }

func lineCreatedAt(l domain.LineRecord) int64  { return l.CreatedAt }
func cashCreatedAt(c domain.CashReceipt) int64 { return c.CreatedAt }
