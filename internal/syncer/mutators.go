package syncer

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"tokoku/internal/domain"
	"tokoku/internal/xid"
)

// LineInput describes one sale or return line to record.
type LineInput struct {
	StoreID     string
	ProductName string
	Qty         float64
	Price       int64
	Unit        string
	BatchID     string
}

// LinePatch edits an existing sale or return. Nil fields are left unchanged.
type LinePatch struct {
	StoreID     *string
	ProductName *string
	Qty         *float64
	Price       *int64
	Unit        *string
}

type CashInput struct {
	StoreID string
	Amount  int64
}

type CashPatch struct {
	StoreID *string
	Amount  *int64
}

type lineCollection struct {
	name   string
	prefix string
	key    string
	kinds  historyKinds
	get    func(*state) []domain.LineRecord
	set    func(*state, []domain.LineRecord)
}

var (
	salesCollection = lineCollection{
		name: "sale", prefix: "sale", key: keySales, kinds: saleKinds,
		get: func(s *state) []domain.LineRecord { return s.sales },
		set: func(s *state, rows []domain.LineRecord) { s.sales = rows },
	}
	returnsCollection = lineCollection{
		name: "return", prefix: "ret", key: keyReturns, kinds: returnKinds,
		get: func(s *state) []domain.LineRecord { return s.returns },
		set: func(s *state, rows []domain.LineRecord) { s.returns = rows },
	}
)

// mutate applies fn to a copy of the state, appends the items it returns to
// the queue and persists the touched keys together with the queue. Nothing
// changes in memory unless persistence succeeds.
func (e *Engine) mutate(ctx context.Context, fn func(next *state) ([]domain.QueueItem, []string, error)) error {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}

	next := e.state
	items, keys, err := fn(&next)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	next.queue = appendItems(next.queue, items...)
	err = e.commitLocked(ctx, next, append(keys, keyQueue)...)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.schedulePush()
	return nil
}

func invalid(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func missing(kind string, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// SaveStore creates the store when in.ID is empty, otherwise replaces it.
// Price overrides are kept when in.Prices is nil.
func (e *Engine) SaveStore(ctx context.Context, in domain.Store) (domain.Store, error) {
	var saved domain.Store
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		st := cloneStore(in)
		st.Name = strings.TrimSpace(st.Name)
		st.Placeholder = false
		if st.Type == "" {
			st.Type = domain.StoreTypeBranch
		}
		if st.ID == "" {
			st.ID = xid.New("st")
		} else if existing, ok := findRow(next.stores, st.ID, storeKey); ok && st.Prices == nil {
			st.Prices = maps.Clone(existing.Prices)
		}
		if err := st.Validate(); err != nil {
			return nil, nil, invalid(err)
		}

		item, err := e.newItem(domain.KindStoreUpsert, st)
		if err != nil {
			return nil, nil, err
		}
		next.stores = upsertRow(next.stores, st, storeKey)
		saved = cloneStore(st)
		return []domain.QueueItem{item}, []string{keyStores}, nil
	})
	return saved, err
}

func (e *Engine) RemoveStore(ctx context.Context, id string) error {
	return e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		if _, ok := findRow(next.stores, id, storeKey); !ok {
			return nil, nil, missing("store", id)
		}
		item, err := e.newItem(domain.KindStoreRemove, domain.RemovePayload{ID: id})
		if err != nil {
			return nil, nil, err
		}
		next.stores = removeRow(next.stores, id, storeKey)
		return []domain.QueueItem{item}, []string{keyStores}, nil
	})
}

// SetStorePrice sets the store's override price for a product or category id.
func (e *Engine) SetStorePrice(ctx context.Context, storeID string, targetID string, price int64) (domain.Store, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return domain.Store{}, invalid(fmt.Errorf("price target id is required"))
	}
	if price < 0 {
		return domain.Store{}, invalid(fmt.Errorf("price must be >= 0"))
	}
	return e.editStorePrices(ctx, storeID, func(prices map[string]int64) {
		prices[targetID] = price
	})
}

func (e *Engine) ClearStorePrice(ctx context.Context, storeID string, targetID string) (domain.Store, error) {
	return e.editStorePrices(ctx, storeID, func(prices map[string]int64) {
		delete(prices, targetID)
	})
}

func (e *Engine) editStorePrices(ctx context.Context, storeID string, edit func(map[string]int64)) (domain.Store, error) {
	var saved domain.Store
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		st, ok := findRow(next.stores, storeID, storeKey)
		if !ok {
			return nil, nil, missing("store", storeID)
		}
		prices := maps.Clone(st.Prices)
		if prices == nil {
			prices = make(map[string]int64)
		}
		edit(prices)
		if len(prices) == 0 {
			prices = nil
		}
		st.Prices = prices

		item, err := e.newItem(domain.KindStoreUpsert, st)
		if err != nil {
			return nil, nil, err
		}
		next.stores = upsertRow(next.stores, st, storeKey)
		saved = cloneStore(st)
		return []domain.QueueItem{item}, []string{keyStores}, nil
	})
	return saved, err
}

// SaveProduct creates the product when in.ID is empty, otherwise replaces it.
func (e *Engine) SaveProduct(ctx context.Context, in domain.Product) (domain.Product, error) {
	var saved domain.Product
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		product := in
		product.Name = strings.TrimSpace(product.Name)
		if product.ID == "" {
			product.ID = xid.New("prd")
		}
		if err := product.Validate(); err != nil {
			return nil, nil, invalid(err)
		}

		item, err := e.newItem(domain.KindProductUpsert, product)
		if err != nil {
			return nil, nil, err
		}
		next.products = upsertRow(next.products, product, productKey)
		saved = product
		return []domain.QueueItem{item}, []string{keyProducts}, nil
	})
	return saved, err
}

func (e *Engine) RemoveProduct(ctx context.Context, id string) error {
	return e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		if _, ok := findRow(next.products, id, productKey); !ok {
			return nil, nil, missing("product", id)
		}
		item, err := e.newItem(domain.KindProductRemove, domain.RemovePayload{ID: id})
		if err != nil {
			return nil, nil, err
		}
		next.products = removeRow(next.products, id, productKey)
		return []domain.QueueItem{item}, []string{keyProducts}, nil
	})
}

func (e *Engine) SaveCategory(ctx context.Context, in domain.Category) (domain.Category, error) {
	var saved domain.Category
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		category := in
		category.Name = strings.TrimSpace(category.Name)
		if category.ID == "" {
			category.ID = xid.New("cat")
		}
		if err := category.Validate(); err != nil {
			return nil, nil, invalid(err)
		}

		item, err := e.newItem(domain.KindCategoryUpsert, category)
		if err != nil {
			return nil, nil, err
		}
		next.categories = upsertRow(next.categories, category, categoryKey)
		saved = category
		return []domain.QueueItem{item}, []string{keyCategories}, nil
	})
	return saved, err
}

func (e *Engine) RemoveCategory(ctx context.Context, id string) error {
	return e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		if _, ok := findRow(next.categories, id, categoryKey); !ok {
			return nil, nil, missing("category", id)
		}
		item, err := e.newItem(domain.KindCategoryRemove, domain.RemovePayload{ID: id})
		if err != nil {
			return nil, nil, err
		}
		next.categories = removeRow(next.categories, id, categoryKey)
		return []domain.QueueItem{item}, []string{keyCategories}, nil
	})
}

func (e *Engine) AddSale(ctx context.Context, in LineInput) (domain.SaleRecord, error) {
	rows, err := e.addLines(ctx, salesCollection, []LineInput{in}, in.BatchID)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	return rows[0], nil
}

// AddSales records several lines entered together. They share a generated
// batch id and one queue item is enqueued per line.
func (e *Engine) AddSales(ctx context.Context, storeID string, lines []LineInput) ([]domain.SaleRecord, error) {
	return e.addLines(ctx, salesCollection, withStore(storeID, lines), xid.New("batch"))
}

func (e *Engine) UpdateSale(ctx context.Context, id string, patch LinePatch) (domain.SaleRecord, error) {
	return e.updateLine(ctx, salesCollection, id, patch)
}

func (e *Engine) RemoveSale(ctx context.Context, id string) error {
	return e.removeLine(ctx, salesCollection, id)
}

func (e *Engine) AddReturn(ctx context.Context, in LineInput) (domain.ReturnRecord, error) {
	rows, err := e.addLines(ctx, returnsCollection, []LineInput{in}, in.BatchID)
	if err != nil {
		return domain.ReturnRecord{}, err
	}
	return rows[0], nil
}

func (e *Engine) AddReturns(ctx context.Context, storeID string, lines []LineInput) ([]domain.ReturnRecord, error) {
	return e.addLines(ctx, returnsCollection, withStore(storeID, lines), xid.New("batch"))
}

func (e *Engine) UpdateReturn(ctx context.Context, id string, patch LinePatch) (domain.ReturnRecord, error) {
	return e.updateLine(ctx, returnsCollection, id, patch)
}

func (e *Engine) RemoveReturn(ctx context.Context, id string) error {
	return e.removeLine(ctx, returnsCollection, id)
}

func withStore(storeID string, lines []LineInput) []LineInput {
	out := make([]LineInput, len(lines))
	for i, line := range lines {
		if line.StoreID == "" {
			line.StoreID = storeID
		}
		out[i] = line
	}
	return out
}

func (e *Engine) addLines(ctx context.Context, coll lineCollection, lines []LineInput, batchID string) ([]domain.LineRecord, error) {
	if len(lines) == 0 {
		return nil, invalid(fmt.Errorf("at least one %s line is required", coll.name))
	}

	var added []domain.LineRecord
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		createdAt := e.nowMillis()
		rows := coll.get(next)
		records := make([]domain.LineRecord, 0, len(lines))
		items := make([]domain.QueueItem, 0, len(lines))

		for _, line := range lines {
			if strings.TrimSpace(line.StoreID) == "" {
				return nil, nil, invalid(fmt.Errorf("store id is required"))
			}
			unit := line.Unit
			if unit == "" {
				unit = domain.UnitPiece
			}
			record := domain.LineRecord{
				ID:          xid.New(coll.prefix),
				StoreID:     line.StoreID,
				StoreName:   storeName(next.stores, line.StoreID),
				CreatedAt:   createdAt,
				BatchID:     batchID,
				ProductName: strings.TrimSpace(line.ProductName),
				Qty:         line.Qty,
				Price:       line.Price,
				Unit:        unit,
			}
			if err := record.Validate(); err != nil {
				return nil, nil, invalid(err)
			}

			item, err := e.newItem(coll.kinds.add, record)
			if err != nil {
				return nil, nil, err
			}
			rows = upsertRow(rows, record, lineKey)
			records = append(records, record)
			items = append(items, item)
		}

		coll.set(next, sortHistory(rows, lineKey, lineCreatedAt))
		added = records
		return items, []string{coll.key}, nil
	})
	return added, err
}

func (e *Engine) updateLine(ctx context.Context, coll lineCollection, id string, patch LinePatch) (domain.LineRecord, error) {
	var updated domain.LineRecord
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		record, ok := findRow(coll.get(next), id, lineKey)
		if !ok {
			return nil, nil, missing(coll.name, id)
		}
		if patch.StoreID != nil && *patch.StoreID != record.StoreID {
			record.StoreID = *patch.StoreID
			record.StoreName = storeName(next.stores, record.StoreID)
		}
		if patch.ProductName != nil {
			record.ProductName = strings.TrimSpace(*patch.ProductName)
		}
		if patch.Qty != nil {
			record.Qty = *patch.Qty
		}
		if patch.Price != nil {
			record.Price = *patch.Price
		}
		if patch.Unit != nil {
			record.Unit = *patch.Unit
		}
		if err := record.Validate(); err != nil {
			return nil, nil, invalid(err)
		}

		item, err := e.newItem(coll.kinds.update, record)
		if err != nil {
			return nil, nil, err
		}
		coll.set(next, sortHistory(upsertRow(coll.get(next), record, lineKey), lineKey, lineCreatedAt))
		updated = record
		return []domain.QueueItem{item}, []string{coll.key}, nil
	})
	return updated, err
}

func (e *Engine) removeLine(ctx context.Context, coll lineCollection, id string) error {
	return e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		if _, ok := findRow(coll.get(next), id, lineKey); !ok {
			return nil, nil, missing(coll.name, id)
		}
		item, err := e.newItem(coll.kinds.remove, domain.RemovePayload{ID: id})
		if err != nil {
			return nil, nil, err
		}
		coll.set(next, removeRow(coll.get(next), id, lineKey))
		return []domain.QueueItem{item}, []string{coll.key}, nil
	})
}

func (e *Engine) AddCash(ctx context.Context, in CashInput) (domain.CashReceipt, error) {
	var added domain.CashReceipt
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		if strings.TrimSpace(in.StoreID) == "" {
			return nil, nil, invalid(fmt.Errorf("store id is required"))
		}
		receipt := domain.CashReceipt{
			ID:        xid.New("cash"),
			StoreID:   in.StoreID,
			Amount:    in.Amount,
			CreatedAt: e.nowMillis(),
		}
		if err := receipt.Validate(); err != nil {
			return nil, nil, invalid(err)
		}

		item, err := e.newItem(domain.KindCashAdd, receipt)
		if err != nil {
			return nil, nil, err
		}
		next.cash = sortHistory(upsertRow(next.cash, receipt, cashKey), cashKey, cashCreatedAt)
		added = receipt
		return []domain.QueueItem{item}, []string{keyCash}, nil
	})
	return added, err
}

func (e *Engine) UpdateCash(ctx context.Context, id string, patch CashPatch) (domain.CashReceipt, error) {
	var updated domain.CashReceipt
	err := e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		receipt, ok := findRow(next.cash, id, cashKey)
		if !ok {
			return nil, nil, missing("cash receipt", id)
		}
		if patch.StoreID != nil {
			receipt.StoreID = *patch.StoreID
		}
		if patch.Amount != nil {
			receipt.Amount = *patch.Amount
		}
		if err := receipt.Validate(); err != nil {
			return nil, nil, invalid(err)
		}

		item, err := e.newItem(domain.KindCashUpdate, receipt)
		if err != nil {
			return nil, nil, err
		}
		next.cash = sortHistory(upsertRow(next.cash, receipt, cashKey), cashKey, cashCreatedAt)
		updated = receipt
		return []domain.QueueItem{item}, []string{keyCash}, nil
	})
	return updated, err
}

func (e *Engine) RemoveCash(ctx context.Context, id string) error {
	return e.mutate(ctx, func(next *state) ([]domain.QueueItem, []string, error) {
		if _, ok := findRow(next.cash, id, cashKey); !ok {
			return nil, nil, missing("cash receipt", id)
		}
		item, err := e.newItem(domain.KindCashRemove, domain.RemovePayload{ID: id})
		if err != nil {
			return nil, nil, err
		}
		next.cash = removeRow(next.cash, id, cashKey)
		return []domain.QueueItem{item}, []string{keyCash}, nil
	})
}

// storeName is the denormalized name written onto history rows. An unknown
// store yields an empty name.
func storeName(stores []domain.Store, id string) string {
	if st, ok := findRow(stores, id, storeKey); ok {
		return st.Name
	}
	return ""
}
