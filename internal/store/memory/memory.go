package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"tokoku/internal/domain"
	"tokoku/internal/store"
	"tokoku/internal/xid"
)

// Store is the in-memory repository used for development and tests. It
// enforces the same store reference rule as the postgres schema.
type Store struct {
	mu           sync.RWMutex
	stores       map[string]domain.Store
	products     map[string]domain.Product
	categories   map[string]domain.Category
	sales        map[string]domain.SaleRecord
	returns      map[string]domain.ReturnRecord
	cashReceipts map[string]domain.CashReceipt
	auditLogs    []domain.AuditLog
}

func New() *Store {
	return &Store{
		stores:       make(map[string]domain.Store),
		products:     make(map[string]domain.Product),
		categories:   make(map[string]domain.Category),
		sales:        make(map[string]domain.SaleRecord),
		returns:      make(map[string]domain.ReturnRecord),
		cashReceipts: make(map[string]domain.CashReceipt),
	}
}

// NewSeeded returns a store with a small demo catalog.
func NewSeeded() *Store {
	s := New()
	branch := int64(5200)
	market := int64(5000)
	s.stores["store-main"] = domain.Store{ID: "store-main", Name: "Toko Utama", Type: domain.StoreTypeBranch}
	s.stores["store-pasar"] = domain.Store{ID: "store-pasar", Name: "Pasar Minggu", Type: domain.StoreTypeMarket}
	s.categories["cat-sembako"] = domain.Category{ID: "cat-sembako", Name: "Sembako"}
	s.products["prd-tepung"] = domain.Product{ID: "prd-tepung", Name: "Tepung Terigu", CategoryID: "cat-sembako", PriceBranch: &branch, PriceMarket: &market}
	return s
}

func (s *Store) UpsertStore(_ context.Context, st domain.Store) error {
	if strings.TrimSpace(st.ID) == "" || strings.TrimSpace(st.Name) == "" {
		return store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st.Prices = maps.Clone(st.Prices)
	st.Placeholder = false
	s.stores[st.ID] = st
	return nil
}

func (s *Store) DeleteStore(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stores, id)
	// History keeps its denormalized store name; only the reference is cleared.
	for key, sale := range s.sales {
		if sale.StoreID == id {
			sale.StoreID = ""
			s.sales[key] = sale
		}
	}
	for key, ret := range s.returns {
		if ret.StoreID == id {
			ret.StoreID = ""
			s.returns[key] = ret
		}
	}
	for key, receipt := range s.cashReceipts {
		if receipt.StoreID == id {
			receipt.StoreID = ""
			s.cashReceipts[key] = receipt
		}
	}
	return nil
}

func (s *Store) UpsertProduct(_ context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" || strings.TrimSpace(product.Name) == "" {
		return store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = cloneProduct(product)
	return nil
}

func (s *Store) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	return nil
}

func (s *Store) UpsertCategory(_ context.Context, category domain.Category) error {
	if strings.TrimSpace(category.ID) == "" || strings.TrimSpace(category.Name) == "" {
		return store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories[category.ID] = category
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.categories, id)
	for key, product := range s.products {
		if product.CategoryID == id {
			product.CategoryID = ""
			s.products[key] = product
		}
	}
	return nil
}

func (s *Store) UpsertSale(_ context.Context, sale domain.SaleRecord, placeholder domain.Store) (bool, error) {
	if strings.TrimSpace(sale.ID) == "" {
		return false, store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	healed, err := s.ensureStoreLocked(sale.StoreID, placeholder)
	if err != nil {
		return false, err
	}
	s.sales[sale.ID] = sale
	return healed, nil
}

func (s *Store) DeleteSale(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sales, id)
	return nil
}

func (s *Store) UpsertReturn(_ context.Context, ret domain.ReturnRecord, placeholder domain.Store) (bool, error) {
	if strings.TrimSpace(ret.ID) == "" {
		return false, store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	healed, err := s.ensureStoreLocked(ret.StoreID, placeholder)
	if err != nil {
		return false, err
	}
	s.returns[ret.ID] = ret
	return healed, nil
}

func (s *Store) DeleteReturn(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.returns, id)
	return nil
}

func (s *Store) UpsertCashReceipt(_ context.Context, receipt domain.CashReceipt, placeholder domain.Store) (bool, error) {
	if strings.TrimSpace(receipt.ID) == "" {
		return false, store.ErrInvalidRecord
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	healed, err := s.ensureStoreLocked(receipt.StoreID, placeholder)
	if err != nil {
		return false, err
	}
	s.cashReceipts[receipt.ID] = receipt
	return healed, nil
}

func (s *Store) DeleteCashReceipt(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cashReceipts, id)
	return nil
}

func (s *Store) ensureStoreLocked(storeID string, placeholder domain.Store) (bool, error) {
	if storeID == "" {
		return false, nil
	}
	if _, ok := s.stores[storeID]; ok {
		return false, nil
	}
	if placeholder.ID != storeID {
		return false, store.ErrForeignKey
	}
	s.stores[storeID] = placeholder
	return true, nil
}

func (s *Store) Snapshot(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Stores:       make([]domain.Store, 0, len(s.stores)),
		Products:     make([]domain.Product, 0, len(s.products)),
		Categories:   make([]domain.Category, 0, len(s.categories)),
		Sales:        make([]domain.SaleRecord, 0, len(s.sales)),
		Returns:      make([]domain.ReturnRecord, 0, len(s.returns)),
		CashReceipts: make([]domain.CashReceipt, 0, len(s.cashReceipts)),
		ServerTime:   domain.NowMillis(),
	}
	for _, st := range s.stores {
		st.Prices = maps.Clone(st.Prices)
		snap.Stores = append(snap.Stores, st)
	}
	for _, product := range s.products {
		snap.Products = append(snap.Products, cloneProduct(product))
	}
	for _, category := range s.categories {
		snap.Categories = append(snap.Categories, category)
	}
	for _, sale := range s.sales {
		snap.Sales = append(snap.Sales, sale)
	}
	for _, ret := range s.returns {
		snap.Returns = append(snap.Returns, ret)
	}
	for _, receipt := range s.cashReceipts {
		snap.CashReceipts = append(snap.CashReceipts, receipt)
	}

	slices.SortFunc(snap.Stores, func(a, b domain.Store) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) })
	slices.SortFunc(snap.Products, func(a, b domain.Product) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) })
	slices.SortFunc(snap.Categories, func(a, b domain.Category) int { return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID)) })
	slices.SortFunc(snap.Sales, compareLines)
	slices.SortFunc(snap.Returns, compareLines)
	slices.SortFunc(snap.CashReceipts, func(a, b domain.CashReceipt) int {
		return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return snap, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func compareLines(a, b domain.LineRecord) int {
	return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
}

func cloneProduct(product domain.Product) domain.Product {
	if product.PriceBranch != nil {
		v := *product.PriceBranch
		product.PriceBranch = &v
	}
	if product.PriceMarket != nil {
		v := *product.PriceMarket
		product.PriceMarket = &v
	}
	return product
}
