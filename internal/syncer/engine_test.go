package syncer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tokoku/internal/domain"
	"tokoku/internal/kv"
	"tokoku/internal/service"
	"tokoku/internal/store/memory"
)

var errConnRefused = errors.New("connection refused")

// fakeServer runs the real service over an in-memory repository and lets a
// test take it down, reject chosen entity ids or hold a push in flight.
type fakeServer struct {
	svc *service.Service

	mu      sync.Mutex
	down    bool
	reject  map[string]string
	block   chan struct{}
	entered chan struct{}
	// dropStores makes Snapshot answer without a stores collection.
	dropStores bool

	pushCalls atomic.Int32
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		svc:    service.New(memory.NewSeeded(), nil, time.Minute),
		reject: make(map[string]string),
	}
}

func (f *fakeServer) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeServer) rejectTarget(id string, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg == "" {
		delete(f.reject, id)
		return
	}
	f.reject[id] = msg
}

func (f *fakeServer) Push(ctx context.Context, items []domain.QueueItem) (domain.PushResponse, error) {
	f.pushCalls.Add(1)
	f.mu.Lock()
	down, block, entered := f.down, f.block, f.entered
	reject := make(map[string]string, len(f.reject))
	for k, v := range f.reject {
		reject[k] = v
	}
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if down {
		return domain.PushResponse{}, errConnRefused
	}

	resp := domain.PushResponse{}
	for _, item := range items {
		if id, err := item.TargetID(); err == nil {
			if msg, ok := reject[id]; ok {
				resp.Failed = append(resp.Failed, domain.PushFailure{ID: item.ID, Error: msg})
				continue
			}
		}
		one, err := f.svc.ApplyBatch(ctx, domain.PushRequest{Items: []domain.QueueItem{item}})
		if err != nil {
			return domain.PushResponse{}, err
		}
		resp.AppliedIDs = append(resp.AppliedIDs, one.AppliedIDs...)
		resp.Failed = append(resp.Failed, one.Failed...)
		resp.Placeholders = append(resp.Placeholders, one.Placeholders...)
	}
	resp.ServerTime = domain.NowMillis()
	return resp, nil
}

func (f *fakeServer) ApplyAll(ctx context.Context, items []domain.QueueItem) (domain.PushResponse, error) {
	resp, err := f.Push(ctx, items)
	if err != nil {
		return resp, err
	}
	if len(resp.Failed) > 0 {
		return domain.PushResponse{Failed: resp.Failed}, errors.New("batch rejected")
	}
	return resp, nil
}

func (f *fakeServer) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	f.mu.Lock()
	down, dropStores := f.down, f.dropStores
	f.mu.Unlock()
	if down {
		return domain.Snapshot{}, errConnRefused
	}
	snap, err := f.svc.Snapshot(ctx)
	if dropStores {
		snap.Stores = nil
	}
	return snap, err
}

func newEngine(t *testing.T, store kv.Store, server Transport, conn Connectivity, opts Options) *Engine {
	t.Helper()
	if opts.PushDebounce == 0 {
		opts.PushDebounce = time.Hour
	}
	e := New(store, server, conn, opts)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func addSale(t *testing.T, e *Engine, storeID string, product string) domain.SaleRecord {
	t.Helper()
	sale, err := e.AddSale(context.Background(), LineInput{StoreID: storeID, ProductName: product, Qty: 1, Price: 5200})
	if err != nil {
		t.Fatalf("add sale: %v", err)
	}
	return sale
}

func hasID[T any](rows []T, id string, key func(T) string) bool {
	return slices.ContainsFunc(rows, func(row T) bool { return key(row) == id })
}

func TestOfflineSaleSyncsWhenConnectivityReturns(t *testing.T) {
	server := newFakeServer()
	signal := NewSignal(false)
	e := newEngine(t, kv.NewMemory(), server, signal, Options{})
	ctx := context.Background()

	sale := addSale(t, e, "store-main", "Tepung Terigu")
	if got := e.Sales(); len(got) != 1 {
		t.Fatalf("expected optimistic sale, got %+v", got)
	}
	if _, err := e.Push(ctx); !errors.Is(err, ErrOffline) {
		t.Fatalf("expected ErrOffline, got %v", err)
	}
	if len(e.Queue()) != 1 {
		t.Fatalf("expected 1 queued item, got %d", len(e.Queue()))
	}

	signal.Set(true)
	waitFor(t, "background sync", func() bool {
		st := e.Status()
		return st.QueueLength == 0 && st.LastPull != 0
	})

	snap, err := server.Snapshot(ctx)
	if err != nil {
		t.Fatalf("server snapshot: %v", err)
	}
	if !hasID(snap.Sales, sale.ID, lineKey) {
		t.Fatalf("expected server to have %s", sale.ID)
	}
	if !hasID(e.Sales(), sale.ID, lineKey) {
		t.Fatal("expected sale to survive the pull")
	}
}

func TestPushIsolatesFailingItem(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		ids = append(ids, addSale(t, e, "store-main", name).ID)
	}
	server.rejectTarget(ids[2], "disk full")

	res, err := e.Push(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(res.Applied) != 4 || res.Remaining != 1 {
		t.Fatalf("expected 4 applied and 1 remaining, got %+v", res)
	}

	queue := e.Queue()
	if len(queue) != 1 {
		t.Fatalf("expected 1 queued item, got %d", len(queue))
	}
	if target, _ := queue[0].TargetID(); target != ids[2] {
		t.Fatalf("expected the third sale to stay queued, got %s", target)
	}
	if queue[0].Attempts != 1 || queue[0].LastError != "disk full" {
		t.Fatalf("expected recorded attempt, got %+v", queue[0])
	}

	snap, _ := server.Snapshot(ctx)
	for i, id := range ids {
		if got := hasID(snap.Sales, id, lineKey); got != (i != 2) {
			t.Fatalf("sale %d on server = %v", i, got)
		}
	}
}

func TestPushTransportErrorLeavesQueueUntouched(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	if _, err := e.AddCash(ctx, CashInput{StoreID: "store-main", Amount: 150000}); err != nil {
		t.Fatalf("add cash: %v", err)
	}
	server.setDown(true)

	_, err := e.Push(ctx)
	if !errors.Is(err, errConnRefused) {
		t.Fatalf("expected transport error, got %v", err)
	}
	queue := e.Queue()
	if len(queue) != 1 || queue[0].Attempts != 0 {
		t.Fatalf("expected untouched queue, got %+v", queue)
	}
	if len(e.CashReceipts()) != 1 {
		t.Fatal("expected optimistic cash receipt to stay")
	}
}

func TestDeadLetterRequeueAndDiscard(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{MaxAttempts: 2})
	ctx := context.Background()

	keep := addSale(t, e, "store-main", "Gula")
	drop := addSale(t, e, "store-main", "Garam")
	server.rejectTarget(keep.ID, "boom")
	server.rejectTarget(drop.ID, "boom")

	for i := 0; i < 2; i++ {
		if _, err := e.Push(ctx); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	dead := e.DeadLetters()
	if len(dead) != 2 || len(e.Queue()) != 0 {
		t.Fatalf("expected 2 dead letters and empty queue, got %d and %d", len(dead), len(e.Queue()))
	}

	// Dead-lettered writes are still unconfirmed local writes.
	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !hasID(e.Sales(), keep.ID, lineKey) || !hasID(e.Sales(), drop.ID, lineKey) {
		t.Fatal("expected dead-lettered sales to survive a pull")
	}

	server.rejectTarget(keep.ID, "")
	if err := e.Requeue(ctx, dead[0].ID); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if q := e.Queue(); len(q) != 1 || q[0].Attempts != 0 || q[0].LastError != "" {
		t.Fatalf("expected fresh requeued item, got %+v", q)
	}
	if _, err := e.Push(ctx); err != nil {
		t.Fatalf("push after requeue: %v", err)
	}

	if err := e.Discard(ctx, dead[1].ID); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if len(e.DeadLetters()) != 0 {
		t.Fatal("expected no dead letters left")
	}
	if hasID(e.Sales(), drop.ID, lineKey) {
		t.Fatal("expected discarded sale to be removed locally")
	}
	if err := e.Discard(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !hasID(e.Sales(), keep.ID, lineKey) || hasID(e.Sales(), drop.ID, lineKey) {
		t.Fatalf("unexpected sales after pull: %+v", e.Sales())
	}
}

func TestPullRemovesCatalogRowsAbsentOnServer(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !hasID(e.Stores(), "store-pasar", storeKey) {
		t.Fatal("expected seeded store-pasar locally")
	}

	other := New(kv.NewMemory(), server, nil, Options{PushDebounce: time.Hour})
	if err := other.Init(ctx); err != nil {
		t.Fatalf("init other: %v", err)
	}
	defer other.Close()
	if _, err := other.Pull(ctx); err != nil {
		t.Fatalf("other pull: %v", err)
	}
	if err := other.RemoveStore(ctx, "store-pasar"); err != nil {
		t.Fatalf("remove store: %v", err)
	}
	if _, err := other.Push(ctx); err != nil {
		t.Fatalf("other push: %v", err)
	}

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if hasID(e.Stores(), "store-pasar", storeKey) {
		t.Fatal("expected store-pasar to disappear after pull")
	}
}

func TestPullKeepsPendingLocalWrites(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	product, err := e.SaveProduct(ctx, domain.Product{Name: "Minyak Goreng"})
	if err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := e.RemoveCategory(ctx, "cat-sembako"); err != nil {
		t.Fatalf("remove category: %v", err)
	}
	sale := addSale(t, e, "store-main", "Beras")

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if !hasID(e.Products(), product.ID, productKey) {
		t.Fatal("pending product upsert lost on pull")
	}
	if hasID(e.Categories(), "cat-sembako", categoryKey) {
		t.Fatal("pending category remove undone by pull")
	}
	if !hasID(e.Sales(), sale.ID, lineKey) {
		t.Fatal("pending sale lost on pull")
	}
	if len(e.Queue()) != 3 {
		t.Fatalf("pull must not touch the queue, got %d items", len(e.Queue()))
	}
}

func TestPullNeverRegressesPendingUpdate(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	sale := addSale(t, e, "store-main", "Kopi")
	if _, err := e.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	qty := 4.0
	if _, err := e.UpdateSale(ctx, sale.ID, LinePatch{Qty: &qty}); err != nil {
		t.Fatalf("update sale: %v", err)
	}

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}
	got, ok := findRow(e.Sales(), sale.ID, lineKey)
	if !ok || got.Qty != 4 {
		t.Fatalf("expected local qty 4 to win over server qty 1, got %+v", got)
	}
}

func TestUpsertThenRemoveBeforePush(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	product, err := e.SaveProduct(ctx, domain.Product{Name: "Sabun"})
	if err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := e.RemoveProduct(ctx, product.ID); err != nil {
		t.Fatalf("remove product: %v", err)
	}
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	snap, _ := server.Snapshot(ctx)
	if hasID(snap.Products, product.ID, productKey) {
		t.Fatal("expected server to end without the product")
	}
	if hasID(e.Products(), product.ID, productKey) {
		t.Fatal("expected local state to end without the product")
	}
}

func TestPushMirrorsPlaceholderStore(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	sale := addSale(t, e, "store-baru", "Teh")
	if sale.StoreName != "" {
		t.Fatalf("unknown store should denormalize to an empty name, got %q", sale.StoreName)
	}

	res, err := e.Push(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(res.Placeholders) != 1 || res.Placeholders[0].ID != "store-baru" {
		t.Fatalf("expected placeholder for store-baru, got %+v", res.Placeholders)
	}
	if !hasID(e.Stores(), "store-baru", storeKey) {
		t.Fatal("expected placeholder mirrored locally")
	}
	if !res.Placeholders[0].Placeholder {
		t.Fatalf("expected placeholder flag, got %+v", res.Placeholders[0])
	}

	saved, err := e.SaveStore(ctx, domain.Store{ID: "store-baru", Name: "Cabang Baru"})
	if err != nil {
		t.Fatalf("save store: %v", err)
	}
	if saved.Placeholder {
		t.Fatal("expected an explicit save to clear the placeholder flag")
	}
}

func TestPushModeAll(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{PushMode: PushModeAll})
	ctx := context.Background()

	first := addSale(t, e, "store-main", "A")
	addSale(t, e, "store-main", "B")
	server.rejectTarget(first.ID, "nope")

	if _, err := e.Push(ctx); err == nil {
		t.Fatal("expected rejected batch")
	}
	queue := e.Queue()
	if len(queue) != 2 {
		t.Fatalf("expected whole batch to stay queued, got %d", len(queue))
	}
	if queue[0].Attempts != 1 || queue[1].Attempts != 0 {
		t.Fatalf("expected only the rejected item to record an attempt, got %d and %d", queue[0].Attempts, queue[1].Attempts)
	}

	server.rejectTarget(first.ID, "")
	res, err := e.Push(ctx)
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if res.Remaining != 0 || len(e.Queue()) != 0 {
		t.Fatalf("expected empty queue, got %+v", res)
	}
}

func TestConcurrentPushesShareOneRequest(t *testing.T) {
	server := newFakeServer()
	server.block = make(chan struct{})
	server.entered = make(chan struct{}, 1)
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()
	addSale(t, e, "store-main", "A")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = e.Push(ctx)
	}()
	<-server.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = e.Push(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(server.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if got := server.pushCalls.Load(); got != 1 {
		t.Fatalf("expected 1 push request, got %d", got)
	}
}

func TestItemsEnqueuedDuringPushStayQueued(t *testing.T) {
	server := newFakeServer()
	server.block = make(chan struct{})
	server.entered = make(chan struct{}, 1)
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()
	first := addSale(t, e, "store-main", "A")

	done := make(chan error, 1)
	go func() {
		_, err := e.Push(ctx)
		done <- err
	}()
	<-server.entered
	late := addSale(t, e, "store-main", "B")
	close(server.block)
	if err := <-done; err != nil {
		t.Fatalf("push: %v", err)
	}

	queue := e.Queue()
	if len(queue) != 1 {
		t.Fatalf("expected the late item to stay queued, got %d", len(queue))
	}
	if target, _ := queue[0].TargetID(); target != late.ID {
		t.Fatalf("expected %s queued, got %s", late.ID, target)
	}
	if target, _ := queue[0].TargetID(); target == first.ID {
		t.Fatal("pushed item still queued")
	}
}

func TestStatePersistsAcrossEngines(t *testing.T) {
	store := kv.NewMemory()
	server := newFakeServer()
	ctx := context.Background()

	first := New(store, server, nil, Options{PushDebounce: time.Hour})
	if err := first.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	sale := addSale(t, first, "store-main", "Susu")
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := first.AddSale(ctx, LineInput{StoreID: "store-main", ProductName: "x", Qty: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	second := newEngine(t, store, server, nil, Options{})
	if !hasID(second.Sales(), sale.ID, lineKey) {
		t.Fatal("expected sale restored from the local store")
	}
	if len(second.Queue()) != 1 {
		t.Fatalf("expected queued item restored, got %d", len(second.Queue()))
	}
}

func TestMutatorsRejectInvalidInput(t *testing.T) {
	server := newFakeServer()
	ctx := context.Background()

	idle := New(kv.NewMemory(), server, nil, Options{})
	if _, err := idle.AddSale(ctx, LineInput{StoreID: "store-main", ProductName: "A", Qty: 1}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	if _, err := e.AddSale(ctx, LineInput{StoreID: "store-main", ProductName: "A", Qty: 0}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero qty, got %v", err)
	}
	if _, err := e.AddCash(ctx, CashInput{StoreID: "store-main", Amount: -5}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative cash, got %v", err)
	}
	if _, err := e.SaveStore(ctx, domain.Store{Name: "X", Type: "warehouse"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for store type, got %v", err)
	}
	qty := 2.0
	if _, err := e.UpdateSale(ctx, "missing", LinePatch{Qty: &qty}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(e.Queue()) != 0 {
		t.Fatalf("rejected mutations must not enqueue, got %d", len(e.Queue()))
	}
}

func TestAddSalesSharesBatchID(t *testing.T) {
	e := newEngine(t, kv.NewMemory(), newFakeServer(), nil, Options{})
	ctx := context.Background()

	rows, err := e.AddSales(ctx, "store-main", []LineInput{
		{ProductName: "Tepung", Qty: 1, Price: 5200},
		{ProductName: "Gula", Qty: 0.5, Price: 16000, Unit: domain.UnitKilogram},
	})
	if err != nil {
		t.Fatalf("add sales: %v", err)
	}
	if len(rows) != 2 || rows[0].BatchID == "" || rows[0].BatchID != rows[1].BatchID {
		t.Fatalf("expected shared batch id, got %+v", rows)
	}
	if len(e.Queue()) != 2 {
		t.Fatalf("expected one queue item per line, got %d", len(e.Queue()))
	}
}

func TestUpdateSaleRedenormalizesStoreName(t *testing.T) {
	e := newEngine(t, kv.NewMemory(), newFakeServer(), nil, Options{})
	ctx := context.Background()
	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	sale := addSale(t, e, "store-main", "Tepung")
	if sale.StoreName != "Toko Utama" {
		t.Fatalf("expected denormalized store name, got %q", sale.StoreName)
	}
	if _, err := e.SaveStore(ctx, domain.Store{ID: "store-main", Name: "Toko Pusat", Type: domain.StoreTypeBranch}); err != nil {
		t.Fatalf("rename store: %v", err)
	}
	if got, _ := findRow(e.Sales(), sale.ID, lineKey); got.StoreName != "Toko Utama" {
		t.Fatalf("history store name must not be backfilled, got %q", got.StoreName)
	}

	target := "store-pasar"
	updated, err := e.UpdateSale(ctx, sale.ID, LinePatch{StoreID: &target})
	if err != nil {
		t.Fatalf("update sale: %v", err)
	}
	if updated.StoreName != "Pasar Minggu" {
		t.Fatalf("expected new store name, got %q", updated.StoreName)
	}
}

func TestStorePriceOverrides(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()
	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("pull: %v", err)
	}

	st, err := e.SetStorePrice(ctx, "store-pasar", "prd-tepung", 4800)
	if err != nil {
		t.Fatalf("set price: %v", err)
	}
	if st.Prices["prd-tepung"] != 4800 {
		t.Fatalf("expected override, got %v", st.Prices)
	}
	if _, err := e.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got, _ := findRow(e.Stores(), "store-pasar", storeKey)
	if got.Prices["prd-tepung"] != 4800 {
		t.Fatalf("expected override after sync, got %v", got.Prices)
	}

	st, err = e.ClearStorePrice(ctx, "store-pasar", "prd-tepung")
	if err != nil {
		t.Fatalf("clear price: %v", err)
	}
	if len(st.Prices) != 0 {
		t.Fatalf("expected no overrides, got %v", st.Prices)
	}
}

func TestEnqueueTriggersDebouncedPush(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{PushDebounce: 20 * time.Millisecond})

	first := addSale(t, e, "store-main", "Gula Pasir")
	second := addSale(t, e, "store-main", "Minyak Goreng")
	waitFor(t, "debounced push", func() bool { return len(e.Queue()) == 0 })

	if server.pushCalls.Load() < 1 {
		t.Fatal("expected the debounce timer to push")
	}
	snap, err := server.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("server snapshot: %v", err)
	}
	if !hasID(snap.Sales, first.ID, lineKey) || !hasID(snap.Sales, second.ID, lineKey) {
		t.Fatalf("expected both sales on the server, got %+v", snap.Sales)
	}
}

func TestRejectedItemRetriedByRescheduledPush(t *testing.T) {
	server := newFakeServer()
	signal := NewSignal(false)
	e := newEngine(t, kv.NewMemory(), server, signal, Options{PushDebounce: 20 * time.Millisecond})

	applied := addSale(t, e, "store-main", "Tepung Terigu")
	stuck := addSale(t, e, "store-main", "Beras")
	server.rejectTarget(stuck.ID, "store locked")
	signal.Set(true)

	waitFor(t, "rejected attempt", func() bool {
		queue := e.Queue()
		return len(queue) == 1 && queue[0].Attempts >= 1
	})
	if id, err := e.Queue()[0].TargetID(); err != nil || id != stuck.ID {
		t.Fatalf("expected only %s to stay queued, got %s (%v)", stuck.ID, id, err)
	}

	server.rejectTarget(stuck.ID, "")
	waitFor(t, "retry after rejection lifted", func() bool { return len(e.Queue()) == 0 })

	snap, err := server.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("server snapshot: %v", err)
	}
	if !hasID(snap.Sales, applied.ID, lineKey) || !hasID(snap.Sales, stuck.ID, lineKey) {
		t.Fatalf("expected both sales on the server, got %+v", snap.Sales)
	}
	if len(e.DeadLetters()) != 0 {
		t.Fatalf("expected no dead letters, got %+v", e.DeadLetters())
	}
}

func TestPullKeepsCatalogWhenSnapshotIncomplete(t *testing.T) {
	server := newFakeServer()
	e := newEngine(t, kv.NewMemory(), server, nil, Options{})
	ctx := context.Background()

	if _, err := e.Pull(ctx); err != nil {
		t.Fatalf("initial pull: %v", err)
	}
	before := e.Stores()
	if len(before) == 0 {
		t.Fatal("expected seeded stores after pull")
	}
	lastPull := e.Status().LastPull

	server.mu.Lock()
	server.dropStores = true
	server.mu.Unlock()

	if _, err := e.Pull(ctx); !errors.Is(err, ErrIncompleteSnapshot) {
		t.Fatalf("expected ErrIncompleteSnapshot, got %v", err)
	}
	after := e.Stores()
	if len(after) != len(before) {
		t.Fatalf("expected %d stores to survive, got %+v", len(before), after)
	}
	if e.Status().LastPull != lastPull {
		t.Fatal("expected lastPull to stay unchanged")
	}
}
