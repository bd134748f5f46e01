package syncer

import (
	"encoding/json"
	"testing"

	"tokoku/internal/domain"
)

func queued(t *testing.T, id string, createdAt int64, kind domain.MutationKind, payload any) domain.QueueItem {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return domain.QueueItem{ID: id, Kind: kind, Payload: raw, CreatedAt: createdAt}
}

func rowIDs[T any](rows []T, key func(T) string) []string {
	out := make([]string, len(rows))
	for i, row := range rows {
		out[i] = key(row)
	}
	return out
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestMergeCatalogReplaysPendingInOrder(t *testing.T) {
	server := []domain.Category{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}
	pending := []domain.QueueItem{
		queued(t, "q1", 1, domain.KindCategoryUpsert, domain.Category{ID: "c", Name: "C"}),
		queued(t, "q2", 2, domain.KindCategoryRemove, domain.RemovePayload{ID: "a"}),
		queued(t, "q3", 3, domain.KindCategoryUpsert, domain.Category{ID: "b", Name: "B2"}),
		queued(t, "q4", 4, domain.KindProductRemove, domain.RemovePayload{ID: "b"}),
	}

	got := mergeCatalog(server, pending, domain.KindCategoryUpsert, domain.KindCategoryRemove, categoryKey)
	if !sameIDs(rowIDs(got, categoryKey), "b", "c") {
		t.Fatalf("unexpected ids %v", rowIDs(got, categoryKey))
	}
	if got[0].Name != "B2" {
		t.Fatalf("expected pending upsert to win, got %q", got[0].Name)
	}
}

func TestMergeCatalogUpsertThenRemove(t *testing.T) {
	pending := []domain.QueueItem{
		queued(t, "q1", 1, domain.KindStoreUpsert, domain.Store{ID: "s", Name: "S", Type: domain.StoreTypeBranch}),
		queued(t, "q2", 2, domain.KindStoreRemove, domain.RemovePayload{ID: "s"}),
	}
	got := mergeCatalog(nil, pending, domain.KindStoreUpsert, domain.KindStoreRemove, storeKey)
	if len(got) != 0 {
		t.Fatalf("expected nothing, got %+v", got)
	}
}

func TestMergeHistoryKeepsLocalOnlyRowsAndSorts(t *testing.T) {
	server := []domain.CashReceipt{
		{ID: "srv-2", Amount: 20, CreatedAt: 20},
		{ID: "srv-1", Amount: 10, CreatedAt: 10},
		{ID: "gone", Amount: 5, CreatedAt: 5},
	}
	prior := []domain.CashReceipt{
		{ID: "local", Amount: 15, CreatedAt: 15},
		{ID: "srv-1", Amount: 999, CreatedAt: 10},
	}
	pending := []domain.QueueItem{
		queued(t, "q1", 1, domain.KindCashRemove, domain.RemovePayload{ID: "gone"}),
		queued(t, "q2", 2, domain.KindCashUpdate, domain.CashReceipt{ID: "srv-2", Amount: 25, CreatedAt: 20}),
	}

	got := mergeHistory(server, prior, pending, cashKinds, cashKey, cashCreatedAt)
	if !sameIDs(rowIDs(got, cashKey), "srv-1", "local", "srv-2") {
		t.Fatalf("unexpected order %v", rowIDs(got, cashKey))
	}
	if got[0].Amount != 10 {
		t.Fatalf("server row must win over a prior copy without pending writes, got %d", got[0].Amount)
	}
	if got[2].Amount != 25 {
		t.Fatalf("pending update must win over the server, got %d", got[2].Amount)
	}
}

func TestMergeHistoryTieBreaksByID(t *testing.T) {
	server := []domain.LineRecord{{ID: "b", CreatedAt: 1}, {ID: "a", CreatedAt: 1}}
	got := mergeHistory(server, nil, nil, saleKinds, lineKey, lineCreatedAt)
	if !sameIDs(rowIDs(got, lineKey), "a", "b") {
		t.Fatalf("unexpected order %v", rowIDs(got, lineKey))
	}
}

func TestStatePendingOrdersDeadLettersWithQueue(t *testing.T) {
	s := state{
		queue:      []domain.QueueItem{{ID: "q3", CreatedAt: 3}, {ID: "q5", CreatedAt: 5}},
		deadLetter: []domain.QueueItem{{ID: "q1", CreatedAt: 1}, {ID: "q4", CreatedAt: 4}},
	}
	if !sameIDs(rowIDs(s.pending(), queueKey), "q1", "q3", "q4", "q5") {
		t.Fatalf("unexpected order %v", rowIDs(s.pending(), queueKey))
	}
}

func TestMergeSnapshotSkipsUndecodablePending(t *testing.T) {
	snap := domain.Snapshot{Products: []domain.Product{{ID: "p1", Name: "Kopi"}}}
	pending := []domain.QueueItem{
		{ID: "q1", Kind: domain.KindProductUpsert, Payload: json.RawMessage(`"oops"`), CreatedAt: 1},
	}
	got := mergeSnapshot(state{}, snap, pending)
	if !sameIDs(rowIDs(got.products, productKey), "p1") {
		t.Fatalf("unexpected products %v", rowIDs(got.products, productKey))
	}
}
