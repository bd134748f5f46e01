package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tokoku/internal/cache"
	"tokoku/internal/domain"
	"tokoku/internal/store"
	"tokoku/internal/xid"
)

var (
	ErrUnknownKind      = errors.New("unknown mutation kind")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrBatchRejected    = errors.New("batch rejected")
	ErrInvalidDate      = errors.New("invalid date")
)

func snapshotCacheKey(version int64) string {
	return fmt.Sprintf("snapshot:%d", version)
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Service applies client mutation batches to the repository and serves the
// pull snapshot.
type Service struct {
	repo     store.Repository
	cache    cache.SnapshotCache
	cacheTTL time.Duration
}

func New(repo store.Repository, snapshotCache cache.SnapshotCache, cacheTTL time.Duration) *Service {
	if snapshotCache == nil {
		snapshotCache = cache.NoopSnapshotCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		cache:    snapshotCache,
		cacheTTL: cacheTTL,
	}
}

// ApplyBatch applies items strictly in order. A failing item is reported in
// Failed and does not stop the rest of the batch.
func (s *Service) ApplyBatch(ctx context.Context, req domain.PushRequest) (domain.PushResponse, error) {
	resp := s.apply(ctx, req.Items)
	s.logAudit(ctx, "sync_push", fmt.Sprintf("applied=%d failed=%d placeholders=%d", len(resp.AppliedIDs), len(resp.Failed), len(resp.Placeholders)))
	return resp, nil
}

// ApplyAll is the all-or-nothing acknowledgement variant: it applies the
// same way as ApplyBatch but reports ErrBatchRejected when any item failed.
// Items that did apply stay applied and replay as no-ops.
func (s *Service) ApplyAll(ctx context.Context, req domain.PushRequest) (domain.PushResponse, error) {
	resp := s.apply(ctx, req.Items)
	s.logAudit(ctx, "sync_apply", fmt.Sprintf("applied=%d failed=%d placeholders=%d", len(resp.AppliedIDs), len(resp.Failed), len(resp.Placeholders)))
	if len(resp.Failed) > 0 {
		first := resp.Failed[0]
		return resp, fmt.Errorf("%w: %d of %d items failed, first %s: %s", ErrBatchRejected, len(resp.Failed), len(req.Items), first.ID, first.Error)
	}
	return resp, nil
}

func (s *Service) apply(ctx context.Context, items []domain.QueueItem) domain.PushResponse {
	resp := domain.PushResponse{
		AppliedIDs: make([]string, 0, len(items)),
		Failed:     make([]domain.PushFailure, 0),
	}

	for _, item := range items {
		placeholder, err := s.applyItem(ctx, item)
		if err != nil {
			log.Printf("[service] WARN: item %s (%s) rejected: %v", item.ID, item.Kind, err)
			resp.Failed = append(resp.Failed, domain.PushFailure{ID: item.ID, Error: err.Error()})
			continue
		}
		resp.AppliedIDs = append(resp.AppliedIDs, item.ID)
		if placeholder != nil {
			resp.Placeholders = append(resp.Placeholders, *placeholder)
		}
	}

	if len(resp.AppliedIDs) > 0 {
		s.invalidateSnapshot(ctx)
	}
	resp.ServerTime = domain.NowMillis()
	return resp
}

// applyItem returns the placeholder store it synthesized, if any.
func (s *Service) applyItem(ctx context.Context, item domain.QueueItem) (*domain.Store, error) {
	if strings.TrimSpace(item.ID) == "" {
		return nil, fmt.Errorf("%w: item id is required", ErrMalformedPayload)
	}
	if !item.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
	}

	switch item.Kind {
	case domain.KindStoreUpsert:
		var st domain.Store
		if err := decodePayload(item, &st, func() error { return st.Validate() }); err != nil {
			return nil, err
		}
		return nil, wrapRepo(item, s.repo.UpsertStore(ctx, st))
	case domain.KindProductUpsert:
		var product domain.Product
		if err := decodePayload(item, &product, func() error { return product.Validate() }); err != nil {
			return nil, err
		}
		return nil, wrapRepo(item, s.repo.UpsertProduct(ctx, product))
	case domain.KindCategoryUpsert:
		var category domain.Category
		if err := decodePayload(item, &category, func() error { return category.Validate() }); err != nil {
			return nil, err
		}
		return nil, wrapRepo(item, s.repo.UpsertCategory(ctx, category))
	case domain.KindSaleAdd, domain.KindSaleUpdate:
		var sale domain.SaleRecord
		if err := decodePayload(item, &sale, func() error { return sale.Validate() }); err != nil {
			return nil, err
		}
		placeholder := placeholderFor(sale.StoreID, sale.StoreName)
		healed, err := s.repo.UpsertSale(ctx, sale, placeholder)
		return healedStore(healed, placeholder), wrapRepo(item, err)
	case domain.KindReturnAdd, domain.KindReturnUpdate:
		var ret domain.ReturnRecord
		if err := decodePayload(item, &ret, func() error { return ret.Validate() }); err != nil {
			return nil, err
		}
		placeholder := placeholderFor(ret.StoreID, ret.StoreName)
		healed, err := s.repo.UpsertReturn(ctx, ret, placeholder)
		return healedStore(healed, placeholder), wrapRepo(item, err)
	case domain.KindCashAdd, domain.KindCashUpdate:
		var receipt domain.CashReceipt
		if err := decodePayload(item, &receipt, func() error { return receipt.Validate() }); err != nil {
			return nil, err
		}
		placeholder := placeholderFor(receipt.StoreID, "")
		healed, err := s.repo.UpsertCashReceipt(ctx, receipt, placeholder)
		return healedStore(healed, placeholder), wrapRepo(item, err)
	}

	var ref domain.RemovePayload
	if err := decodePayload(item, &ref, func() error {
		if strings.TrimSpace(ref.ID) == "" {
			return errors.New("id is required")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	switch item.Kind {
	case domain.KindStoreRemove:
		return nil, wrapRepo(item, s.repo.DeleteStore(ctx, ref.ID))
	case domain.KindProductRemove:
		return nil, wrapRepo(item, s.repo.DeleteProduct(ctx, ref.ID))
	case domain.KindCategoryRemove:
		return nil, wrapRepo(item, s.repo.DeleteCategory(ctx, ref.ID))
	case domain.KindSaleRemove:
		return nil, wrapRepo(item, s.repo.DeleteSale(ctx, ref.ID))
	case domain.KindReturnRemove:
		return nil, wrapRepo(item, s.repo.DeleteReturn(ctx, ref.ID))
	case domain.KindCashRemove:
		return nil, wrapRepo(item, s.repo.DeleteCashReceipt(ctx, ref.ID))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
}

// Snapshot returns every server collection. A cached snapshot is stored
// under the write version read before the repository, so a write that lands
// mid-read moves readers to a new key instead of leaving a stale entry live.
func (s *Service) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	version, err := s.cache.Version(ctx)
	if err != nil {
		log.Printf("[service] WARN: snapshot cache version failed: %v", err)
		return s.repo.Snapshot(ctx)
	}
	key := snapshotCacheKey(version)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		log.Printf("[service] WARN: snapshot cache get failed: %v", err)
	}
	if ok && cached != nil {
		return *cached, nil
	}

	snap, err := s.repo.Snapshot(ctx)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if err := s.cache.Set(ctx, key, &snap, s.cacheTTL); err != nil {
		log.Printf("[service] WARN: snapshot cache set failed: %v", err)
	}
	return snap, nil
}

// ListAuditLogs lists entries for one UTC day, or the last 24 hours when date
// is empty.
func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now.Add(time.Second)
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, ErrInvalidDate
		}
		from = parsed.UTC()
		to = from.Add(24 * time.Hour)
	}

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) invalidateSnapshot(ctx context.Context) {
	if _, err := s.cache.Bump(ctx); err != nil {
		log.Printf("[service] WARN: snapshot cache version bump failed: %v", err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		Action:        action,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s: %v", action, err)
	}
}

func decodePayload(item domain.QueueItem, dest any, validate func() error) error {
	if len(item.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(item.Payload, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

func wrapRepo(item domain.QueueItem, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("apply %s: %w", item.Kind, err)
}

func placeholderFor(storeID string, storeName string) domain.Store {
	if storeID == "" {
		return domain.Store{}
	}
	return domain.PlaceholderStore(storeID, storeName)
}

func healedStore(healed bool, placeholder domain.Store) *domain.Store {
	if !healed {
		return nil
	}
	return &placeholder
}
