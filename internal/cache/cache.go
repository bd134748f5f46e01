package cache

import (
	"context"
	"time"

	"tokoku/internal/domain"
)

// SnapshotCache holds assembled pull snapshots keyed by write version. The
// version lives next to the cached values so every server sharing the cache
// sees the same one.
type SnapshotCache interface {
	Get(ctx context.Context, key string) (*domain.Snapshot, bool, error)
	Set(ctx context.Context, key string, value *domain.Snapshot, ttl time.Duration) error
	Version(ctx context.Context) (int64, error)
	// Bump advances the write version after a write commits.
	Bump(ctx context.Context) (int64, error)
}

type NoopSnapshotCache struct{}

func (NoopSnapshotCache) Get(_ context.Context, _ string) (*domain.Snapshot, bool, error) {
	return nil, false, nil
}

func (NoopSnapshotCache) Set(_ context.Context, _ string, _ *domain.Snapshot, _ time.Duration) error {
	return nil
}

func (NoopSnapshotCache) Version(_ context.Context) (int64, error) {
	return 0, nil
}

func (NoopSnapshotCache) Bump(_ context.Context) (int64, error) {
	return 0, nil
}
