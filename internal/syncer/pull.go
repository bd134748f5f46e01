package syncer

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

type PullResult struct {
	ServerTime int64 `json:"server_time"`
	Pending    int   `json:"pending"`
}

type SyncResult struct {
	Push PushResult `json:"push"`
	Pull PullResult `json:"pull"`
}

// Pull fetches the server snapshot and merges it into local state. Writes
// still waiting in the queue or the dead-letter set are replayed on top, so
// a pull never loses or regresses a local edit.
func (e *Engine) Pull(ctx context.Context) (PullResult, error) {
	v, err, _ := e.flight.Do("pull", func() (any, error) {
		return e.pull(ctx)
	})
	res, _ := v.(PullResult)
	return res, err
}

func (e *Engine) pull(ctx context.Context) (PullResult, error) {
	if !e.online() {
		return PullResult{}, ErrOffline
	}

	e.netMu.Lock()
	defer e.netMu.Unlock()

	e.mu.Lock()
	err := e.usableLocked()
	e.mu.Unlock()
	if err != nil {
		return PullResult{}, err
	}

	snap, err := e.transport.Snapshot(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("pull snapshot: %w", err)
	}
	// Catalog collections replace local ones, so nil must not mean empty.
	if snap.Stores == nil || snap.Products == nil || snap.Categories == nil {
		return PullResult{}, ErrIncompleteSnapshot
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return PullResult{}, err
	}

	// Mutations made while the snapshot was in flight are already in the
	// queue and get replayed here.
	pending := e.state.pending()
	next := mergeSnapshot(e.state, snap, pending)
	next.meta.LastPull = snap.ServerTime
	if next.meta.LastPull == 0 {
		next.meta.LastPull = e.nowMillis()
	}

	keys := append(slices.Clone(collectionKeys), keyMeta)
	if err := e.commitLocked(ctx, next, keys...); err != nil {
		return PullResult{}, err
	}
	return PullResult{ServerTime: next.meta.LastPull, Pending: len(pending)}, nil
}

// Sync pushes the queue and then pulls. The pull runs even when the push
// fails; both errors are reported.
func (e *Engine) Sync(ctx context.Context) (SyncResult, error) {
	if !e.online() {
		return SyncResult{}, ErrOffline
	}

	var res SyncResult
	var pushErr, pullErr error
	res.Push, pushErr = e.Push(ctx)
	if errors.Is(pushErr, ErrClosed) || errors.Is(pushErr, ErrNotInitialized) {
		return res, pushErr
	}
	res.Pull, pullErr = e.Pull(ctx)
	return res, errors.Join(pushErr, pullErr)
}
