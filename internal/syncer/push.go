package syncer

import (
	"cmp"
	"context"
	"fmt"
	"log"
	"slices"
	"time"

	"tokoku/internal/domain"
)

type PushResult struct {
	Applied      []string             `json:"applied"`
	Failed       []domain.PushFailure `json:"failed"`
	DeadLettered []string             `json:"dead_lettered"`
	Placeholders []domain.Store       `json:"placeholders"`
	Remaining    int                  `json:"remaining"`
}

// Push sends the current queue to the server. Concurrent calls share one
// in-flight push. Items enqueued while a push is in flight stay queued; when
// anything remains after a push the server accepted, another debounced push
// is scheduled.
func (e *Engine) Push(ctx context.Context) (PushResult, error) {
	v, err, _ := e.flight.Do("push", func() (any, error) {
		return e.push(ctx)
	})
	res, _ := v.(PushResult)
	return res, err
}

func (e *Engine) push(ctx context.Context) (PushResult, error) {
	if !e.online() {
		return PushResult{}, ErrOffline
	}

	e.netMu.Lock()
	defer e.netMu.Unlock()

	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return PushResult{}, err
	}
	batch := slices.Clone(e.state.queue)
	e.mu.Unlock()

	if len(batch) == 0 {
		return PushResult{}, nil
	}

	var (
		resp    domain.PushResponse
		sendErr error
		applied []string
	)
	switch e.opts.PushMode {
	case PushModeAll:
		resp, sendErr = e.transport.ApplyAll(ctx, batch)
		if sendErr == nil {
			applied = make([]string, len(batch))
			for i, item := range batch {
				applied[i] = item.ID
			}
		}
	default:
		resp, sendErr = e.transport.Push(ctx, batch)
		applied = resp.AppliedIDs
	}

	// A transport failure with no per-item verdict leaves the queue untouched.
	if sendErr != nil && len(resp.Failed) == 0 {
		return PushResult{Remaining: len(batch)}, fmt.Errorf("push %d items: %w", len(batch), sendErr)
	}

	res, err := e.settle(ctx, applied, resp)
	if err != nil {
		return res, err
	}
	if sendErr != nil {
		return res, fmt.Errorf("push %d items: %w", len(batch), sendErr)
	}
	if res.Remaining > 0 {
		e.schedulePush()
	}
	return res, nil
}

// settle applies a server verdict to the queue: applied items leave it,
// failed items record the attempt and move to the dead-letter set once they
// reach MaxAttempts. Placeholder stores the server created are mirrored
// locally unless the store already exists.
func (e *Engine) settle(ctx context.Context, applied []string, resp domain.PushResponse) (PushResult, error) {
	appliedSet := make(map[string]struct{}, len(applied))
	for _, id := range applied {
		appliedSet[id] = struct{}{}
	}
	failedSet := make(map[string]string, len(resp.Failed))
	for _, f := range resp.Failed {
		failedSet[f.ID] = f.Error
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return PushResult{}, err
	}

	next := e.state
	res := PushResult{Failed: resp.Failed}
	queue := make([]domain.QueueItem, 0, len(next.queue))
	var deadLetter []domain.QueueItem

	for _, item := range next.queue {
		if _, ok := appliedSet[item.ID]; ok {
			res.Applied = append(res.Applied, item.ID)
			continue
		}
		if msg, ok := failedSet[item.ID]; ok {
			item.Attempts++
			item.LastError = msg
			if e.opts.MaxAttempts > 0 && item.Attempts >= e.opts.MaxAttempts {
				deadLetter = append(deadLetter, item)
				res.DeadLettered = append(res.DeadLettered, item.ID)
				continue
			}
		}
		queue = append(queue, item)
	}
	next.queue = queue
	keys := []string{keyQueue}
	if len(deadLetter) > 0 {
		next.deadLetter = appendItems(next.deadLetter, deadLetter...)
		keys = append(keys, keyDeadLetter)
	}

	for _, placeholder := range resp.Placeholders {
		if _, ok := findRow(next.stores, placeholder.ID, storeKey); ok {
			continue
		}
		next.stores = upsertRow(next.stores, cloneStore(placeholder), storeKey)
		res.Placeholders = append(res.Placeholders, placeholder)
	}
	if len(res.Placeholders) > 0 {
		keys = append(keys, keyStores)
	}

	if err := e.commitLocked(ctx, next, keys...); err != nil {
		return PushResult{Remaining: len(e.state.queue)}, err
	}
	res.Remaining = len(next.queue)

	for _, item := range deadLetter {
		log.Printf("[syncer] WARN: moved %s %s to dead letter after %d attempts: %s", item.Kind, item.ID, item.Attempts, item.LastError)
	}
	return res, nil
}

// schedulePush (re)starts the debounce timer. The push runs in the
// background when the timer fires.
func (e *Engine) schedulePush() {
	e.mu.Lock()
	usable := e.usableLocked() == nil
	e.mu.Unlock()
	if !usable || !e.online() {
		return
	}

	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.pushTimer == nil {
		e.pushTimer = time.AfterFunc(e.opts.PushDebounce, e.firePush)
		return
	}
	e.pushTimer.Reset(e.opts.PushDebounce)
}

func (e *Engine) firePush() {
	e.runBackground("push", func(ctx context.Context) error {
		_, err := e.Push(ctx)
		return err
	})
}

// DeadLetters returns the items that exhausted their attempts, oldest first.
func (e *Engine) DeadLetters() []domain.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.deadLetter)
}

// Requeue moves a dead-lettered item back into the queue at its original
// position with a fresh attempt count.
func (e *Engine) Requeue(ctx context.Context, id string) error {
	e.mu.Lock()
	if err := e.usableLocked(); err != nil {
		e.mu.Unlock()
		return err
	}
	item, ok := findRow(e.state.deadLetter, id, queueKey)
	if !ok {
		e.mu.Unlock()
		return missing("dead letter", id)
	}

	next := e.state
	next.deadLetter = removeRow(next.deadLetter, id, queueKey)
	item.Attempts = 0
	item.LastError = ""
	pos, _ := slices.BinarySearchFunc(next.queue, item, compareQueued)
	next.queue = slices.Insert(slices.Clone(next.queue), pos, item)
	err := e.commitLocked(ctx, next, keyQueue, keyDeadLetter)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.schedulePush()
	return nil
}

// Discard drops a dead-lettered item for good. A discarded history add is
// also removed locally since no pull will ever return it; other local
// effects are replaced by server data on the next pull.
func (e *Engine) Discard(ctx context.Context, id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usableLocked(); err != nil {
		return err
	}
	item, ok := findRow(e.state.deadLetter, id, queueKey)
	if !ok {
		return missing("dead letter", id)
	}

	next := e.state
	next.deadLetter = removeRow(next.deadLetter, id, queueKey)
	keys := []string{keyDeadLetter}
	if key := dropDiscardedAdd(&next, item); key != "" {
		keys = append(keys, key)
	}
	if err := e.commitLocked(ctx, next, keys...); err != nil {
		return err
	}
	log.Printf("[syncer] discarded dead letter %s %s", item.Kind, item.ID)
	return nil
}

// dropDiscardedAdd removes the row a discarded add created unless another
// pending item still writes it. It returns the touched state key.
func dropDiscardedAdd(next *state, item domain.QueueItem) string {
	var key string
	switch item.Kind {
	case domain.KindSaleAdd:
		key = keySales
	case domain.KindReturnAdd:
		key = keyReturns
	case domain.KindCashAdd:
		key = keyCash
	default:
		return ""
	}
	rowID, err := item.TargetID()
	if err != nil || rowID == "" {
		return ""
	}
	for _, other := range next.pending() {
		if otherID, err := other.TargetID(); err == nil && otherID == rowID {
			return ""
		}
	}

	switch key {
	case keySales:
		next.sales = removeRow(next.sales, rowID, lineKey)
	case keyReturns:
		next.returns = removeRow(next.returns, rowID, lineKey)
	case keyCash:
		next.cash = removeRow(next.cash, rowID, cashKey)
	}
	return key
}

func queueKey(item domain.QueueItem) string { return item.ID }

func compareQueued(a, b domain.QueueItem) int {
	return cmp.Or(cmp.Compare(a.CreatedAt, b.CreatedAt), cmp.Compare(a.ID, b.ID))
}
