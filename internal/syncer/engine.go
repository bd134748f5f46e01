// Package syncer is the client side of offline-first sync: a local state
// store with optimistic mutators, a durable mutation queue, and the push and
// pull engines that reconcile both with the server.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"tokoku/internal/domain"
	"tokoku/internal/kv"
)

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrOffline        = errors.New("offline")
	ErrClosed         = errors.New("sync engine closed")
	ErrNotInitialized = errors.New("sync engine not initialized")

	// ErrIncompleteSnapshot is returned by Pull when the server snapshot
	// lacks a catalog collection. Local state is left untouched.
	ErrIncompleteSnapshot = errors.New("snapshot is missing a catalog collection")
)

type PushMode string

const (
	// PushModePartial removes only the items the server reports as applied.
	PushModePartial PushMode = "partial"
	// PushModeAll clears the submitted items only when the whole batch is
	// accepted.
	PushModeAll PushMode = "all"
)

// Transport is the engine's view of the server.
type Transport interface {
	// Push applies items and reports the outcome per item.
	Push(ctx context.Context, items []domain.QueueItem) (domain.PushResponse, error)
	// ApplyAll applies items as one unit. A non-nil error means the batch was
	// not acknowledged; Failed may still name the items the server rejected.
	ApplyAll(ctx context.Context, items []domain.QueueItem) (domain.PushResponse, error)
	Snapshot(ctx context.Context) (domain.Snapshot, error)
}

type Options struct {
	PushMode PushMode
	// PushDebounce delays a push after an enqueue so bursts of edits travel
	// in one batch.
	PushDebounce time.Duration
	// MaxAttempts moves an item to the dead-letter set after that many
	// per-item failures. Zero retries forever.
	MaxAttempts int
	// SyncTimeout bounds each background push, pull or sync run.
	SyncTimeout time.Duration
	// PollInterval runs a background sync periodically while online. Zero
	// disables polling.
	PollInterval time.Duration
	Now          func() time.Time
}

type Status struct {
	Online          bool  `json:"online"`
	Initialized     bool  `json:"initialized"`
	QueueLength     int   `json:"queue_length"`
	DeadLetterCount int   `json:"dead_letter_count"`
	LastPull        int64 `json:"last_pull"`
}

// Engine owns one client's local state. Construct it with New, call Init
// before use and Close when done; independent engines do not share state.
type Engine struct {
	store     kv.Store
	transport Transport
	conn      Connectivity
	opts      Options

	// mu guards state and the lifecycle flags.
	mu          sync.Mutex
	state       state
	initialized bool
	closed      bool

	// netMu keeps push and pull from interleaving so a sync drains the
	// queue before it refreshes.
	netMu  sync.Mutex
	flight singleflight.Group

	timerMu   sync.Mutex
	pushTimer *time.Timer

	baseCtx     context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	stopPoll    chan struct{}
	wg          sync.WaitGroup
}

// New builds an engine. conn may be nil, in which case the engine always
// considers itself online.
func New(store kv.Store, transport Transport, conn Connectivity, opts Options) *Engine {
	if opts.PushMode == "" {
		opts.PushMode = PushModePartial
	}
	if opts.PushDebounce < 0 {
		opts.PushDebounce = 0
	}
	if opts.MaxAttempts < 0 {
		opts.MaxAttempts = 0
	}
	if opts.SyncTimeout <= 0 {
		opts.SyncTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:     store,
		transport: transport,
		conn:      conn,
		opts:      opts,
	}
}

// Init loads persisted state, subscribes to connectivity changes and starts
// the poller. Calling it again is a no-op.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.initialized {
		e.mu.Unlock()
		return nil
	}

	loaded, err := loadState(ctx, e.store)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = loaded
	e.initialized = true
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	queued := len(loaded.queue)
	e.mu.Unlock()

	if e.conn != nil {
		e.unsubscribe = e.conn.Subscribe(e.onConnectivity)
	}
	if e.opts.PollInterval > 0 {
		e.stopPoll = make(chan struct{})
		e.wg.Add(1)
		go e.poll(e.stopPoll)
	}
	if queued > 0 && e.online() {
		e.schedulePush()
	}
	return nil
}

// Close stops timers and the poller, cancels background runs and waits for
// them. The kv store is left open for its owner to close.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	initialized := e.initialized
	e.mu.Unlock()

	if !initialized {
		return nil
	}
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	if e.stopPoll != nil {
		close(e.stopPoll)
	}
	e.timerMu.Lock()
	if e.pushTimer != nil {
		e.pushTimer.Stop()
	}
	e.timerMu.Unlock()

	e.cancel()
	e.wg.Wait()
	return nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Online:          e.online(),
		Initialized:     e.initialized && !e.closed,
		QueueLength:     len(e.state.queue),
		DeadLetterCount: len(e.state.deadLetter),
		LastPull:        e.state.meta.LastPull,
	}
}

func (e *Engine) Stores() []domain.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Store, len(e.state.stores))
	for i, st := range e.state.stores {
		out[i] = cloneStore(st)
	}
	return out
}

func (e *Engine) Products() []domain.Product {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.products)
}

func (e *Engine) Categories() []domain.Category {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.categories)
}

func (e *Engine) Sales() []domain.SaleRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.sales)
}

func (e *Engine) Returns() []domain.ReturnRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.returns)
}

func (e *Engine) CashReceipts() []domain.CashReceipt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.cash)
}

// Queue returns the pending items in push order.
func (e *Engine) Queue() []domain.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.state.queue)
}

func (e *Engine) online() bool {
	return e.conn == nil || e.conn.Online()
}

// usableLocked reports why the engine cannot serve calls. Callers hold mu.
func (e *Engine) usableLocked() error {
	if e.closed {
		return ErrClosed
	}
	if !e.initialized {
		return ErrNotInitialized
	}
	return nil
}

// commitLocked persists the listed keys of next in one write and only then
// makes next the current state. Callers hold mu.
func (e *Engine) commitLocked(ctx context.Context, next state, keys ...string) error {
	values := make(map[string]any, len(keys))
	for _, key := range keys {
		values[key] = next.value(key)
	}
	if err := e.store.SetMany(ctx, values); err != nil {
		return fmt.Errorf("persist local state: %w", err)
	}
	e.state = next
	return nil
}

func (e *Engine) newItem(kind domain.MutationKind, payload any) (domain.QueueItem, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.QueueItem{}, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return domain.QueueItem{}, err
	}
	return domain.QueueItem{
		ID:        id.String(),
		Kind:      kind,
		Payload:   raw,
		CreatedAt: e.opts.Now().UnixMilli(),
	}, nil
}

func (e *Engine) nowMillis() int64 {
	return e.opts.Now().UnixMilli()
}

// runBackground runs fn on its own goroutine with the sync timeout. Errors
// are logged, never returned.
func (e *Engine) runBackground(name string, fn func(ctx context.Context) error) {
	e.mu.Lock()
	if e.closed || !e.initialized {
		e.mu.Unlock()
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(e.baseCtx, e.opts.SyncTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && !errors.Is(err, ErrOffline) && !errors.Is(err, ErrClosed) {
			log.Printf("[syncer] WARN: background %s failed: %v", name, err)
		}
	}()
}

func (e *Engine) onConnectivity(online bool) {
	if !online {
		return
	}
	log.Printf("[syncer] connectivity restored, syncing")
	e.runBackground("sync", func(ctx context.Context) error {
		_, err := e.Sync(ctx)
		return err
	})
}

func (e *Engine) poll(stop <-chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !e.online() {
				continue
			}
			e.runBackground("poll", func(ctx context.Context) error {
				_, err := e.Sync(ctx)
				return err
			})
		}
	}
}
