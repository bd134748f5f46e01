package posclient

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"tokoku/internal/kv"
	"tokoku/internal/remote"
	"tokoku/internal/syncer"
)

const probeTimeout = 3 * time.Second

// session is one command's view of the local state and the server.
type session struct {
	ctx    context.Context
	opts   *RootOptions
	store  *kv.SQLite
	engine *syncer.Engine
	out    printer
}

func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := opts.Config

	store, err := kv.OpenSQLite(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("open local state: %w", err)
	}

	client := remote.New(cfg.ServerURL, cfg.Username, cfg.Password, nil)
	online := false
	if !opts.Offline {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := client.Probe(probeCtx)
		cancel()
		if err != nil {
			log.Printf("[posclient] WARN: server unreachable, working offline: %v", err)
		} else {
			online = true
		}
	}

	engine := syncer.New(store, client, syncer.NewSignal(online), syncer.Options{
		PushMode:     syncer.PushMode(cfg.PushMode),
		PushDebounce: cfg.PushDebounce(),
		MaxAttempts:  cfg.MaxAttempts,
		SyncTimeout:  cfg.SyncTimeout(),
	})
	if err := engine.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("load local state: %w", err)
	}

	return &session{
		ctx:    ctx,
		opts:   opts,
		store:  store,
		engine: engine,
		out:    printer{format: opts.Format, w: cmd.OutOrStdout()},
	}, nil
}

func (s *session) close() {
	if err := s.engine.Close(); err != nil {
		log.Printf("[posclient] WARN: close sync engine: %v", err)
	}
	if err := s.store.Close(); err != nil {
		log.Printf("[posclient] WARN: close local state: %v", err)
	}
}

// flush pushes right away after a local write. A failed push is not a
// failed command: the write is already durable in the queue.
func (s *session) flush() {
	if !s.engine.Status().Online {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.Config.SyncTimeout())
	defer cancel()
	if _, err := s.engine.Push(ctx); err != nil {
		log.Printf("[posclient] WARN: change saved locally, push failed: %v", err)
	}
}

func (s *session) syncContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.opts.Config.SyncTimeout())
}

// withSession opens a session around fn and closes it afterwards.
func withSession(opts *RootOptions, fn func(s *session, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd, opts)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(s, args)
	}
}
