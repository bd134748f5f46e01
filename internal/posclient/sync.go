package posclient

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"tokoku/internal/domain"
	"tokoku/internal/syncer"
)

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes, then pull the server state",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			ctx, cancel := s.syncContext()
			defer cancel()
			res, err := s.engine.Sync(ctx)
			if err != nil {
				return err
			}
			return s.out.emit(res, func(w io.Writer) {
				writePushResult(w, res.Push)
				fmt.Fprintf(w, "pulled\t%s\n", formatMillis(res.Pull.ServerTime))
			})
		}),
	}
}

func newPushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push",
		Short: "Push queued changes to the server",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			ctx, cancel := s.syncContext()
			defer cancel()
			res, err := s.engine.Push(ctx)
			if err != nil {
				return err
			}
			return s.out.emit(res, func(w io.Writer) { writePushResult(w, res) })
		}),
	}
}

func newPullCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Merge the server state into the local state",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			ctx, cancel := s.syncContext()
			defer cancel()
			res, err := s.engine.Pull(ctx)
			if err != nil {
				return err
			}
			return s.out.done(res, "pulled server state at %s, %d local changes kept", formatMillis(res.ServerTime), res.Pending)
		}),
	}
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and queue status",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			st := s.engine.Status()
			return s.out.emit(st, func(w io.Writer) {
				fmt.Fprintf(w, "online\t%t\n", st.Online)
				fmt.Fprintf(w, "queued\t%d\n", st.QueueLength)
				fmt.Fprintf(w, "dead letters\t%d\n", st.DeadLetterCount)
				fmt.Fprintf(w, "last pull\t%s\n", formatMillis(st.LastPull))
			})
		}),
	}
}

func newQueueCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "List changes waiting to be pushed",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			items := s.engine.Queue()
			return s.out.emit(items, func(w io.Writer) { writeItems(w, items) })
		}),
	}
}

func newDeadLetterCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dlq"},
		Short:   "Inspect and resolve changes the server kept rejecting",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dead-lettered changes",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			items := s.engine.DeadLetters()
			return s.out.emit(items, func(w io.Writer) { writeItems(w, items) })
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "requeue ID",
		Short: "Move a dead-lettered change back into the queue",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := s.engine.Requeue(s.ctx, args[0]); err != nil {
				return err
			}
			s.flush()
			return s.out.done(map[string]string{"requeued": args[0]}, "requeued %s", args[0])
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "discard ID",
		Short: "Drop a dead-lettered change for good",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := s.engine.Discard(s.ctx, args[0]); err != nil {
				return err
			}
			return s.out.done(map[string]string{"discarded": args[0]}, "discarded %s", args[0])
		}),
	})

	return cmd
}

func writePushResult(w io.Writer, res syncer.PushResult) {
	fmt.Fprintf(w, "applied\t%d\n", len(res.Applied))
	fmt.Fprintf(w, "failed\t%d\n", len(res.Failed))
	for _, f := range res.Failed {
		fmt.Fprintf(w, "  %s\t%s\n", f.ID, f.Error)
	}
	if len(res.DeadLettered) > 0 {
		fmt.Fprintf(w, "dead-lettered\t%d\n", len(res.DeadLettered))
	}
	for _, p := range res.Placeholders {
		fmt.Fprintf(w, "placeholder store\t%s\n", p.ID)
	}
	fmt.Fprintf(w, "remaining\t%d\n", res.Remaining)
}

func writeItems(w io.Writer, items []domain.QueueItem) {
	fmt.Fprintln(w, "ID\tKIND\tQUEUED\tATTEMPTS\tLAST ERROR")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", item.ID, item.Kind, time.UnixMilli(item.CreatedAt).Local().Format(time.DateTime), item.Attempts, item.LastError)
	}
}
