// Package posclient is the command-line POS client: it records sales,
// returns, cash and catalog edits into the local state and syncs them with
// the server.
package posclient

import (
	"fmt"

	"github.com/spf13/cobra"

	"tokoku/internal/config"
)

// RootOptions holds the global flags shared by every command.
type RootOptions struct {
	Config  config.ClientConfig
	Format  string
	Offline bool
}

var validFormats = []string{"text", "json"}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Config: config.LoadClient()}

	cmd := &cobra.Command{
		Use:           "posclient",
		Short:         "Offline-first POS client",
		Long:          "Record sales, returns, cash receipts and catalog edits locally and sync them with the tokoku server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			if opts.Config.PushMode != "partial" && opts.Config.PushMode != "all" {
				return fmt.Errorf("invalid push mode %q: must be partial or all", opts.Config.PushMode)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.Config.ServerURL, "server", opts.Config.ServerURL, "sync server base URL")
	flags.StringVar(&opts.Config.StatePath, "state", opts.Config.StatePath, "path to the local SQLite state file")
	flags.StringVar(&opts.Config.Username, "username", opts.Config.Username, "server username")
	flags.StringVar(&opts.Config.Password, "password", opts.Config.Password, "server password")
	flags.StringVar(&opts.Config.PushMode, "push-mode", opts.Config.PushMode, "push acknowledgement mode (partial|all)")
	flags.IntVar(&opts.Config.MaxAttempts, "max-attempts", opts.Config.MaxAttempts, "failed attempts before an item is dead-lettered (0 = never)")
	flags.IntVar(&opts.Config.SyncTimeoutSeconds, "timeout", opts.Config.SyncTimeoutSeconds, "timeout in seconds for each sync run")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json)")
	flags.BoolVar(&opts.Offline, "offline", false, "work offline; changes stay queued")

	cmd.AddCommand(newStoreCommand(opts))
	cmd.AddCommand(newProductCommand(opts))
	cmd.AddCommand(newCategoryCommand(opts))
	cmd.AddCommand(newLineCommand(opts, saleLines))
	cmd.AddCommand(newLineCommand(opts, returnLines))
	cmd.AddCommand(newCashCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newPushCommand(opts))
	cmd.AddCommand(newPullCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	cmd.AddCommand(newDeadLetterCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}
