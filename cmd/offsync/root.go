package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/velmie/offsync/cmd/internal/app"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	app.Options
	Format string // "json" | "text"
}

var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "offsync",
		Short: "Offline-first sync client",
		Long: `offsync captures local writes into an outbox, pushes them to a sync
server and applies the changes other clients made.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return app.WrapExitError(app.ExitUsage, "invalid flag",
					fmt.Errorf("format %q: must be one of %v", opts.Format, validFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "offsync.yaml", "path to the configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newStatsCommand(opts))
	cmd.AddCommand(newPruneCommand(opts))
	cmd.AddCommand(newTriggersCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newRecoverCommand(opts))

	return cmd
}

// output writes v as JSON or calls text, depending on --format.
func (o *rootOptions) output(w io.Writer, v any, text func(io.Writer)) error {
	if o.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)

	return nil
}
