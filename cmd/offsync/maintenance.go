package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/cmd/internal/app"
)

func newStatsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show outbox counts by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, opts, func(env *app.Env, queue *offsync.Queue) error {
				stats, err := queue.Stats(cmd.Context())
				if err != nil {
					return app.WrapExitError(app.ExitFailure, "stats", err)
				}

				return opts.output(cmd.OutOrStdout(), stats, func(w io.Writer) {
					fmt.Fprintf(w, "pending:      %d\n", stats.Pending)
					fmt.Fprintf(w, "in_progress:  %d\n", stats.InProgress)
					fmt.Fprintf(w, "failed:       %d\n", stats.Failed)
					fmt.Fprintf(w, "total:        %d\n", stats.Total)
				})
			})
		},
	}
}

type pruneOptions struct {
	*rootOptions
	Retention  time.Duration
	FailedOnly bool
}

func newPruneCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &pruneOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old settled outbox items once",
		Long: `Delete outbox items older than the retention, except items still in
flight. The retention defaults to prune.retention from the configuration.

Pending items that were never pushed are deleted as well. Use --failed-only
to remove permanently failed items only.

Example:
  offsync prune --retention 168h
  offsync prune --retention 168h --failed-only`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, opts.rootOptions, func(env *app.Env, queue *offsync.Queue) error {
				pc, _ := env.Config.PrunerConfig()
				if opts.Retention > 0 {
					pc.Retention = opts.Retention
				}
				if pc.Retention <= 0 {
					return app.WrapExitError(app.ExitUsage, "prune",
						errors.New("set --retention or prune.retention"))
				}
				if opts.FailedOnly {
					pc.FailedOnly = true
				}
				pc.Locker = env.DB.Locker
				pc.Logger = env.Logger
				pruner, err := offsync.NewPruner(queue, pc)
				if err != nil {
					return app.WrapExitError(app.ExitUsage, "prune", err)
				}

				deleted, err := pruner.Ensure(cmd.Context())
				if err != nil {
					return app.WrapExitError(app.ExitFailure, "prune", err)
				}

				return opts.output(cmd.OutOrStdout(), map[string]int{"deleted": deleted}, func(w io.Writer) {
					fmt.Fprintf(w, "deleted: %d\n", deleted)
				})
			})
		},
	}

	cmd.Flags().DurationVar(&opts.Retention, "retention", 0, "delete items older than this duration, unpushed pending items included")
	cmd.Flags().BoolVar(&opts.FailedOnly, "failed-only", false, "delete only permanently failed items")

	return cmd
}

type triggersOptions struct {
	*rootOptions
	Install bool
	Drop    bool
}

func newTriggersCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &triggersOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "triggers",
		Short: "Install or drop change capture triggers",
		Long: `Install or drop the triggers that record writes to every configured
table into the outbox. Installing is idempotent.

Example:
  offsync triggers --install
  offsync triggers --drop`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Install == opts.Drop {
				return app.WrapExitError(app.ExitUsage, "triggers", errors.New("pass exactly one of --install or --drop"))
			}

			env, err := app.Load(cmd.Context(), &opts.Options, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer env.Close()

			action := "installed"
			if opts.Install {
				err = env.DB.InstallTriggers(cmd.Context(), env.Registry)
			} else {
				action = "dropped"
				err = env.DB.DropTriggers(cmd.Context(), env.Registry)
			}
			if err != nil {
				return app.WrapExitError(app.ExitFailure, "triggers", err)
			}

			tables := env.Registry.Tables()
			names := make([]string, 0, len(tables))
			for _, t := range tables {
				names = append(names, t.Name)
			}

			return opts.output(cmd.OutOrStdout(), map[string]any{action: names}, func(w io.Writer) {
				for _, name := range names {
					fmt.Fprintf(w, "%s %s\n", action, name)
				}
			})
		},
	}

	cmd.Flags().BoolVar(&opts.Install, "install", false, "install triggers")
	cmd.Flags().BoolVar(&opts.Drop, "drop", false, "drop triggers")

	return cmd
}

type userOptions struct {
	*rootOptions
	UserID string
}

func (o *userOptions) user(env *app.Env) string {
	if o.UserID != "" {
		return o.UserID
	}

	return env.Config.UserID
}

func newBackupCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &userOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Save the outstanding outbox for crash recovery",
		Long: `Copy pending and in-flight outbox items into the backup table. The
next sync (or recover) replays them if they went missing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, opts.rootOptions, func(env *app.Env, queue *offsync.Queue) error {
				saved, err := queue.Snapshot(cmd.Context(), opts.user(env))
				if err != nil {
					return app.WrapExitError(app.ExitFailure, "backup", err)
				}

				return opts.output(cmd.OutOrStdout(), map[string]int{"saved": saved}, func(w io.Writer) {
					fmt.Fprintf(w, "saved: %d\n", saved)
				})
			})
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id of the backup (defaults to user_id)")

	return cmd
}

func newRecoverCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &userOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay a saved outbox backup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueue(cmd, opts.rootOptions, func(env *app.Env, queue *offsync.Queue) error {
				res, err := queue.Recover(cmd.Context(), opts.user(env))
				if err != nil {
					return app.WrapExitError(app.ExitFailure, "recover", err)
				}
				for _, replayErr := range res.Errors {
					env.Logger.Warn("backup item not restored", "err", replayErr)
				}

				if err := opts.output(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "applied: %d\n", res.Applied)
					fmt.Fprintf(w, "skipped: %d\n", res.Skipped)
					fmt.Fprintf(w, "errors:  %d\n", len(res.Errors))
				}); err != nil {
					return err
				}
				if len(res.Errors) > 0 {
					return app.WrapExitError(app.ExitFailure, "recover",
						fmt.Errorf("%d items not restored, backup kept", len(res.Errors)))
				}

				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "user id of the backup (defaults to user_id)")

	return cmd
}

func withQueue(cmd *cobra.Command, opts *rootOptions, fn func(env *app.Env, queue *offsync.Queue) error) error {
	env, err := app.Load(cmd.Context(), &opts.Options, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	queue, err := offsync.NewQueue(env.Runtime())
	if err != nil {
		return app.WrapExitError(app.ExitFailure, "queue", err)
	}

	return fn(env, queue)
}
