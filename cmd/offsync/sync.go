package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/cmd/internal/app"
	"github.com/velmie/offsync/config"
	"github.com/velmie/offsync/httptransport"
	"github.com/velmie/offsync/realtime/fswatch"
	"github.com/velmie/offsync/realtime/natsnotify"
	"github.com/velmie/offsync/realtime/wsnotify"
)

type syncOptions struct {
	*rootOptions
	Watch bool
}

// cycleSummary is the printable part of a CycleResult.
type cycleSummary struct {
	SourceID          string   `json:"sourceId"`
	Pushed            int      `json:"pushed"`
	Retried           int      `json:"retried"`
	PermanentlyFailed int      `json:"permanentlyFailed"`
	Conflicts         int      `json:"conflicts"`
	Applied           int      `json:"applied"`
	Replayed          int      `json:"replayed"`
	Errors            []string `json:"errors,omitempty"`
	TransportError    string   `json:"transportError,omitempty"`
	DurationMS        int64    `json:"durationMs"`
}

func newSyncCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &syncOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and pull remote ones",
		Long: `Run one sync cycle and print its summary.

With --watch the engine keeps running: it polls, listens on the configured
realtime sources and prunes the outbox until interrupted.

Example:
  offsync sync --config offsync.yaml
  offsync sync --config offsync.yaml --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep syncing until interrupted")

	return cmd
}

func runSync(cmd *cobra.Command, opts *syncOptions) error {
	ctx, stop := app.SignalContext(cmd.Context())
	defer stop()

	env, err := app.Load(ctx, &opts.Options, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	engine, err := newEngine(env)
	if err != nil {
		return err
	}

	if !opts.Watch {
		res, err := engine.RunCycle(ctx)
		if err != nil {
			return app.WrapExitError(app.ExitFailure, "sync", err)
		}
		summary := summarize(engine.SourceID(), res)
		if err := opts.output(cmd.OutOrStdout(), summary, summary.print); err != nil {
			return err
		}
		if res.TransportErr != nil {
			return app.WrapExitError(app.ExitFailure, "push", res.TransportErr)
		}

		return nil
	}

	tasks, cleanup, err := watchTasks(env, engine)
	if err != nil {
		return err
	}
	defer cleanup()

	env.Logger.Info("offsync watching", "tasks", len(tasks), "poll", env.Config.Sync.PollInterval)
	if err := app.RunTasks(ctx, env.Logger, tasks...); err != nil {
		return app.WrapExitError(app.ExitFailure, "watch", err)
	}
	env.Logger.Info("offsync stopped")

	return nil
}

func newEngine(env *app.Env) (*offsync.Engine, error) {
	remote := env.Config.Server
	if remote.URL == "" {
		return nil, app.WrapExitError(app.ExitUsage, "load config", errors.New("server.url is required to sync"))
	}

	clientOpts := []httptransport.ClientOption{
		httptransport.WithToken(remote.Token),
		httptransport.WithClientLogger(env.Logger),
	}
	if remote.Timeout > 0 {
		clientOpts = append(clientOpts, httptransport.WithHTTPClient(&http.Client{Timeout: remote.Timeout}))
	}
	if remote.MaxRetries != nil {
		clientOpts = append(clientOpts, httptransport.WithRetries(*remote.MaxRetries, 0, 0))
	}
	client, err := httptransport.NewClient(remote.URL, clientOpts...)
	if err != nil {
		return nil, app.WrapExitError(app.ExitUsage, "http client", err)
	}

	engineOpts := append(env.Config.EngineOptions(), offsync.WithLogger(env.Logger))
	engine, err := offsync.NewEngine(env.Runtime(), client, engineOpts...)
	if err != nil {
		return nil, app.WrapExitError(app.ExitFailure, "engine", err)
	}

	return engine, nil
}

// watchTasks assembles the engine loop, one realtime manager per configured
// notification source and the pruner.
func watchTasks(env *app.Env, engine *offsync.Engine) ([]app.Task, func(), error) {
	cfg := env.Config
	tasks := []app.Task{{Name: "engine", Run: engine.Run}}

	notifiers, cleanup, err := buildNotifiers(env)
	if err != nil {
		return nil, nil, err
	}

	for name, notifier := range notifiers {
		m, err := offsync.NewRealtimeManager(notifier, engine,
			offsync.WithRealtimeRegistry(env.Registry),
			offsync.WithResubscribeDelay(cfg.Realtime.ResubscribeDelay),
			offsync.WithRealtimeLogger(env.Logger.With("realtime", name)),
		)
		if err != nil {
			cleanup()
			return nil, nil, app.WrapExitError(app.ExitFailure, "realtime", err)
		}
		tasks = append(tasks, app.Task{Name: "realtime " + name, Run: m.Run})
	}

	if pc, ok := cfg.PrunerConfig(); ok {
		pc.Locker = env.DB.Locker
		pc.Logger = env.Logger
		pruner, err := offsync.NewPruner(engine.Queue(), pc)
		if err != nil {
			cleanup()
			return nil, nil, app.WrapExitError(app.ExitUsage, "pruner", err)
		}
		tasks = append(tasks, app.Task{Name: "pruner", Run: pruner.Run})
	}

	return tasks, cleanup, nil
}

func buildNotifiers(env *app.Env) (map[string]offsync.Notifier, func(), error) {
	rc := env.Config.Realtime
	notifiers := make(map[string]offsync.Notifier)
	closeAll := func() {}

	if rc.NATS != nil {
		nc, err := natsnotify.Connect(rc.NATS.URL, "offsync")
		if err != nil {
			return nil, nil, app.WrapExitError(app.ExitFailure, "connect nats", err)
		}
		closeAll = nc.Close
		n, err := natsnotify.NewNotifier(nc,
			natsnotify.WithSubject(rc.NATS.Subject),
			natsnotify.WithLogger(env.Logger),
		)
		if err != nil {
			closeAll()
			return nil, nil, app.WrapExitError(app.ExitFailure, "nats notifier", err)
		}
		notifiers["nats"] = n
	}

	if rc.WebSocket != "" {
		n, err := wsnotify.NewNotifier(rc.WebSocket,
			wsnotify.WithToken(env.Config.Server.Token),
			wsnotify.WithLogger(env.Logger),
		)
		if err != nil {
			closeAll()
			return nil, nil, app.WrapExitError(app.ExitUsage, "websocket notifier", err)
		}
		notifiers["websocket"] = n
	}

	if rc.WatchFile {
		if env.DB.Kind != config.KindSQLite {
			closeAll()
			return nil, nil, app.WrapExitError(app.ExitUsage, "file watcher",
				fmt.Errorf("realtime.watch_file needs a sqlite database, got %s", env.DB.Kind))
		}
		w, err := fswatch.New(env.DB.Path,
			fswatch.WithVersion(env.DB.Version),
			fswatch.WithLogger(env.Logger),
		)
		if err != nil {
			closeAll()
			return nil, nil, app.WrapExitError(app.ExitFailure, "file watcher", err)
		}
		notifiers["file"] = w
	}

	return notifiers, closeAll, nil
}

func summarize(sourceID string, res offsync.CycleResult) cycleSummary {
	s := cycleSummary{
		SourceID:          sourceID,
		Pushed:            res.Pushed,
		Retried:           res.Retried,
		PermanentlyFailed: res.PermanentlyFailed,
		Conflicts:         res.Conflicts,
		Applied:           res.Applied,
		Replayed:          res.Replay.Applied,
		DurationMS:        res.Duration.Milliseconds(),
	}
	for _, err := range res.Errors {
		s.Errors = append(s.Errors, err.Error())
	}
	if res.TransportErr != nil {
		s.TransportError = res.TransportErr.Error()
	}

	return s
}

func (s cycleSummary) print(w io.Writer) {
	fmt.Fprintf(w, "source:     %s\n", s.SourceID)
	fmt.Fprintf(w, "pushed:     %d\n", s.Pushed)
	fmt.Fprintf(w, "retried:    %d\n", s.Retried)
	fmt.Fprintf(w, "failed:     %d\n", s.PermanentlyFailed)
	fmt.Fprintf(w, "conflicts:  %d\n", s.Conflicts)
	fmt.Fprintf(w, "applied:    %d\n", s.Applied)
	if s.Replayed > 0 {
		fmt.Fprintf(w, "replayed:   %d\n", s.Replayed)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "error:      %s\n", e)
	}
	if s.TransportError != "" {
		fmt.Fprintf(w, "transport:  %s\n", s.TransportError)
	}
}
