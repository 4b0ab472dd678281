// Command offsync-server serves the reference sync receiver over HTTP.
//
// Clients push their outbox to /v1/push and receive the changes other clients
// made. Accepted changes are announced on the websocket hub and on NATS when
// those are configured.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/cmd/internal/app"
	"github.com/velmie/offsync/httptransport"
	"github.com/velmie/offsync/realtime/natsnotify"
	"github.com/velmie/offsync/realtime/wsnotify"
	"github.com/velmie/offsync/server"
)

const shutdownTimeout = 10 * time.Second

type serverOptions struct {
	app.Options
	Addr string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "offsync-server:", err)
		os.Exit(app.ExitCode(err))
	}
}

func newRootCommand() *cobra.Command {
	opts := &serverOptions{}

	cmd := &cobra.Command{
		Use:   "offsync-server",
		Short: "Reference offsync sync server",
		Long: `offsync-server accepts pushes from offsync clients, applies them to its
database, keeps a change log and returns the changes each client has not
seen yet.

Example:
  offsync-server --config server.yaml
  offsync-server --config server.yaml --addr :9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "offsync-server.yaml", "path to the configuration file")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides listen.addr)")

	return cmd
}

func runServer(cmd *cobra.Command, opts *serverOptions) error {
	ctx, stop := app.SignalContext(cmd.Context())
	defer stop()

	env, err := app.Load(ctx, &opts.Options, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer env.Close()

	if opts.Addr != "" {
		env.Config.Listen.Addr = opts.Addr
	}
	srv, err := newServer(ctx, env)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              env.Config.Listen.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	env.Logger.Info("offsync-server listening", "addr", httpServer.Addr, "database", env.DB.Kind)
	err = app.RunTasks(ctx, env.Logger, app.Task{Name: "http", Run: func(ctx context.Context) error {
		return serve(ctx, httpServer, srv)
	}})
	if err != nil {
		return app.WrapExitError(app.ExitFailure, "serve", err)
	}
	env.Logger.Info("offsync-server stopped", "seq", srv.receiver.Seq())

	return nil
}

// serve runs httpServer until ctx is done, then closes the websocket hub and
// drains in-flight pushes.
func serve(ctx context.Context, httpServer *http.Server, srv *syncServer) error {
	errs := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	if srv.hub != nil {
		srv.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return <-errs
}

// syncServer is the receiver with its optional notification fan-out.
type syncServer struct {
	receiver *server.Receiver
	handler  *httptransport.Handler
	hub      *wsnotify.Hub
	closers  []func()
}

func newServer(ctx context.Context, env *app.Env) (*syncServer, error) {
	cfg := env.Config
	srv := &syncServer{}

	table := cfg.Listen.ChangelogTable
	if table == "" {
		table = server.DefaultChangelogTable
	}
	if err := env.DB.InstallChangelog(ctx, table); err != nil {
		return nil, app.WrapExitError(app.ExitFailure, "install change log", err)
	}

	var publishers fanout
	if cfg.Listen.WebSocket {
		srv.hub = wsnotify.NewHub(
			wsnotify.WithToken(cfg.Listen.Token),
			wsnotify.WithLogger(env.Logger),
		)
		publishers = append(publishers, srv.hub)
	}
	if cfg.Realtime.NATS != nil {
		nc, err := natsnotify.Connect(cfg.Realtime.NATS.URL, "offsync-server")
		if err != nil {
			return nil, app.WrapExitError(app.ExitFailure, "connect nats", err)
		}
		srv.closers = append(srv.closers, nc.Close)
		pub, err := natsnotify.NewPublisher(nc,
			natsnotify.WithSubject(cfg.Realtime.NATS.Subject),
			natsnotify.WithLogger(env.Logger),
		)
		if err != nil {
			srv.Close()
			return nil, app.WrapExitError(app.ExitFailure, "nats publisher", err)
		}
		publishers = append(publishers, pub)
	}

	receiverOpts := []server.Option{
		server.WithChangelogTable(table),
		server.WithPageSize(cfg.Listen.PageSize),
		server.WithLogger(env.Logger),
	}
	if len(publishers) > 0 {
		receiverOpts = append(receiverOpts, server.WithPublisher(publishers))
	}
	// The Backend's dynamic type carries InTx; Database does not promote it.
	receiver, err := server.NewReceiver(env.DB.Backend, env.Registry, receiverOpts...)
	if err != nil {
		srv.Close()
		return nil, app.WrapExitError(app.ExitFailure, "receiver", err)
	}
	srv.receiver = receiver

	handler, err := httptransport.NewHandler(receiver,
		httptransport.WithRequiredToken(cfg.Listen.Token),
		httptransport.WithHandlerLogger(env.Logger),
	)
	if err != nil {
		srv.Close()
		return nil, app.WrapExitError(app.ExitFailure, "handler", err)
	}
	srv.handler = handler

	return srv, nil
}

// Handler routes the push API and, when enabled, the notification hub.
func (s *syncServer) Handler() http.Handler {
	if s.hub == nil {
		return s.handler
	}
	mux := http.NewServeMux()
	mux.Handle(wsnotify.Path, s.hub)
	mux.Handle("/", s.handler)

	return mux
}

func (s *syncServer) Close() {
	if s.hub != nil {
		s.hub.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// fanout publishes to every publisher and joins their errors.
type fanout []server.Publisher

func (f fanout) Publish(ctx context.Context, note offsync.Notification) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
