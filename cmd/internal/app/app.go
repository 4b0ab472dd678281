// Package app holds the plumbing shared by the offsync binaries: exit codes,
// logging setup and opening the configured database.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/velmie/offsync"
	"github.com/velmie/offsync/config"
)

// Exit codes for CLI commands.
const (
	ExitSuccess = 0
	ExitFailure = 1
	// ExitUsage reports a bad flag or configuration file.
	ExitUsage = 2
)

// ExitError carries the process exit code for err.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}

	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode extracts the exit code from err. Errors without one exit with
// ExitFailure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	return ExitFailure
}

// Options are the persistent flags of every command.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// NewLogger builds the slog logger described by cfg. Verbose forces debug.
func NewLogger(w io.Writer, cfg config.Log, verbose bool) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler)
}

// Env is a loaded configuration with its database opened.
type Env struct {
	Config   *config.Config
	Logger   *slog.Logger
	DB       *config.Database
	Registry *offsync.Registry
}

// Load reads the configuration at opts.ConfigPath and opens its database.
// Callers must Close the returned Env.
func Load(ctx context.Context, opts *Options, stderr io.Writer) (*Env, error) {
	if opts.ConfigPath == "" {
		return nil, WrapExitError(ExitUsage, "load config", errors.New("--config is required"))
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "load config", err)
	}
	logger := NewLogger(stderr, cfg.Log, opts.Verbose)

	reg, err := cfg.Registry()
	if err != nil {
		return nil, WrapExitError(ExitUsage, "build registry", err)
	}
	db, err := config.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		code := ExitFailure
		if errors.Is(err, config.ErrInvalid) {
			code = ExitUsage
		}
		return nil, WrapExitError(code, "open database", err)
	}
	logger.Debug("database ready", "kind", db.Kind, "tables", len(cfg.Tables))

	return &Env{Config: cfg, Logger: logger, DB: db, Registry: reg}, nil
}

// Runtime returns the engine runtime of the opened database.
func (e *Env) Runtime() offsync.Runtime {
	rt := e.DB.Runtime(e.Registry)
	rt.Logger = e.Logger

	return rt
}

// Close releases the database.
func (e *Env) Close() {
	if err := e.DB.Close(); err != nil {
		e.Logger.Error("error closing database", "err", err)
	}
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}

	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Task is a long running component of a binary.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunTasks runs tasks until ctx is done or one of them fails. A failure
// cancels the others; the first failure is returned once all have stopped.
// A task returning context.Canceled after cancellation is not a failure.
func RunTasks(ctx context.Context, logger *slog.Logger, tasks ...Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(tasks))
	for _, task := range tasks {
		task := task
		go func() {
			logger.Debug("task started", "task", task.Name)
			err := task.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				err = fmt.Errorf("%s: %w", task.Name, err)
				cancel()
			} else {
				err = nil
			}
			logger.Debug("task stopped", "task", task.Name)
			errs <- err
		}()
	}

	var first error
	for range tasks {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}

	return first
}
