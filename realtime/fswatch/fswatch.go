// Package fswatch notifies when another process changes a local database
// file, so writes made by the application are pushed without waiting for the
// next poll.
//
// The engine itself writes to the same file. Pass a version probe (for SQLite,
// (*sqlite.DB).DataVersion) so that only commits from other connections fire.
package fswatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/velmie/offsync"
)

// Source is the Notification source reported for local file changes.
const Source = "local-file"

const defaultDebounce = 250 * time.Millisecond

// ErrPathRequired is returned when no file is given.
var ErrPathRequired = errors.New("offsync fswatch: path is required")

// VersionFunc reports a value that changes whenever someone else commits.
type VersionFunc func(ctx context.Context) (int64, error)

// Config defines Watcher behavior.
type Config struct {
	// Debounce collapses bursts of file events into one notification.
	Debounce time.Duration
	Version  VersionFunc
	Logger   offsync.Logger
}

func (c Config) withDefaults() Config {
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.Logger == nil {
		c.Logger = offsync.NopLogger{}
	}

	return c
}

// Option configures a Watcher.
type Option func(*Config)

// WithDebounce sets the debounce window.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.Debounce = d
	}
}

// WithVersion suppresses notifications while fn reports the same value.
func WithVersion(fn VersionFunc) Option {
	return func(c *Config) {
		c.Version = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger offsync.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// Watcher watches a database file and its journal siblings. It satisfies
// offsync.Notifier.
type Watcher struct {
	dir  string
	base string
	cfg  Config
}

// New builds a Watcher for the database file at path.
func New(path string, opts ...Option) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrPathRequired
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("offsync fswatch: resolve %s: %w", path, err)
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Watcher{dir: filepath.Dir(abs), base: filepath.Base(abs), cfg: cfg.withDefaults()}, nil
}

// Subscribe watches until ctx is done or the watcher fails.
func (w *Watcher) Subscribe(ctx context.Context, handle func(offsync.Notification)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("offsync fswatch: new watcher: %w", err)
	}
	defer fw.Close()

	// The directory is watched because SQLite creates and removes -wal and
	// -journal files next to the database.
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("offsync fswatch: watch %s: %w", w.dir, err)
	}

	last, haveLast := w.version(ctx)

	var fire <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("offsync fswatch: watcher closed")
			}

			return fmt.Errorf("offsync fswatch: %w", err)
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("offsync fswatch: watcher closed")
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.cfg.Debounce)
			} else {
				timer.Reset(w.cfg.Debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if w.cfg.Version != nil {
				v, ok := w.version(ctx)
				if ok && haveLast && v == last {
					continue
				}
				last, haveLast = v, ok
			}
			handle(offsync.Notification{Source: Source})
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	name := filepath.Base(ev.Name)

	return name == w.base || name == w.base+"-wal" || name == w.base+"-journal"
}

func (w *Watcher) version(ctx context.Context) (int64, bool) {
	if w.cfg.Version == nil {
		return 0, false
	}
	v, err := w.cfg.Version(ctx)
	if err != nil {
		w.cfg.Logger.Warn("database version probe failed", "err", err)
		return 0, false
	}

	return v, true
}
