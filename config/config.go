// Package config loads the YAML configuration shared by the offsync binaries.
//
// A file is first validated against an embedded JSON Schema, then decoded
// strictly, so typos in keys are reported instead of silently ignored.
// ${VAR} references are expanded from the environment before parsing.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/velmie/offsync"
)

//go:embed schema.json
var schemaJSON []byte

const schemaURL = "https://github.com/velmie/offsync/config.schema.json"

// DefaultListenAddr is the server listen address when none is configured.
const DefaultListenAddr = ":8080"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("offsync config: invalid configuration")

// Config is the root of a configuration file.
type Config struct {
	// Database is a DSN: a SQLite path, sqlite://, mysql://, postgres:// or memory://.
	Database string        `yaml:"database"`
	SourceID string        `yaml:"source_id,omitempty"`
	UserID   string        `yaml:"user_id,omitempty"`
	Server   Remote        `yaml:"server,omitempty"`
	Sync     Sync          `yaml:"sync,omitempty"`
	Realtime Realtime      `yaml:"realtime,omitempty"`
	Prune    *Prune        `yaml:"prune,omitempty"`
	Listen   Listen        `yaml:"listen,omitempty"`
	Log      Log           `yaml:"log,omitempty"`
	Tables   []TableConfig `yaml:"tables"`
}

// Remote points a client at its sync server.
type Remote struct {
	URL        string        `yaml:"url,omitempty"`
	Token      string        `yaml:"token,omitempty"`
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries *int          `yaml:"max_retries,omitempty"`
}

// Sync holds engine tuning. Zero values keep the engine defaults.
type Sync struct {
	BatchSize    int           `yaml:"batch_size,omitempty"`
	MaxAttempts  int           `yaml:"max_attempts,omitempty"`
	MaxBatches   int           `yaml:"max_batches,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
	BackoffMin   time.Duration `yaml:"backoff_min,omitempty"`
	BackoffMax   time.Duration `yaml:"backoff_max,omitempty"`
}

// Realtime selects notification sources.
type Realtime struct {
	NATS             *NATS         `yaml:"nats,omitempty"`
	WebSocket        string        `yaml:"websocket,omitempty"`
	WatchFile        bool          `yaml:"watch_file,omitempty"`
	ResubscribeDelay time.Duration `yaml:"resubscribe_delay,omitempty"`
}

// NATS configures the NATS notifier and publisher.
type NATS struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject,omitempty"`
}

// Prune enables periodic outbox pruning.
// Pending items older than Retention are pruned as well unless FailedOnly
// is set.
type Prune struct {
	Retention  time.Duration `yaml:"retention"`
	CheckEvery time.Duration `yaml:"check_every,omitempty"`
	FailedOnly bool          `yaml:"failed_only,omitempty"`
}

// Listen configures offsync-server.
type Listen struct {
	Addr           string `yaml:"addr,omitempty"`
	Token          string `yaml:"token,omitempty"`
	ChangelogTable string `yaml:"changelog_table,omitempty"`
	PageSize       int    `yaml:"page_size,omitempty"`
	// WebSocket mounts the notification hub next to the push route.
	WebSocket bool `yaml:"websocket,omitempty"`
}

// Log configures the slog handler of the binaries.
type Log struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// TableConfig describes one syncable table.
type TableConfig struct {
	Name       string     `yaml:"name"`
	SchemaKey  string     `yaml:"schema_key,omitempty"`
	PrimaryKey []string   `yaml:"primary_key,omitempty"`
	UniqueKeys [][]string `yaml:"unique_keys,omitempty"`
	Order      int        `yaml:"order,omitempty"`
}

// Load reads, validates and decodes the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("offsync config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return cfg, nil
}

// Parse validates and decodes a YAML document.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))
	if err := Validate(data); err != nil {
		return nil, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := cfg.Registry(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// Validate checks a YAML document against the configuration schema.
func Validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if doc == nil {
		return fmt.Errorf("%w: empty document", ErrInvalid)
	}

	// Round trip through JSON so the validator sees plain JSON values.
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	return nil
}

var compileOnce = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("offsync config: schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("offsync config: schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("offsync config: schema: %w", err)
	}

	return sch, nil
})

func compiledSchema() (*jsonschema.Schema, error) {
	return compileOnce()
}

func (c *Config) applyDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = DefaultListenAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Registry builds the table registry.
func (c *Config) Registry() (*offsync.Registry, error) {
	tables := make([]offsync.Table, 0, len(c.Tables))
	for _, t := range c.Tables {
		tables = append(tables, offsync.Table{
			Name:       t.Name,
			SchemaKey:  t.SchemaKey,
			PrimaryKey: t.PrimaryKey,
			UniqueKeys: t.UniqueKeys,
			Order:      t.Order,
		})
	}

	return offsync.NewRegistry(tables...)
}

// EngineOptions translates the sync section and identities into engine options.
func (c *Config) EngineOptions() []offsync.EngineOption {
	var opts []offsync.EngineOption
	if c.Sync.BatchSize > 0 {
		opts = append(opts, offsync.WithBatchSize(c.Sync.BatchSize))
	}
	if c.Sync.MaxAttempts > 0 {
		opts = append(opts, offsync.WithMaxAttempts(c.Sync.MaxAttempts))
	}
	if c.Sync.MaxBatches > 0 {
		opts = append(opts, offsync.WithMaxBatches(c.Sync.MaxBatches))
	}
	if c.Sync.PollInterval > 0 {
		opts = append(opts, offsync.WithPollInterval(c.Sync.PollInterval))
	}
	if c.Sync.BackoffMin > 0 || c.Sync.BackoffMax > 0 {
		opts = append(opts, offsync.WithBackoff(c.Sync.BackoffMin, c.Sync.BackoffMax))
	}
	if c.SourceID != "" {
		opts = append(opts, offsync.WithSourceID(c.SourceID))
	}
	if c.UserID != "" {
		opts = append(opts, offsync.WithUserID(c.UserID))
	}

	return opts
}

// PrunerConfig returns the pruning settings, or false when pruning is off.
func (c *Config) PrunerConfig() (offsync.PrunerConfig, bool) {
	if c.Prune == nil {
		return offsync.PrunerConfig{}, false
	}

	return offsync.PrunerConfig{
		Retention:  c.Prune.Retention,
		CheckEvery: c.Prune.CheckEvery,
		FailedOnly: c.Prune.FailedOnly,
	}, true
}

// SlogLevel returns the configured level.
func (l Log) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}

	return level
}
