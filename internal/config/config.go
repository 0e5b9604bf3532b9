// Package config loads the datasync configuration file.
//
// A configuration is written in YAML or CUE. Either way it is unified with
// the embedded #Config schema and must be concrete before it is decoded.
// Values from the environment (optionally seeded from .env files) override
// the file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/roach88/datasync/internal/dataset"
	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/value"
)

//go:embed schema.cue
var schemaSource string

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DATASYNC_"

// Config is the decoded configuration file.
type Config struct {
	Endpoint string            `json:"endpoint"`
	Timeout  string            `json:"timeout,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Probe    *Probe            `json:"probe,omitempty"`
	LogLevel string            `json:"log_level,omitempty"`
	Tick     string            `json:"tick,omitempty"`
	Storage  Storage           `json:"storage"`
	Defaults *Sync             `json:"defaults,omitempty"`
	Datasets []Dataset         `json:"datasets,omitempty"`
}

// Probe configures the connectivity probe.
type Probe struct {
	URL      string `json:"url"`
	Interval string `json:"interval,omitempty"`
}

// Storage selects and configures the snapshot backend.
type Storage struct {
	Backend    string `json:"backend"`
	Path       string `json:"path,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
	Passphrase string `json:"passphrase,omitempty"`
	S3         *S3    `json:"s3,omitempty"`
}

// S3 configures the S3 backend.
type S3 struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region,omitempty"`
	Endpoint        string `json:"endpoint,omitempty"`
	Prefix          string `json:"prefix,omitempty"`
	AccessKeyID     string `json:"access_key_id,omitempty"`
	SecretAccessKey string `json:"secret_access_key,omitempty"`
	UsePathStyle    bool   `json:"use_path_style,omitempty"`
}

// Sync holds sync settings. Unset fields inherit from the level above.
type Sync struct {
	Interval             string   `json:"interval,omitempty"`
	CrashCountWait       *int     `json:"crash_count_wait,omitempty"`
	ResendCrashedUpdates *bool    `json:"resend_crashed_updates,omitempty"`
	AutoSyncLocalUpdates *bool    `json:"auto_sync_local_updates,omitempty"`
	Notify               []string `json:"notify,omitempty"`
}

// Dataset declares one managed dataset.
type Dataset struct {
	ID          string         `json:"id"`
	QueryParams map[string]any `json:"query_params,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Sync        *Sync          `json:"sync,omitempty"`
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads, validates and decodes a configuration file, then applies
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var format string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		format = "cue"
	case ".yaml", ".yml", ".json":
		format = "yaml"
	default:
		return nil, fmt.Errorf("config %s: unsupported extension", path)
	}

	cfg, err := Parse(data, format, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse validates and decodes configuration text. format is "yaml" (which
// also accepts JSON) or "cue"; name labels error positions.
func Parse(data []byte, format, name string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	var doc cue.Value
	switch format {
	case "cue":
		doc = ctx.CompileBytes(data, cue.Filename(name))
	case "yaml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("config %s: %w", name, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
		doc = ctx.Encode(raw)
	default:
		return nil, fmt.Errorf("config %s: unknown format %q", name, format)
	}
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}

	var cfg Config
	if err := unified.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config %s: decode: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", name, err)
	}
	return &cfg, nil
}

// ApplyEnv overrides file values with DATASYNC_* variables. lookup is
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvPrefix + "ENDPOINT"); ok {
		c.Endpoint = v
	}
	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvPrefix + "STORAGE_BACKEND"); ok {
		c.Storage.Backend = v
	}
	if v, ok := lookup(EnvPrefix + "STORAGE_PATH"); ok {
		c.Storage.Path = v
	}
	if v, ok := lookup(EnvPrefix + "PASSPHRASE"); ok {
		c.Storage.Passphrase = v
	}
	if v, ok := lookup(EnvPrefix + "S3_ACCESS_KEY_ID"); ok && c.Storage.S3 != nil {
		c.Storage.S3.AccessKeyID = v
	}
	if v, ok := lookup(EnvPrefix + "S3_SECRET_ACCESS_KEY"); ok && c.Storage.S3 != nil {
		c.Storage.S3.SecretAccessKey = v
	}
	return c.Validate()
}

// Validate checks what the schema cannot: durations parse and values
// survive environment overrides.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	switch c.Storage.Backend {
	case "sqlite", "file", "memory":
	case "s3":
		if c.Storage.S3 == nil || c.Storage.S3.Bucket == "" {
			return errors.New("storage: s3 backend requires a bucket")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q", c.Storage.Backend)
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if _, err := c.TimeoutDuration(); err != nil {
		return err
	}
	if _, err := c.TickDuration(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Datasets))
	for _, ds := range c.Datasets {
		if seen[ds.ID] {
			return fmt.Errorf("dataset %q declared twice", ds.ID)
		}
		seen[ds.ID] = true
		if _, err := c.SyncConfig(ds); err != nil {
			return fmt.Errorf("dataset %q: %w", ds.ID, err)
		}
	}
	return nil
}

// TimeoutDuration returns the request timeout, zero when unset.
func (c *Config) TimeoutDuration() (time.Duration, error) {
	return optionalDuration("timeout", c.Timeout)
}

// TickDuration returns the scheduler tick, zero when unset.
func (c *Config) TickDuration() (time.Duration, error) {
	return optionalDuration("tick", c.Tick)
}

// ProbeInterval returns the probe interval, zero when unset.
func (c *Config) ProbeInterval() (time.Duration, error) {
	if c.Probe == nil {
		return 0, nil
	}
	return optionalDuration("probe.interval", c.Probe.Interval)
}

func optionalDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", field)
	}
	return d, nil
}

// SyncConfig resolves a dataset's sync configuration: built-in defaults,
// then the file's defaults, then the dataset's own settings.
func (c *Config) SyncConfig(ds Dataset) (dataset.SyncConfig, error) {
	cfg := dataset.DefaultSyncConfig()
	for _, s := range []*Sync{c.Defaults, ds.Sync} {
		if s == nil {
			continue
		}
		if err := s.apply(&cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func (s *Sync) apply(cfg *dataset.SyncConfig) error {
	if s.Interval != "" {
		d, err := optionalDuration("interval", s.Interval)
		if err != nil {
			return err
		}
		cfg.Interval = d
	}
	if s.CrashCountWait != nil {
		cfg.CrashCountWait = *s.CrashCountWait
	}
	if s.ResendCrashedUpdates != nil {
		cfg.ResendCrashedUpdates = *s.ResendCrashedUpdates
	}
	if s.AutoSyncLocalUpdates != nil {
		cfg.AutoSyncLocalUpdates = *s.AutoSyncLocalUpdates
	}
	if s.Notify != nil {
		kinds := make([]notify.Kind, 0, len(s.Notify))
		for _, name := range s.Notify {
			k, err := notify.ParseKind(name)
			if err != nil {
				return err
			}
			kinds = append(kinds, k)
		}
		cfg.Notify = dataset.NotifyOf(kinds...)
	}
	return nil
}

// QueryParamsValue returns the dataset's query parameters as a JSON object, or
// nil when none are configured.
func (ds Dataset) QueryParamsValue() (value.Object, error) {
	return toObject("query_params", ds.QueryParams)
}

// MetadataValue returns the dataset's custom metadata as a JSON object, or
// nil when none is configured.
func (ds Dataset) MetadataValue() (value.Object, error) {
	return toObject("metadata", ds.Metadata)
}

func toObject(field string, m map[string]any) (value.Object, error) {
	if m == nil {
		return nil, nil
	}
	v, err := value.FromGo(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return v.(value.Object), nil
}
