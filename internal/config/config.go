// Package config loads the YAML configuration shared by all commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dvloznov/bank-download/internal/adapter/httpfeed"
	infraBQ "github.com/dvloznov/bank-download/internal/infra/bigquery"
	"github.com/dvloznov/bank-download/internal/logger"
	"github.com/dvloznov/bank-download/internal/metrics"
	"github.com/dvloznov/bank-download/internal/notify"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreBigQuery = "bigquery"
)

// Archive kinds.
const (
	ArchiveNone = "none"
	ArchiveDir  = "dir"
	ArchiveGCS  = "gcs"
)

// EnvPrefix prefixes the environment variables that override file settings.
const EnvPrefix = "BANKDL_"

// Config is the whole configuration file.
type Config struct {
	Log       logger.Options  `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   metrics.Config  `yaml:"metrics"`
	Notify    notify.Config   `yaml:"notify"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Transport TransportConfig `yaml:"transport"`
	Accounts  []AccountConfig `yaml:"accounts"`

	// WindowDays is the width of one date window.
	WindowDays int `yaml:"window_days"`

	// dir is the directory of the config file; relative paths resolve from it.
	dir string
}

// StoreConfig selects where transactions are kept.
type StoreConfig struct {
	Backend     string         `yaml:"backend"`
	PostgresURL string         `yaml:"postgres_url"`
	BigQuery    infraBQ.Config `yaml:"bigquery"`
}

// ArchiveConfig selects where raw pages are copied.
type ArchiveConfig struct {
	Kind string `yaml:"kind"`
	Dir  string `yaml:"dir"`
	URI  string `yaml:"uri"` // gs://bucket/prefix
}

// ScheduleConfig drives the schedule command.
type ScheduleConfig struct {
	Cron    string `yaml:"cron"`
	Workers int    `yaml:"workers"`
	Listen  string `yaml:"listen"`
}

// TransportConfig applies to every account's HTTP client.
type TransportConfig struct {
	MinInterval time.Duration `yaml:"min_interval"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AccountConfig is one account to sync. The source is either a path to an
// adapter file or given inline.
type AccountConfig struct {
	Name     string           `yaml:"name"`
	Adapter  string           `yaml:"adapter"`
	Source   *httpfeed.Config `yaml:"source"`
	Session  string           `yaml:"session"`
	Disabled bool             `yaml:"disabled"`
}

// Load reads the config file at path. A .env file in the working
// directory is loaded first; ${VAR} references in the file are expanded and
// BANKDL_* variables override selected settings.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: reading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Load: reading %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("Load: %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse decodes, overrides, defaults and validates a config document.
func Parse(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(data)))))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides settings that are usually secrets or deployment
// specific.
func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"LOG_LEVEL":     &c.Log.Level,
		"LOG_FORMAT":    &c.Log.Format,
		"STORE":         &c.Store.Backend,
		"POSTGRES_URL":  &c.Store.PostgresURL,
		"BQ_PROJECT":    &c.Store.BigQuery.Project,
		"BQ_DATASET":    &c.Store.BigQuery.Dataset,
		"ARCHIVE_URI":   &c.Archive.URI,
		"PUSH_GATEWAY":  &c.Metrics.PushGateway,
		"SMTP_HOST":     &c.Notify.Host,
		"SMTP_USERNAME": &c.Notify.Username,
		"SMTP_PASSWORD": &c.Notify.Password,
		"SCHEDULE":      &c.Schedule.Cron,
		"LISTEN":        &c.Schedule.Listen,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sWORKERS: %w", EnvPrefix, err)
		}
		c.Schedule.Workers = n
	}
	if v, ok := os.LookupEnv(EnvPrefix + "MIN_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sMIN_INTERVAL: %w", EnvPrefix, err)
		}
		c.Transport.MinInterval = d
	}
	return nil
}

// ApplyDefaults sets default values.
func (c *Config) ApplyDefaults() {
	if c.Store.Backend == "" {
		c.Store.Backend = StoreMemory
	}
	if c.Archive.Kind == "" {
		switch {
		case c.Archive.URI != "":
			c.Archive.Kind = ArchiveGCS
		case c.Archive.Dir != "":
			c.Archive.Kind = ArchiveDir
		default:
			c.Archive.Kind = ArchiveNone
		}
	}
	if c.Schedule.Cron == "" {
		c.Schedule.Cron = "0 6 * * *"
	}
	if c.Schedule.Workers <= 0 {
		c.Schedule.Workers = 1
	}
	if c.Schedule.Listen == "" {
		c.Schedule.Listen = ":9090"
	}
	c.Metrics.ApplyDefaults()
	c.Notify.ApplyDefaults()
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("store.postgres_url is required for the postgres backend")
		}
	case StoreBigQuery:
		if c.Store.BigQuery.Project == "" || c.Store.BigQuery.Dataset == "" {
			return fmt.Errorf("store.bigquery.project and dataset are required for the bigquery backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	switch c.Archive.Kind {
	case ArchiveNone:
	case ArchiveDir:
		if c.Archive.Dir == "" {
			return fmt.Errorf("archive.dir is required for the dir archive")
		}
	case ArchiveGCS:
		if c.Archive.URI == "" {
			return fmt.Errorf("archive.uri is required for the gcs archive")
		}
	default:
		return fmt.Errorf("unknown archive kind %q", c.Archive.Kind)
	}

	if c.WindowDays < 0 {
		return fmt.Errorf("window_days must be positive")
	}

	seen := make(map[string]bool)
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("accounts[%d]: name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("accounts[%d]: duplicate account %q", i, a.Name)
		}
		seen[a.Name] = true
		if (a.Adapter == "") == (a.Source == nil) {
			return fmt.Errorf("account %s: exactly one of adapter or source is required", a.Name)
		}
	}
	return nil
}

// Path resolves p relative to the config file.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Enabled returns the accounts to sync. With names given, only those are
// returned, disabled or not; an unknown name is an error.
func (c *Config) Enabled(names ...string) ([]AccountConfig, error) {
	if len(names) == 0 {
		var out []AccountConfig
		for _, a := range c.Accounts {
			if !a.Disabled {
				out = append(out, a)
			}
		}
		return out, nil
	}

	byName := make(map[string]AccountConfig, len(c.Accounts))
	for _, a := range c.Accounts {
		byName[a.Name] = a
	}
	out := make([]AccountConfig, 0, len(names))
	for _, n := range names {
		a, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("Enabled: unknown account %q", n)
		}
		out = append(out, a)
	}
	return out, nil
}

// SourceConfig returns the adapter settings of a, reading its adapter file
// when the source is not inline.
func (c *Config) SourceConfig(a AccountConfig) (*httpfeed.Config, error) {
	if a.Source != nil {
		src := *a.Source
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("SourceConfig: account %s: %w", a.Name, err)
		}
		return &src, nil
	}
	src, err := httpfeed.LoadConfig(c.Path(a.Adapter))
	if err != nil {
		return nil, fmt.Errorf("SourceConfig: account %s: %w", a.Name, err)
	}
	return src, nil
}
