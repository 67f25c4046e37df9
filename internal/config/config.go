// Package config loads fetchq settings from defaults, an optional YAML file
// named by FETCHQ_CONFIG, and FETCHQ_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/tinoosan/fetchq/internal/downloadcfg"
	"github.com/tinoosan/fetchq/internal/downloader/httpfetch"
	"github.com/tinoosan/fetchq/internal/media"
	"github.com/tinoosan/fetchq/internal/repo"
	"github.com/tinoosan/fetchq/internal/scheduler"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type Config struct {
	Listen   string         `yaml:"listen"`
	APIToken string         `yaml:"api_token"`
	Root     string         `yaml:"download_root"`
	DataDir  string         `yaml:"data_dir"`
	Store    string         `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	Queue    QueueConfig    `yaml:"queue"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Log      LogConfig      `yaml:"log"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	DB       string `yaml:"db"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type QueueConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency"`
	MaxRetries     int           `yaml:"max_retries"`
	Backoff        time.Duration `yaml:"backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	// AutoStart starts dispatching as soon as the server is up.
	AutoStart    bool     `yaml:"autostart"`
	AllowedKinds []string `yaml:"allowed_kinds"`
	Collision    string   `yaml:"collision"`
	Partial      string   `yaml:"partial"`
}

type FetchConfig struct {
	ChunkSize         ByteSize          `yaml:"chunk_size"`
	InactivityTimeout time.Duration     `yaml:"inactivity_timeout"`
	ProgressInterval  time.Duration     `yaml:"progress_interval"`
	ProgressBytes     ByteSize          `yaml:"progress_bytes"`
	UserAgent         string            `yaml:"user_agent"`
	Headers           map[string]string `yaml:"headers"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ByteSize accepts human readable sizes such as "64KiB" or "1 MB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(n *yaml.Node) error {
	v, err := parseBytes(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*b = ByteSize(v)
	return nil
}

func parseBytes(s string) (int64, error) {
	v, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return int64(v), nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Listen:  ":9090",
		Root:    "downloads",
		DataDir: "data",
		Store:   StoreSQLite,
		Postgres: PostgresConfig{
			Host:    "postgres",
			Port:    "5432",
			DB:      "fetchq",
			User:    "fetchq",
			SSLMode: "disable",
		},
		Queue: QueueConfig{
			MaxConcurrency: 4,
			MaxRetries:     3,
			Backoff:        500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			AutoStart:      true,
			Collision:      string(downloadcfg.CollisionSkip),
			Partial:        string(downloadcfg.PartialDelete),
		},
		Fetch: FetchConfig{
			ChunkSize:         64 << 10,
			InactivityTimeout: 30 * time.Second,
			ProgressInterval:  250 * time.Millisecond,
			ProgressBytes:     1 << 20,
			UserAgent:         defaultUserAgent,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the effective configuration.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("FETCHQ_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.LoadEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in a YAML file.
func (c *Config) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(b)))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config file %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadEnv overlays FETCHQ_* variables. Values that do not parse keep the
// current setting.
func (c *Config) LoadEnv() {
	c.Listen = getenv("FETCHQ_LISTEN", c.Listen)
	c.APIToken = getenv("FETCHQ_API_TOKEN", c.APIToken)
	c.Root = getenv("FETCHQ_DOWNLOAD_ROOT", c.Root)
	c.DataDir = getenv("FETCHQ_DATA_DIR", c.DataDir)
	c.Store = getenv("FETCHQ_STORE", c.Store)

	c.Postgres.Host = getenv("POSTGRES_HOST", c.Postgres.Host)
	c.Postgres.Port = getenv("POSTGRES_PORT", c.Postgres.Port)
	c.Postgres.DB = getenv("POSTGRES_DB", c.Postgres.DB)
	c.Postgres.User = getenv("POSTGRES_USER", c.Postgres.User)
	c.Postgres.Password = getenv("POSTGRES_PASSWORD", c.Postgres.Password)
	c.Postgres.SSLMode = getenv("POSTGRES_SSLMODE", c.Postgres.SSLMode)

	c.Queue.MaxConcurrency = getenvInt("FETCHQ_MAX_CONCURRENCY", c.Queue.MaxConcurrency)
	c.Queue.MaxRetries = getenvInt("FETCHQ_MAX_RETRIES", c.Queue.MaxRetries)
	c.Queue.Backoff = getenvDuration("FETCHQ_BACKOFF", c.Queue.Backoff)
	c.Queue.MaxBackoff = getenvDuration("FETCHQ_MAX_BACKOFF", c.Queue.MaxBackoff)
	c.Queue.AutoStart = getenvBool("FETCHQ_AUTOSTART", c.Queue.AutoStart)
	if v := os.Getenv("FETCHQ_ALLOWED_KINDS"); v != "" {
		c.Queue.AllowedKinds = splitList(v)
	}
	c.Queue.Collision = getenv("FETCHQ_COLLISION", c.Queue.Collision)
	c.Queue.Partial = getenv("FETCHQ_PARTIAL", c.Queue.Partial)

	c.Fetch.ChunkSize = ByteSize(getenvBytes("FETCHQ_CHUNK_SIZE", int64(c.Fetch.ChunkSize)))
	c.Fetch.InactivityTimeout = getenvDuration("FETCHQ_INACTIVITY_TIMEOUT", c.Fetch.InactivityTimeout)
	c.Fetch.ProgressInterval = getenvDuration("FETCHQ_PROGRESS_INTERVAL", c.Fetch.ProgressInterval)
	c.Fetch.ProgressBytes = ByteSize(getenvBytes("FETCHQ_PROGRESS_BYTES", int64(c.Fetch.ProgressBytes)))
	c.Fetch.UserAgent = getenv("FETCHQ_USER_AGENT", c.Fetch.UserAgent)

	c.Log.Level = getenv("FETCHQ_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenv("FETCHQ_LOG_FORMAT", c.Log.Format)
	c.Log.File = getenv("FETCHQ_LOG_FILE", c.Log.File)
}

// Validate rejects settings the queue cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		errs = append(errs, fmt.Errorf("config: unknown store %q", c.Store))
	}
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("config: download_root is required"))
	}
	if c.Queue.MaxConcurrency < 1 {
		errs = append(errs, errors.New("config: max_concurrency must be at least 1"))
	}
	if c.Queue.MaxRetries < 0 {
		errs = append(errs, errors.New("config: max_retries must not be negative"))
	}
	if c.Queue.Backoff <= 0 || c.Queue.MaxBackoff < c.Queue.Backoff {
		errs = append(errs, errors.New("config: backoff must be positive and not exceed max_backoff"))
	}
	if c.Fetch.ChunkSize <= 0 {
		errs = append(errs, errors.New("config: chunk_size must be positive"))
	}
	if _, err := c.AllowList(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// AllowList converts the configured kinds. An empty list allows every kind.
func (c *Config) AllowList() (media.AllowList, error) {
	var kinds []media.Kind
	for _, s := range c.Queue.AllowedKinds {
		k, ok := media.ParseKind(s)
		if !ok {
			return media.AllowList{}, fmt.Errorf("config: unknown media kind %q", s)
		}
		kinds = append(kinds, k)
	}
	return media.NewAllowList(kinds...), nil
}

func (c *Config) TransferOptions() downloadcfg.Options {
	return downloadcfg.Options{
		Collision: downloadcfg.ParseCollisionPolicy(c.Queue.Collision),
		Partial:   downloadcfg.ParsePartialPolicy(c.Queue.Partial),
	}
}

func (c *Config) Scheduler() scheduler.Config {
	sc := scheduler.DefaultConfig()
	sc.Workers = c.Queue.MaxConcurrency
	sc.MaxRetries = c.Queue.MaxRetries
	sc.Backoff.Base = c.Queue.Backoff
	sc.Backoff.Max = c.Queue.MaxBackoff
	sc.Options = c.TransferOptions()
	return sc
}

func (c *Config) Fetcher() httpfetch.Options {
	headers := make(map[string]string, len(c.Fetch.Headers)+1)
	if c.Fetch.UserAgent != "" {
		headers["User-Agent"] = c.Fetch.UserAgent
	}
	for k, v := range c.Fetch.Headers {
		headers[k] = v
	}
	return httpfetch.Options{
		ChunkSize:         int(c.Fetch.ChunkSize),
		InactivityTimeout: c.Fetch.InactivityTimeout,
		ProgressInterval:  c.Fetch.ProgressInterval,
		ProgressBytes:     int64(c.Fetch.ProgressBytes),
		Headers:           headers,
	}
}

func (c *Config) PostgresParams() repo.PostgresParams {
	return repo.PostgresParams(c.Postgres)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return n
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return b
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return d
	}
	return def
}

func getenvBytes(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if n, err := parseBytes(v); err == nil {
		return n
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
