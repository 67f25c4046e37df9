package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tinoosan/fetchq/internal/downloadcfg"
	"github.com/tinoosan/fetchq/internal/media"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Queue.MaxConcurrency != 4 {
		t.Errorf("expected default concurrency 4, got %d", cfg.Queue.MaxConcurrency)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("expected default retries 3, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.Backoff != 500*time.Millisecond || cfg.Queue.MaxBackoff != 30*time.Second {
		t.Errorf("unexpected backoff %v..%v", cfg.Queue.Backoff, cfg.Queue.MaxBackoff)
	}
	if cfg.Fetch.ChunkSize != 64*1024 {
		t.Errorf("expected chunk size 64KiB, got %d", cfg.Fetch.ChunkSize)
	}
	if cfg.Store != StoreSQLite {
		t.Errorf("expected sqlite store, got %s", cfg.Store)
	}
}

func TestLoadFile(t *testing.T) {
	yamlContent := `
listen: ":8080"
download_root: /srv/media
store: memory
queue:
  max_concurrency: 8
  max_retries: 5
  backoff: 2s
  max_backoff: 1m
  allowed_kinds: [video, image]
  partial: keep
fetch:
  chunk_size: 128KiB
  progress_bytes: 2 MB
  headers:
    Referer: https://example.com/
log:
  level: debug
  file: /var/log/fetchq.log
`
	path := filepath.Join(t.TempDir(), "fetchq.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg := Default()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Root != "/srv/media" || cfg.Store != StoreMemory {
		t.Errorf("top-level keys not applied: %+v", cfg)
	}
	if cfg.Queue.MaxConcurrency != 8 || cfg.Queue.MaxRetries != 5 {
		t.Errorf("queue keys not applied: %+v", cfg.Queue)
	}
	if cfg.Queue.Backoff != 2*time.Second || cfg.Queue.MaxBackoff != time.Minute {
		t.Errorf("durations not applied: %v %v", cfg.Queue.Backoff, cfg.Queue.MaxBackoff)
	}
	if cfg.Fetch.ChunkSize != 128*1024 {
		t.Errorf("expected chunk size 128KiB, got %d", cfg.Fetch.ChunkSize)
	}
	if cfg.Fetch.ProgressBytes != 2_000_000 {
		t.Errorf("expected progress bytes 2MB, got %d", cfg.Fetch.ProgressBytes)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Fetch.InactivityTimeout != 30*time.Second {
		t.Errorf("inactivity timeout lost its default: %v", cfg.Fetch.InactivityTimeout)
	}
	if cfg.TransferOptions().Partial != downloadcfg.PartialKeep {
		t.Errorf("expected partial keep")
	}
	al, err := cfg.AllowList()
	if err != nil {
		t.Fatalf("AllowList: %v", err)
	}
	if !al.AllowsKind(media.KindVideo) || al.AllowsKind(media.KindArchive) {
		t.Errorf("allow list not applied")
	}
	fo := cfg.Fetcher()
	if fo.Headers["Referer"] != "https://example.com/" || fo.Headers["User-Agent"] == "" {
		t.Errorf("fetch headers = %v", fo.Headers)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "concurrency: 3\n"},
		{"bad size", "fetch:\n  chunk_size: lots\n"},
		{"bad duration", "queue:\n  backoff: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			cfg := Default()
			if err := cfg.LoadFile(path); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	cfg := Default()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FETCHQ_MAX_CONCURRENCY", "2")
	t.Setenv("FETCHQ_MAX_RETRIES", "not-a-number")
	t.Setenv("FETCHQ_BACKOFF", "250ms")
	t.Setenv("FETCHQ_CHUNK_SIZE", "32KiB")
	t.Setenv("FETCHQ_ALLOWED_KINDS", "video, archive,")
	t.Setenv("FETCHQ_AUTOSTART", "false")
	t.Setenv("FETCHQ_COLLISION", "overwrite")
	t.Setenv("POSTGRES_HOST", "db.internal")

	cfg := Default()
	cfg.LoadEnv()

	if cfg.Queue.MaxConcurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.Queue.MaxConcurrency)
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("invalid value should keep default, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.Backoff != 250*time.Millisecond {
		t.Errorf("expected backoff 250ms, got %v", cfg.Queue.Backoff)
	}
	if cfg.Fetch.ChunkSize != 32*1024 {
		t.Errorf("expected chunk size 32KiB, got %d", cfg.Fetch.ChunkSize)
	}
	if strings.Join(cfg.Queue.AllowedKinds, ",") != "video,archive" {
		t.Errorf("allowed kinds = %v", cfg.Queue.AllowedKinds)
	}
	if cfg.Queue.AutoStart {
		t.Errorf("expected autostart false")
	}
	if cfg.TransferOptions().Collision != downloadcfg.CollisionOverwrite {
		t.Errorf("expected overwrite collision policy")
	}
	if cfg.PostgresParams().Host != "db.internal" {
		t.Errorf("postgres host not applied")
	}
	sc := cfg.Scheduler()
	if sc.Workers != 2 || sc.Backoff.Base != 250*time.Millisecond {
		t.Errorf("scheduler config = %+v", sc)
	}
}

func TestLoadUsesConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fetchq.yaml")
	if err := os.WriteFile(path, []byte("store: memory\nqueue:\n  max_concurrency: 6\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FETCHQ_CONFIG", path)
	t.Setenv("FETCHQ_MAX_CONCURRENCY", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("file not applied")
	}
	if cfg.Queue.MaxConcurrency != 7 {
		t.Errorf("env should win over file, got %d", cfg.Queue.MaxConcurrency)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown store", func(c *Config) { c.Store = "redis" }},
		{"no root", func(c *Config) { c.Root = " " }},
		{"zero workers", func(c *Config) { c.Queue.MaxConcurrency = 0 }},
		{"negative retries", func(c *Config) { c.Queue.MaxRetries = -1 }},
		{"inverted backoff", func(c *Config) { c.Queue.MaxBackoff = time.Millisecond }},
		{"unknown kind", func(c *Config) { c.Queue.AllowedKinds = []string{"music"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
