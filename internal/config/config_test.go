package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("SKALD_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.CacheDir != "static/opus" {
		t.Fatalf("unexpected default cache dir: %q", cfg.CacheDir)
	}
	if cfg.JobPollInterval != 2500*time.Millisecond {
		t.Fatalf("unexpected default poll interval: %v", cfg.JobPollInterval)
	}
	if cfg.StorageSignedURLTTL != 900*time.Second {
		t.Fatalf("unexpected signed URL TTL: %v", cfg.StorageSignedURLTTL)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("OPUS_CACHE_DIR", "/tmp/opus")
	t.Setenv("OPUS_FFMPEG_PATH", "/usr/bin/ffmpeg")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
	if cfg.CacheDir != "/tmp/opus" {
		t.Fatalf("expected legacy cache dir key to apply, got %q", cfg.CacheDir)
	}
}

func TestLoadFractionalPollInterval(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("OPUS_JOB_POLL_SECONDS", "0.5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.JobPollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.JobPollInterval)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("SKALD_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail for unsupported backend")
	}
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected load to fail without a DSN")
	}
}

func TestLoadFileLayerOverriddenByEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skald.yaml")
	body := []byte("db_dsn: file.sqlite\ndb_backend: sqlite\ncache_dir: /var/opus\nstorage_provider: s3\nstorage_bucket: skald-audio\ncache_ttl_seconds: 60\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("SKALD_CONFIG", path)
	t.Setenv("SKALD_CACHE_DIR", "/env/opus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("expected sqlite backend from file, got %q", cfg.DBBackend)
	}
	if cfg.CacheDir != "/env/opus" {
		t.Fatalf("expected env to win over file, got %q", cfg.CacheDir)
	}
	if cfg.CacheTTL != 60*time.Second {
		t.Fatalf("unexpected cache TTL from file: %v", cfg.CacheTTL)
	}
	if !cfg.StorageEnabled() {
		t.Fatal("expected storage tier enabled when bucket set")
	}
}

func TestStorageDisabledWithoutBucket(t *testing.T) {
	t.Setenv("SKALD_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.StorageEnabled() {
		t.Fatal("expected storage tier disabled without a bucket")
	}
}
