/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration. Values come from an optional
// YAML file (SKALD_CONFIG) overridden by environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Opus artifact cache (local tier)
	CacheDir   string
	CacheTTL   time.Duration
	FFmpegPath string

	// Transcode worker
	JobPollInterval time.Duration

	// Durable object storage (optional tier)
	StorageProvider        string
	StorageBucket          string
	StoragePrefix          string
	StorageRegion          string
	StorageEndpointURL     string
	StorageAccessKeyID     string
	StorageSecretAccessKey string
	StoragePublicBaseURL   string
	StorageSignedURLTTL    time.Duration
	StorageObjectTTL       time.Duration

	// Session defaults
	SessionCooldown  time.Duration
	SessionUserLimit int

	// Event broadcaster
	EventQueueSize int

	// Redis (read cache + leader election)
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	ReadCacheEnabled bool

	// Cross-instance event relay
	RelayEnabled bool
	NATSUrl      string

	// Multi-instance configuration
	LeaderElectionEnabled bool
	InstanceID            string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// fileConfig mirrors Config for the optional YAML file. Durations are
// plain seconds so the file reads the same as the environment keys.
type fileConfig struct {
	Environment                string   `yaml:"environment"`
	HTTPBind                   string   `yaml:"http_bind"`
	HTTPPort                   int      `yaml:"http_port"`
	DBBackend                  string   `yaml:"db_backend"`
	DBDSN                      string   `yaml:"db_dsn"`
	CacheDir                   string   `yaml:"cache_dir"`
	CacheTTLSeconds            *int     `yaml:"cache_ttl_seconds"`
	FFmpegPath                 string   `yaml:"ffmpeg_path"`
	JobPollSeconds             float64  `yaml:"job_poll_seconds"`
	StorageProvider            string   `yaml:"storage_provider"`
	StorageBucket              string   `yaml:"storage_bucket"`
	StoragePrefix              string   `yaml:"storage_prefix"`
	StorageRegion              string   `yaml:"storage_region"`
	StorageEndpointURL         string   `yaml:"storage_endpoint_url"`
	StorageAccessKeyID         string   `yaml:"storage_access_key_id"`
	StorageSecretAccessKey     string   `yaml:"storage_secret_access_key"`
	StoragePublicBaseURL       string   `yaml:"storage_public_base_url"`
	StorageSignedURLTTLSeconds int      `yaml:"storage_signed_url_ttl_seconds"`
	StorageObjectTTLSeconds    *int     `yaml:"storage_ttl_seconds"`
	SessionCooldownSeconds     int      `yaml:"session_cooldown_seconds"`
	SessionUserLimit           int      `yaml:"session_user_limit"`
	EventQueueSize             int      `yaml:"event_queue_size"`
	RedisAddr                  string   `yaml:"redis_addr"`
	RedisPassword              string   `yaml:"redis_password"`
	RedisDB                    int      `yaml:"redis_db"`
	ReadCacheEnabled           *bool    `yaml:"read_cache_enabled"`
	RelayEnabled               *bool    `yaml:"relay_enabled"`
	NATSUrl                    string   `yaml:"nats_url"`
	LeaderElectionEnabled      *bool    `yaml:"leader_election_enabled"`
	InstanceID                 string   `yaml:"instance_id"`
	TracingEnabled             *bool    `yaml:"tracing_enabled"`
	OTLPEndpoint               string   `yaml:"otlp_endpoint"`
	TracingSampleRate          *float64 `yaml:"tracing_sample_rate"`
}

// defaults returns the built-in configuration before file and env layers.
func defaults() *Config {
	return &Config{
		Environment:         "development",
		HTTPBind:            "0.0.0.0",
		HTTPPort:            8080,
		DBBackend:           DatabasePostgres,
		CacheDir:            "static/opus",
		CacheTTL:            604800 * time.Second,
		FFmpegPath:          "ffmpeg",
		JobPollInterval:     2500 * time.Millisecond,
		StoragePrefix:       "opus",
		StorageRegion:       "us-east-1",
		StorageSignedURLTTL: 900 * time.Second,
		StorageObjectTTL:    604800 * time.Second,
		SessionCooldown:     30 * time.Second,
		SessionUserLimit:    2,
		EventQueueSize:      100,
		RedisAddr:           "localhost:6379",
		ReadCacheEnabled:    true,
		NATSUrl:             "nats://localhost:4222",
		OTLPEndpoint:        "localhost:4317",
		TracingSampleRate:   1.0,
	}
}

// Load reads the optional config file and environment variables, applies
// defaults, and validates the result. Environment wins over file.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("SKALD_CONFIG"); path != "" {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKALD_DB_DSN or DATABASE_URL must be provided")
	}
	if cfg.JobPollInterval <= 0 {
		return nil, fmt.Errorf("SKALD_JOB_POLL_SECONDS must be positive")
	}
	if cfg.EventQueueSize <= 0 {
		return nil, fmt.Errorf("SKALD_EVENT_QUEUE_SIZE must be positive")
	}
	if cfg.StorageProvider != "" && cfg.StorageProvider != "s3" {
		return nil, fmt.Errorf("unsupported storage provider %q", cfg.StorageProvider)
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// StorageEnabled reports whether the durable object storage tier is active.
func (c *Config) StorageEnabled() bool {
	return c.StorageProvider == "s3" && c.StorageBucket != ""
}

func applyFile(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	setString(&cfg.Environment, fc.Environment)
	setString(&cfg.HTTPBind, fc.HTTPBind)
	if fc.HTTPPort != 0 {
		cfg.HTTPPort = fc.HTTPPort
	}
	if fc.DBBackend != "" {
		cfg.DBBackend = DatabaseBackend(fc.DBBackend)
	}
	setString(&cfg.DBDSN, fc.DBDSN)
	setString(&cfg.CacheDir, fc.CacheDir)
	if fc.CacheTTLSeconds != nil {
		cfg.CacheTTL = time.Duration(*fc.CacheTTLSeconds) * time.Second
	}
	setString(&cfg.FFmpegPath, fc.FFmpegPath)
	if fc.JobPollSeconds > 0 {
		cfg.JobPollInterval = time.Duration(fc.JobPollSeconds * float64(time.Second))
	}
	setString(&cfg.StorageProvider, fc.StorageProvider)
	setString(&cfg.StorageBucket, fc.StorageBucket)
	setString(&cfg.StoragePrefix, fc.StoragePrefix)
	setString(&cfg.StorageRegion, fc.StorageRegion)
	setString(&cfg.StorageEndpointURL, fc.StorageEndpointURL)
	setString(&cfg.StorageAccessKeyID, fc.StorageAccessKeyID)
	setString(&cfg.StorageSecretAccessKey, fc.StorageSecretAccessKey)
	setString(&cfg.StoragePublicBaseURL, fc.StoragePublicBaseURL)
	if fc.StorageSignedURLTTLSeconds > 0 {
		cfg.StorageSignedURLTTL = time.Duration(fc.StorageSignedURLTTLSeconds) * time.Second
	}
	if fc.StorageObjectTTLSeconds != nil {
		cfg.StorageObjectTTL = time.Duration(*fc.StorageObjectTTLSeconds) * time.Second
	}
	if fc.SessionCooldownSeconds > 0 {
		cfg.SessionCooldown = time.Duration(fc.SessionCooldownSeconds) * time.Second
	}
	if fc.SessionUserLimit > 0 {
		cfg.SessionUserLimit = fc.SessionUserLimit
	}
	if fc.EventQueueSize > 0 {
		cfg.EventQueueSize = fc.EventQueueSize
	}
	setString(&cfg.RedisAddr, fc.RedisAddr)
	setString(&cfg.RedisPassword, fc.RedisPassword)
	if fc.RedisDB != 0 {
		cfg.RedisDB = fc.RedisDB
	}
	if fc.ReadCacheEnabled != nil {
		cfg.ReadCacheEnabled = *fc.ReadCacheEnabled
	}
	if fc.RelayEnabled != nil {
		cfg.RelayEnabled = *fc.RelayEnabled
	}
	setString(&cfg.NATSUrl, fc.NATSUrl)
	if fc.LeaderElectionEnabled != nil {
		cfg.LeaderElectionEnabled = *fc.LeaderElectionEnabled
	}
	setString(&cfg.InstanceID, fc.InstanceID)
	if fc.TracingEnabled != nil {
		cfg.TracingEnabled = *fc.TracingEnabled
	}
	setString(&cfg.OTLPEndpoint, fc.OTLPEndpoint)
	if fc.TracingSampleRate != nil {
		cfg.TracingSampleRate = *fc.TracingSampleRate
	}

	return nil
}

func applyEnv(cfg *Config) {
	cfg.Environment = getEnvAny([]string{"SKALD_ENV"}, cfg.Environment)
	cfg.HTTPBind = getEnvAny([]string{"SKALD_HTTP_BIND"}, cfg.HTTPBind)
	cfg.HTTPPort = getEnvIntAny([]string{"SKALD_HTTP_PORT"}, cfg.HTTPPort)
	cfg.DBBackend = DatabaseBackend(getEnvAny([]string{"SKALD_DB_BACKEND"}, string(cfg.DBBackend)))
	cfg.DBDSN = getEnvAny([]string{"SKALD_DB_DSN", "DATABASE_URL"}, cfg.DBDSN)

	cfg.CacheDir = getEnvAny([]string{"SKALD_CACHE_DIR", "OPUS_CACHE_DIR"}, cfg.CacheDir)
	cfg.CacheTTL = secondsEnv([]string{"SKALD_CACHE_TTL_SECONDS", "OPUS_CACHE_TTL_SECONDS"}, cfg.CacheTTL)
	cfg.FFmpegPath = getEnvAny([]string{"SKALD_FFMPEG_PATH", "OPUS_FFMPEG_PATH"}, cfg.FFmpegPath)

	pollSeconds := getEnvFloatAny([]string{"SKALD_JOB_POLL_SECONDS", "OPUS_JOB_POLL_SECONDS"}, cfg.JobPollInterval.Seconds())
	cfg.JobPollInterval = time.Duration(pollSeconds * float64(time.Second))

	cfg.StorageProvider = getEnvAny([]string{"SKALD_STORAGE_PROVIDER", "OPUS_STORAGE_PROVIDER"}, cfg.StorageProvider)
	cfg.StorageBucket = getEnvAny([]string{"SKALD_STORAGE_BUCKET", "OPUS_STORAGE_BUCKET"}, cfg.StorageBucket)
	cfg.StoragePrefix = getEnvAny([]string{"SKALD_STORAGE_PREFIX", "OPUS_STORAGE_PREFIX"}, cfg.StoragePrefix)
	cfg.StorageRegion = getEnvAny([]string{"SKALD_STORAGE_REGION", "OPUS_STORAGE_REGION", "AWS_REGION"}, cfg.StorageRegion)
	cfg.StorageEndpointURL = getEnvAny([]string{"SKALD_STORAGE_ENDPOINT_URL", "OPUS_STORAGE_ENDPOINT_URL"}, cfg.StorageEndpointURL)
	cfg.StorageAccessKeyID = getEnvAny([]string{"SKALD_STORAGE_ACCESS_KEY_ID", "OPUS_STORAGE_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, cfg.StorageAccessKeyID)
	cfg.StorageSecretAccessKey = getEnvAny([]string{"SKALD_STORAGE_SECRET_ACCESS_KEY", "OPUS_STORAGE_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, cfg.StorageSecretAccessKey)
	cfg.StoragePublicBaseURL = getEnvAny([]string{"SKALD_STORAGE_PUBLIC_BASE_URL", "OPUS_STORAGE_PUBLIC_BASE_URL"}, cfg.StoragePublicBaseURL)
	cfg.StorageSignedURLTTL = secondsEnv([]string{"SKALD_STORAGE_SIGNED_URL_TTL_SECONDS", "OPUS_STORAGE_SIGNED_URL_TTL_SECONDS"}, cfg.StorageSignedURLTTL)
	cfg.StorageObjectTTL = secondsEnv([]string{"SKALD_STORAGE_TTL_SECONDS", "OPUS_STORAGE_TTL_SECONDS"}, cfg.StorageObjectTTL)

	cfg.SessionCooldown = secondsEnv([]string{"SKALD_SESSION_COOLDOWN_SECONDS"}, cfg.SessionCooldown)
	cfg.SessionUserLimit = getEnvIntAny([]string{"SKALD_SESSION_USER_LIMIT"}, cfg.SessionUserLimit)
	cfg.EventQueueSize = getEnvIntAny([]string{"SKALD_EVENT_QUEUE_SIZE"}, cfg.EventQueueSize)

	cfg.RedisAddr = getEnvAny([]string{"SKALD_REDIS_ADDR"}, cfg.RedisAddr)
	cfg.RedisPassword = getEnvAny([]string{"SKALD_REDIS_PASSWORD"}, cfg.RedisPassword)
	cfg.RedisDB = getEnvIntAny([]string{"SKALD_REDIS_DB"}, cfg.RedisDB)
	cfg.ReadCacheEnabled = getEnvBoolAny([]string{"SKALD_READ_CACHE_ENABLED"}, cfg.ReadCacheEnabled)

	cfg.RelayEnabled = getEnvBoolAny([]string{"SKALD_RELAY_ENABLED"}, cfg.RelayEnabled)
	cfg.NATSUrl = getEnvAny([]string{"SKALD_NATS_URL", "NATS_URL"}, cfg.NATSUrl)

	cfg.LeaderElectionEnabled = getEnvBoolAny([]string{"SKALD_LEADER_ELECTION_ENABLED"}, cfg.LeaderElectionEnabled)
	cfg.InstanceID = getEnvAny([]string{"SKALD_INSTANCE_ID"}, cfg.InstanceID)

	cfg.TracingEnabled = getEnvBoolAny([]string{"SKALD_TRACING_ENABLED"}, cfg.TracingEnabled)
	cfg.OTLPEndpoint = getEnvAny([]string{"SKALD_OTLP_ENDPOINT"}, cfg.OTLPEndpoint)
	cfg.TracingSampleRate = getEnvFloatAny([]string{"SKALD_TRACING_SAMPLE_RATE"}, cfg.TracingSampleRate)
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"OPUS_CACHE_DIR":         "use SKALD_CACHE_DIR",
		"OPUS_CACHE_TTL_SECONDS": "use SKALD_CACHE_TTL_SECONDS",
		"OPUS_FFMPEG_PATH":       "use SKALD_FFMPEG_PATH",
		"OPUS_JOB_POLL_SECONDS":  "use SKALD_JOB_POLL_SECONDS",
		"OPUS_STORAGE_PROVIDER":  "use SKALD_STORAGE_PROVIDER",
		"OPUS_STORAGE_BUCKET":    "use SKALD_STORAGE_BUCKET",
		"DATABASE_URL":           "use SKALD_DB_DSN",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

func setString(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// secondsEnv reads an integer seconds value from the first set key.
// Zero is a meaningful value here (TTL disabled), so only unset keys
// fall through to the default.
func secondsEnv(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return time.Duration(parsed) * time.Second
			}
		}
	}
	return def
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
