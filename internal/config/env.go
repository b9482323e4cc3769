package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// CacheConfig bounds the in-memory thumbnail cache.
type CacheConfig struct {
	MaxEntries int
	MaxBytes   int64
}

// PipelineConfig tunes thumbnail generation.
type PipelineConfig struct {
	BatchSize   int
	ThumbWidth  int
	ThumbHeight int
	Grayscale   bool
}

// ExportConfig controls where assembled documents land.
type ExportConfig struct {
	OutputDir string
	S3Bucket  string
}

// StoreConfig defines operation-status store connectivity.
type StoreConfig struct {
	RedisURL string
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	Cache    CacheConfig
	Pipeline PipelineConfig
	Export   ExportConfig
	Store    StoreConfig
	Port     string
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pagebinder.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pagebinder",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Cache = CacheConfig{
		MaxEntries: parseInt(getEnv("THUMB_CACHE_MAX_ENTRIES", "200"), 200),
		MaxBytes:   int64(parseInt(getEnv("THUMB_CACHE_MAX_MB", "64"), 64)) << 20,
	}

	cfg.Pipeline = PipelineConfig{
		BatchSize:   parseInt(getEnv("THUMB_BATCH_SIZE", "5"), 5),
		ThumbWidth:  parseInt(getEnv("THUMB_WIDTH", "140"), 140),
		ThumbHeight: parseInt(getEnv("THUMB_HEIGHT", "180"), 180),
		Grayscale:   parseBool(getEnv("THUMB_GRAYSCALE", "0")),
	}

	cfg.Export = ExportConfig{
		OutputDir: getEnv("EXPORT_DIR", "exports"),
		S3Bucket:  getEnv("AWS_S3_BUCKET", ""),
	}

	cfg.Store = StoreConfig{
		RedisURL: getEnv("REDIS_URL", ""),
	}

	cfg.Port = getEnv("PORT", "8080")

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" { return def }
	if n, err := strconv.Atoi(s); err == nil { return n }
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" { return def }
	if d, err := time.ParseDuration(s); err == nil { return d }
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" { return "true" }
	return "false"
}
