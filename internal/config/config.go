// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	BaseURL     string

	// Logging
	LogLevel  string
	LogFormat string

	// Storage
	UploadDir   string
	MaxFileSize int64

	// Image derivatives
	ThumbnailSize   int
	ThumbnailFormat string // "webp" or "jpeg"
	JPEGQuality     int
	WebPQuality     float64
	QOIEnabled      bool
	ProcessWorkers  int

	// Import limits
	ImportMaxEntries int
	ImportMaxBytes   int64
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		BaseURL:     strings.TrimRight(envOr("BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		UploadDir:   envOr("UPLOAD_DIR", "./uploads"),
		MaxFileSize: envInt64("MAX_FILE_SIZE", 1024*1024*1024), // 1GB default

		ThumbnailSize:   envInt("THUMBNAIL_SIZE", 400),
		ThumbnailFormat: strings.ToLower(envOr("THUMBNAIL_FORMAT", "webp")),
		JPEGQuality:     envInt("JPEG_QUALITY", 80),
		WebPQuality:     envFloat("WEBP_QUALITY", 80),
		QOIEnabled:      envBool("QOI_ENABLED", true),
		ProcessWorkers:  envInt("PROCESS_WORKERS", 2),

		ImportMaxEntries: envInt("IMPORT_MAX_ENTRIES", 10000),
		ImportMaxBytes:   envInt64("IMPORT_MAX_BYTES", 10*1024*1024*1024), // 10GB
	}

	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if cfg.ThumbnailSize <= 0 {
		return nil, fmt.Errorf("THUMBNAIL_SIZE must be positive")
	}
	if cfg.ThumbnailFormat != "webp" && cfg.ThumbnailFormat != "jpeg" {
		return nil, fmt.Errorf("THUMBNAIL_FORMAT must be webp or jpeg, got %q", cfg.ThumbnailFormat)
	}
	if cfg.JPEGQuality < 1 || cfg.JPEGQuality > 100 {
		return nil, fmt.Errorf("JPEG_QUALITY must be in 1..100")
	}
	if cfg.WebPQuality < 1 || cfg.WebPQuality > 100 {
		return nil, fmt.Errorf("WEBP_QUALITY must be in 1..100")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
