package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MaxFileSize != 1024*1024*1024 {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if cfg.ThumbnailFormat != "webp" {
		t.Errorf("ThumbnailFormat = %q", cfg.ThumbnailFormat)
	}
	if !cfg.QOIEnabled {
		t.Error("QOIEnabled should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("MAX_FILE_SIZE", "1024")
	t.Setenv("THUMBNAIL_FORMAT", "JPEG")
	t.Setenv("QOI_ENABLED", "false")
	t.Setenv("BASE_URL", "https://files.example.com/")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9999" || cfg.MaxFileSize != 1024 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.ThumbnailFormat != "jpeg" {
		t.Errorf("ThumbnailFormat = %q", cfg.ThumbnailFormat)
	}
	if cfg.QOIEnabled {
		t.Error("QOI_ENABLED=false ignored")
	}
	if cfg.BaseURL != "https://files.example.com" {
		t.Errorf("BaseURL not trimmed: %q", cfg.BaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("THUMBNAIL_FORMAT", "png")
	if _, err := Load(); err == nil {
		t.Error("unsupported thumbnail format accepted")
	}
}

func TestLoadRejectsBadQuality(t *testing.T) {
	t.Setenv("JPEG_QUALITY", "250")
	if _, err := Load(); err == nil {
		t.Error("out-of-range quality accepted")
	}
}
