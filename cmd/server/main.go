// snapbin server
//
// Features:
// - Prometheus metrics & structured logging (zap)
// - Filesystem-backed folder tree with a JSON folder sidecar
// - Streaming uploads with sanitized, globally unique filenames
// - Image derivatives: bounded thumbnails and lossless QOI re-encodes
// - SSE real-time library events
// - Zip export/import of the whole library
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/snapbin/snapbin/internal/api"
	"github.com/snapbin/snapbin/internal/config"
	"github.com/snapbin/snapbin/internal/events"
	"github.com/snapbin/snapbin/internal/gallery"
	"github.com/snapbin/snapbin/internal/logging"
	"github.com/snapbin/snapbin/internal/metadata"
	"github.com/snapbin/snapbin/internal/metrics"
	"github.com/snapbin/snapbin/internal/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("snapbin server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("uploads", cfg.UploadDir))

	start := time.Now()
	idx, err := metadata.Load(cfg.UploadDir)
	if err != nil {
		logging.Fatal("index build failed", zap.Error(err))
	}
	metrics.RecordIndexLoad(time.Since(start))
	folders, files := idx.Counts()
	metrics.SetIndexSize(folders, files)

	broadcaster := events.NewBroadcaster()
	logging.Info("SSE broadcaster initialized")

	imgCfg := gallery.Config{
		ThumbSize:   cfg.ThumbnailSize,
		ThumbFormat: cfg.ThumbnailFormat,
		JPEGQuality: cfg.JPEGQuality,
		WebPQuality: float32(cfg.WebPQuality),
		QOIEnabled:  cfg.QOIEnabled,
	}
	engine := storage.NewEngine(idx, cfg.MaxFileSize, imgCfg, broadcaster)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	processor := gallery.NewProcessor(engine.Regenerate, cfg.ProcessWorkers)
	processor.Start(ctx)
	processor.EnqueueAll(engine.PendingImages())
	logging.Info("gallery subsystem initialized")

	// Metrics server on its own port
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	server := api.NewServer(engine, broadcaster, processor, cfg)
	httpServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     server.Handler(),
		IdleTimeout: 120 * time.Second,
		// No read/write timeouts: uploads and SSE streams are long-lived.
	}

	go func() {
		<-ctx.Done()
		logging.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logging.Error("shutdown error", zap.Error(err))
		}
		processor.Stop()
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Fatal("server error", zap.Error(err))
	}
}
