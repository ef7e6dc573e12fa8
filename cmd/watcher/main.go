// Command watcher polls a local directory and feeds dropped files into the
// document pipeline, for deployments where documents arrive on a shared
// filesystem instead of over HTTP.
//
// Usage:
//
//	go run ./cmd/watcher [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyc0/document-service/internal/file"
	"github.com/valyc0/document-service/internal/publish"
	"github.com/valyc0/document-service/internal/query"
	"github.com/valyc0/document-service/internal/search"
	"github.com/valyc0/document-service/internal/upload"
	"github.com/valyc0/document-service/internal/watcher"
	"github.com/valyc0/document-service/pkg/blob"
	"github.com/valyc0/document-service/pkg/config"
	"github.com/valyc0/document-service/pkg/kafka"
	"github.com/valyc0/document-service/pkg/logger"
	"github.com/valyc0/document-service/pkg/metrics"
	"github.com/valyc0/document-service/pkg/postgres"
	"github.com/valyc0/document-service/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if !cfg.Watcher.Enabled {
		slog.Error("watcher is disabled in config; set watcher.enabled to run this service")
		os.Exit(1)
	}
	slog.Info("starting watcher", "input_dir", cfg.Watcher.InputDir)

	if err := postgres.Migrate(cfg.Postgres); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	store := file.NewPGStore(db)

	cache, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()

	blobs, err := blob.NewS3Storage(cfg.Blob)
	if err != nil {
		slog.Error("failed to create blob storage", "error", err)
		os.Exit(1)
	}
	startupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := blobs.EnsureBucket(startupCtx); err != nil {
		cancel()
		slog.Error("failed to ensure blob bucket", "bucket", cfg.Blob.Bucket, "error", err)
		os.Exit(1)
	}
	cancel()

	m := metrics.New()
	blobs.Observe = func(op string, seconds float64) {
		m.BlobOperationSeconds.WithLabelValues(op).Observe(seconds)
	}

	extractionProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ExtractionRequests)
	defer extractionProducer.Close()
	indexingProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexingRequests)
	defer indexingProducer.Close()
	publisher := publish.New(store, extractionProducer, indexingProducer,
		cfg.Kafka.Topics.ExtractionRequests, cfg.Kafka.Topics.IndexingRequests, m)

	queries := query.New(store, cache, cfg.Redis.CacheTTL)
	searcher := search.NewClient(cfg.Search)
	uploads := upload.New(store, blobs, publisher, searcher, queries, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(uploads, cfg.Watcher)
	if err := w.Run(ctx); err != nil {
		slog.Error("watcher error", "error", err)
		os.Exit(1)
	}
	slog.Info("watcher stopped")
}
