// Command api starts the document service HTTP API.
//
// The service accepts document uploads via POST /api/documents/upload,
// deduplicates them by content checksum, stores the bytes in the blob store,
// records processing state in PostgreSQL, and publishes extraction requests
// to Kafka. Status queries, downloads, deletion, and the search proxy are
// served here as well.
//
// Usage:
//
//	go run ./cmd/api [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyc0/document-service/internal/api"
	"github.com/valyc0/document-service/internal/file"
	"github.com/valyc0/document-service/internal/publish"
	"github.com/valyc0/document-service/internal/query"
	"github.com/valyc0/document-service/internal/search"
	"github.com/valyc0/document-service/internal/upload"
	"github.com/valyc0/document-service/pkg/blob"
	"github.com/valyc0/document-service/pkg/config"
	"github.com/valyc0/document-service/pkg/health"
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
	slog.Info("starting document api", "port", cfg.Server.Port)

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
	slog.Info("connected to postgres")
	store := file.NewPGStore(db)

	cache, err := redis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer cache.Close()
	slog.Info("connected to redis")

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
	slog.Info("blob storage ready", "bucket", cfg.Blob.Bucket)

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

	checker := health.NewChecker()
	checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
		if err := db.DB.PingContext(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if err := cache.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	handler := api.New(uploads, queries, searcher, cfg.Server.MaxUploadBytes)
	router := api.NewRouter(handler, checker, m, cfg.Server.WriteTimeout)

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()
	slog.Info("document api listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("document api stopped")
}
