// Command orchestrator runs the pipeline state machine consumers.
//
// It subscribes to the extraction.completed and indexing.completed topics,
// applies guarded stage transitions in PostgreSQL, and publishes the follow-up
// indexing request once extraction succeeds. Duplicate and out-of-order
// deliveries are absorbed by the transition guards, so restarts and consumer
// group rebalances are safe.
//
// Usage:
//
//	go run ./cmd/orchestrator [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/valyc0/document-service/internal/file"
	"github.com/valyc0/document-service/internal/orchestrate"
	"github.com/valyc0/document-service/internal/publish"
	"github.com/valyc0/document-service/internal/query"
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
	slog.Info("starting orchestrator", "group", cfg.Kafka.ConsumerGroup)

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

	m := metrics.New()

	indexingProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexingRequests)
	defer indexingProducer.Close()
	extractionProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ExtractionRequests)
	defer extractionProducer.Close()
	publisher := publish.New(store, extractionProducer, indexingProducer,
		cfg.Kafka.Topics.ExtractionRequests, cfg.Kafka.Topics.IndexingRequests, m)

	queries := query.New(store, cache, cfg.Redis.CacheTTL)
	handlers := orchestrate.New(store, publisher, queries, m)

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	readers := cfg.Kafka.ReadersPerTopic
	if readers <= 0 {
		readers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	startConsumers := func(topic string, handler kafka.MessageHandler) {
		for i := 0; i < readers; i++ {
			consumer := kafka.NewConsumer(cfg.Kafka, topic, handler)
			g.Go(func() error {
				defer consumer.Close()
				return consumer.Start(ctx)
			})
		}
	}
	startConsumers(cfg.Kafka.Topics.ExtractionCompleted,
		handlers.ExtractionCompleted(cfg.Kafka.Topics.ExtractionCompleted))
	startConsumers(cfg.Kafka.Topics.IndexingCompleted,
		handlers.IndexingCompleted(cfg.Kafka.Topics.IndexingCompleted))

	slog.Info("orchestrator consuming",
		"extraction_topic", cfg.Kafka.Topics.ExtractionCompleted,
		"indexing_topic", cfg.Kafka.Topics.IndexingCompleted,
		"readers_per_topic", readers,
	)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("consumer error", "error", err)
		os.Exit(1)
	}

	if stopMetrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := stopMetrics(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown error", "error", err)
		}
	}
	slog.Info("orchestrator stopped")
}
