package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Kafka.Topics.ExtractionRequests != "extraction.requests" {
		t.Errorf("ExtractionRequests topic = %q", cfg.Kafka.Topics.ExtractionRequests)
	}
	if cfg.Blob.Bucket != "documents" {
		t.Errorf("Blob.Bucket = %q", cfg.Blob.Bucket)
	}
	if cfg.Redis.CacheTTL != 30*time.Second {
		t.Errorf("Redis.CacheTTL = %v", cfg.Redis.CacheTTL)
	}
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9999
postgres:
  host: db.internal
kafka:
  consumerGroup: custom-group
watcher:
  enabled: true
  pollInterval: 2s
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Postgres.Host != "db.internal" {
		t.Errorf("Postgres.Host = %q", cfg.Postgres.Host)
	}
	if cfg.Kafka.ConsumerGroup != "custom-group" {
		t.Errorf("ConsumerGroup = %q", cfg.Kafka.ConsumerGroup)
	}
	if !cfg.Watcher.Enabled || cfg.Watcher.PollInterval != 2*time.Second {
		t.Errorf("Watcher = %+v", cfg.Watcher)
	}
	// untouched sections keep their defaults
	if cfg.Metrics.Port != 9090 {
		t.Errorf("Metrics.Port = %d", cfg.Metrics.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DS_SERVER_PORT", "7070")
	t.Setenv("DS_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("DS_BLOB_BUCKET", "uploads")
	t.Setenv("DS_WATCHER_ENABLED", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("Kafka.Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Blob.Bucket != "uploads" {
		t.Errorf("Blob.Bucket = %q", cfg.Blob.Bucket)
	}
	if !cfg.Watcher.Enabled {
		t.Error("Watcher.Enabled not overridden")
	}
}

func TestPostgresDSNAndURL(t *testing.T) {
	p := PostgresConfig{
		Host: "db", Port: 5433, Database: "docs",
		User: "svc", Password: "secret", SSLMode: "disable",
	}
	wantDSN := "host=db port=5433 user=svc password=secret dbname=docs sslmode=disable"
	if got := p.DSN(); got != wantDSN {
		t.Errorf("DSN() = %q", got)
	}
	wantURL := "postgres://svc:secret@db:5433/docs?sslmode=disable"
	if got := p.URL(); got != wantURL {
		t.Errorf("URL() = %q", got)
	}
}
