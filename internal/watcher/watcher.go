// Package watcher polls a local directory and ingests every document file
// that appears there, as an alternative entry point to the HTTP upload.
// Processed files are moved to a processed directory, failures to an error
// directory, so the input directory only ever holds pending work.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valyc0/document-service/internal/upload"
	"github.com/valyc0/document-service/pkg/config"
)

var defaultExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
	".txt":  true,
	".md":   true,
	".html": true,
	".rtf":  true,
	".odt":  true,
}

// Watcher ingests files dropped into a watched directory.
type Watcher struct {
	uploads *upload.Service
	cfg     config.WatcherConfig
	logger  *slog.Logger
}

// New creates a Watcher over the configured directories.
func New(uploads *upload.Service, cfg config.WatcherConfig) *Watcher {
	return &Watcher{
		uploads: uploads,
		cfg:     cfg,
		logger:  slog.Default().With("component", "watcher", "dir", cfg.InputDir),
	}
}

// Run polls the input directory until ctx is cancelled. Each sweep finishes
// before the next one starts, so a file is never picked up twice.
func (w *Watcher) Run(ctx context.Context) error {
	for _, dir := range []string{w.cfg.InputDir, w.cfg.ProcessedDir, w.cfg.ErrorDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating watch directory %s: %w", dir, err)
		}
	}

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("watcher started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopping")
			return nil
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				w.logger.Error("sweep failed", "error", err)
			}
		}
	}
}

func (w *Watcher) sweep(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.InputDir)
	if err != nil {
		return fmt.Errorf("reading input dir: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	limit := w.cfg.MaxConcurrent
	if limit <= 0 {
		limit = 2
	}
	g.SetLimit(limit)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !defaultExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		g.Go(func() error {
			w.process(ctx, name)
			return nil
		})
	}
	return g.Wait()
}

// process ingests one file and moves it out of the input directory. Ingest
// errors quarantine the file rather than failing the sweep, so one bad file
// cannot wedge the pipeline.
func (w *Watcher) process(ctx context.Context, name string) {
	src := filepath.Join(w.cfg.InputDir, name)
	data, err := os.ReadFile(src)
	if err != nil {
		w.logger.Error("failed to read file", "file", name, "error", err)
		return
	}

	rec, created, err := w.uploads.Ingest(ctx, data, name, "")
	if err != nil {
		w.logger.Error("ingest failed, quarantining file", "file", name, "error", err)
		w.move(src, filepath.Join(w.cfg.ErrorDir, name))
		return
	}

	if created {
		w.logger.Info("file ingested", "file", name, "file_id", rec.ID)
	} else {
		w.logger.Info("duplicate file skipped", "file", name, "file_id", rec.ID)
	}
	w.move(src, filepath.Join(w.cfg.ProcessedDir, name))
}

// move renames src to dst, suffixing a timestamp when dst already exists.
func (w *Watcher) move(src, dst string) {
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(dst)
		dst = strings.TrimSuffix(dst, ext) + "-" + time.Now().UTC().Format("20060102T150405") + ext
	}
	if err := os.Rename(src, dst); err != nil {
		w.logger.Error("failed to move file", "src", src, "dst", dst, "error", err)
	}
}
