// Package orchestrate contains the two completion-event consumers that drive
// the pipeline state machine. The bus delivers at-least-once, so both
// handlers are idempotent by construction: every transition is a guarded
// conditional update keyed by the record's current stage, and a duplicate
// delivery (including two concurrent deliveries of the same event) resolves
// to exactly one applied transition and at most one follow-up event.
package orchestrate

import (
	"context"
	"errors"
	"log/slog"

	"github.com/valyc0/document-service/internal/file"
	apperrors "github.com/valyc0/document-service/pkg/errors"
	"github.com/valyc0/document-service/pkg/kafka"
	"github.com/valyc0/document-service/pkg/metrics"
)

// IndexingRequester triggers stage two after a successful extraction.
type IndexingRequester interface {
	RequestIndexing(ctx context.Context, fileID string) error
}

// Invalidator drops cached projections of a record after a mutation.
type Invalidator interface {
	InvalidateRecord(ctx context.Context, fileID string)
}

// Handlers bundles the dependencies shared by both completion consumers.
type Handlers struct {
	store     file.Store
	publisher IndexingRequester
	cache     Invalidator
	metrics   *metrics.Metrics
}

// New creates the handler set. cache may be nil.
func New(store file.Store, publisher IndexingRequester, cache Invalidator, m *metrics.Metrics) *Handlers {
	return &Handlers{
		store:     store,
		publisher: publisher,
		cache:     cache,
		metrics:   m,
	}
}

// ExtractionCompleted returns the handler for extraction-completed events.
// topic is only used as a metric label.
func (h *Handlers) ExtractionCompleted(topic string) kafka.MessageHandler {
	logger := slog.Default().With("component", "extraction-completed-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[file.ExtractionCompleted](value)
		if err != nil {
			// Malformed payloads can never succeed; drop instead of
			// redelivering forever.
			logger.Error("failed to decode event, dropping", "key", string(key), "error", err)
			return nil
		}
		h.observeConsumed(topic)
		log := logger.With("file_id", event.FileID, "status", event.Status)
		log.Info("extraction completed event received", "chunk_count", event.ChunkCount)

		if event.Status == file.CompletionSuccess {
			return h.extractionSucceeded(ctx, topic, event, log)
		}
		return h.extractionFailed(ctx, topic, event, log)
	}
}

func (h *Handlers) extractionSucceeded(ctx context.Context, topic string, event file.ExtractionCompleted, log *slog.Logger) error {
	extractedPath := file.ExtractedBlobPath(event.FileID)
	err := h.store.CompleteExtraction(ctx, event.FileID, extractedPath)
	switch {
	case errors.Is(err, apperrors.ErrFileNotFound):
		// Record deleted after the event was queued. Legitimate race.
		h.observeUndeliverable(topic)
		log.Warn("event references unknown file, dropping")
		return nil
	case errors.Is(err, apperrors.ErrStageConflict):
		// Duplicate delivery: the stage is already terminal. No side
		// effects, and in particular no second indexing request.
		h.observeDuplicate(topic)
		log.Info("extraction already terminal, dropping duplicate event")
		return nil
	case err != nil:
		// Store failure: leave the message uncommitted for redelivery.
		return err
	}

	h.observeTransition("extraction", string(file.StatusCompleted))
	h.invalidate(ctx, event.FileID)
	log.Info("extraction recorded, requesting indexing")

	if err := h.publisher.RequestIndexing(ctx, event.FileID); err != nil {
		// Transition is committed; the record is EXTRACTED or stalled
		// INDEXING depending on where the request failed. Redelivering the
		// extraction event cannot help (the guard above now rejects it), so
		// commit and leave recovery to the stalled-records sweep.
		log.Error("failed to request indexing", "error", err)
	}
	return nil
}

func (h *Handlers) extractionFailed(ctx context.Context, topic string, event file.ExtractionCompleted, log *slog.Logger) error {
	err := h.store.FailExtraction(ctx, event.FileID, event.ErrorMessage)
	switch {
	case errors.Is(err, apperrors.ErrFileNotFound):
		h.observeUndeliverable(topic)
		log.Warn("event references unknown file, dropping")
		return nil
	case errors.Is(err, apperrors.ErrStageConflict):
		h.observeDuplicate(topic)
		log.Info("extraction already terminal, dropping duplicate event")
		return nil
	case err != nil:
		return err
	}

	h.observeTransition("extraction", string(file.StatusFailed))
	h.invalidate(ctx, event.FileID)
	log.Error("extraction failed", "error_message", event.ErrorMessage)
	return nil
}

// IndexingCompleted returns the handler for indexing-completed events.
func (h *Handlers) IndexingCompleted(topic string) kafka.MessageHandler {
	logger := slog.Default().With("component", "indexing-completed-consumer")
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[file.IndexingCompleted](value)
		if err != nil {
			logger.Error("failed to decode event, dropping", "key", string(key), "error", err)
			return nil
		}
		h.observeConsumed(topic)
		log := logger.With("file_id", event.FileID, "status", event.Status)
		log.Info("indexing completed event received", "indexed_chunks", event.IndexedChunks)

		var storeErr error
		if event.Status == file.CompletionSuccess {
			storeErr = h.store.CompleteIndexing(ctx, event.FileID)
		} else {
			storeErr = h.store.FailIndexing(ctx, event.FileID, event.ErrorMessage)
		}

		switch {
		case errors.Is(storeErr, apperrors.ErrFileNotFound):
			h.observeUndeliverable(topic)
			log.Warn("event references unknown file, dropping")
			return nil
		case errors.Is(storeErr, apperrors.ErrStageConflict):
			h.observeDuplicate(topic)
			log.Info("indexing already terminal, dropping duplicate event")
			return nil
		case storeErr != nil:
			return storeErr
		}

		h.invalidate(ctx, event.FileID)
		if event.Status == file.CompletionSuccess {
			h.observeTransition("indexing", string(file.StatusCompleted))
			log.Info("pipeline completed")
		} else {
			h.observeTransition("indexing", string(file.StatusFailed))
			log.Error("indexing failed", "error_message", event.ErrorMessage)
		}
		return nil
	}
}

func (h *Handlers) invalidate(ctx context.Context, fileID string) {
	if h.cache != nil {
		h.cache.InvalidateRecord(ctx, fileID)
	}
}

func (h *Handlers) observeConsumed(topic string) {
	if h.metrics != nil {
		h.metrics.EventsConsumed.WithLabelValues(topic).Inc()
	}
}

func (h *Handlers) observeDuplicate(topic string) {
	if h.metrics != nil {
		h.metrics.DuplicateEvents.WithLabelValues(topic).Inc()
	}
}

func (h *Handlers) observeUndeliverable(topic string) {
	if h.metrics != nil {
		h.metrics.UndeliverableEvents.WithLabelValues(topic).Inc()
	}
}

func (h *Handlers) observeTransition(stage, status string) {
	if h.metrics != nil {
		h.metrics.StageTransitions.WithLabelValues(stage, status).Inc()
	}
}
