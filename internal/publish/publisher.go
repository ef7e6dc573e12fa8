// Package publish emits work-request events for the two pipeline stages. The
// ordering contract is write-then-send: the stage flip and started-at stamp
// are committed to the status store before the event goes out, so a record is
// never IN_PROGRESS-on-the-bus without being IN_PROGRESS-on-disk. The
// inverse window (committed but the send failed) leaves the record stalled
// IN_PROGRESS with no outstanding request; that condition is surfaced by the
// stalled-records query and resolved outside this component.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyc0/document-service/internal/file"
	apperrors "github.com/valyc0/document-service/pkg/errors"
	"github.com/valyc0/document-service/pkg/kafka"
	"github.com/valyc0/document-service/pkg/metrics"
)

// EventSink is the subset of the Kafka producer the publisher needs; tests
// substitute a recording fake.
type EventSink interface {
	Publish(ctx context.Context, event kafka.Event) error
}

// Publisher flips stage state and emits the matching work-request event.
type Publisher struct {
	store           file.Store
	extractionSink  EventSink
	indexingSink    EventSink
	extractionTopic string
	indexingTopic   string
	metrics         *metrics.Metrics
	logger          *slog.Logger
}

// New creates a Publisher. Topic names are only used as metric labels; the
// sinks are already bound to their topics.
func New(store file.Store, extractionSink, indexingSink EventSink, extractionTopic, indexingTopic string, m *metrics.Metrics) *Publisher {
	return &Publisher{
		store:           store,
		extractionSink:  extractionSink,
		indexingSink:    indexingSink,
		extractionTopic: extractionTopic,
		indexingTopic:   indexingTopic,
		metrics:         m,
		logger:          slog.Default().With("component", "publisher"),
	}
}

// RequestExtraction marks extraction IN_PROGRESS and emits an
// ExtractionRequested event. A repeated call for the same file is a logged
// no-op: the stage guard rejects the second flip and no event is emitted.
func (p *Publisher) RequestExtraction(ctx context.Context, fileID string) error {
	rec, err := p.store.GetByID(ctx, fileID)
	if err != nil {
		return fmt.Errorf("loading record for extraction request: %w", err)
	}

	if err := p.store.BeginExtraction(ctx, fileID); err != nil {
		if errors.Is(err, apperrors.ErrStageConflict) {
			p.logger.Warn("extraction already requested, skipping emit", "file_id", fileID)
			return nil
		}
		return fmt.Errorf("marking extraction in progress: %w", err)
	}
	p.observeTransition("extraction", string(file.StatusInProgress))

	event := kafka.Event{
		Key: fileID,
		Value: file.ExtractionRequested{
			FileID:           fileID,
			OriginalFilename: rec.OriginalFilename,
			Timestamp:        time.Now().UTC(),
		},
	}
	if err := p.extractionSink.Publish(ctx, event); err != nil {
		// Record is now EXTRACTING with no request on the bus. Logged and
		// left for the stalled-records sweep; no local retry.
		p.logger.Error("extraction request not emitted, record stalled",
			"file_id", fileID,
			"error", err,
		)
		return fmt.Errorf("emitting extraction request: %w", err)
	}
	p.observeEvent(p.extractionTopic)
	p.logger.Info("extraction requested", "file_id", fileID, "filename", rec.OriginalFilename)
	return nil
}

// RequestIndexing marks indexing IN_PROGRESS and emits an IndexingRequested
// event. Guards mirror RequestExtraction: the flip requires extraction
// COMPLETED and indexing PENDING, so a duplicate call cannot double-emit.
func (p *Publisher) RequestIndexing(ctx context.Context, fileID string) error {
	if err := p.store.BeginIndexing(ctx, fileID); err != nil {
		if errors.Is(err, apperrors.ErrStageConflict) {
			p.logger.Warn("indexing already requested, skipping emit", "file_id", fileID)
			return nil
		}
		return fmt.Errorf("marking indexing in progress: %w", err)
	}
	p.observeTransition("indexing", string(file.StatusInProgress))

	event := kafka.Event{
		Key: fileID,
		Value: file.IndexingRequested{
			FileID:    fileID,
			Timestamp: time.Now().UTC(),
		},
	}
	if err := p.indexingSink.Publish(ctx, event); err != nil {
		p.logger.Error("indexing request not emitted, record stalled",
			"file_id", fileID,
			"error", err,
		)
		return fmt.Errorf("emitting indexing request: %w", err)
	}
	p.observeEvent(p.indexingTopic)
	p.logger.Info("indexing requested", "file_id", fileID)
	return nil
}

func (p *Publisher) observeEvent(topic string) {
	if p.metrics != nil {
		p.metrics.EventsPublished.WithLabelValues(topic).Inc()
	}
}

func (p *Publisher) observeTransition(stage, status string) {
	if p.metrics != nil {
		p.metrics.StageTransitions.WithLabelValues(stage, status).Inc()
	}
}
