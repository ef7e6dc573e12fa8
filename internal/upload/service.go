// Package upload implements the ingestion gateway: content-checksum dedup,
// blob persistence, record creation, and the first pipeline trigger. Upload
// is idempotent by content, not by call: byte-identical payloads always
// resolve to one record and one pipeline run.
package upload

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/valyc0/document-service/internal/file"
	"github.com/valyc0/document-service/pkg/blob"
	apperrors "github.com/valyc0/document-service/pkg/errors"
	"github.com/valyc0/document-service/pkg/metrics"
)

// ExtractionRequester triggers stage one for a freshly created record.
type ExtractionRequester interface {
	RequestExtraction(ctx context.Context, fileID string) error
}

// IndexRemover removes a file's entries from the external search index.
type IndexRemover interface {
	DeleteDocument(ctx context.Context, fileID string) error
}

// Invalidator drops cached projections of a record after a mutation.
type Invalidator interface {
	InvalidateRecord(ctx context.Context, fileID string)
}

// Service is the upload gateway.
type Service struct {
	store     file.Store
	blobs     blob.Storage
	publisher ExtractionRequester
	indexer   IndexRemover
	cache     Invalidator
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New creates the gateway. indexer and cache may be nil: deletion then skips
// index removal and cache invalidation respectively.
func New(store file.Store, blobs blob.Storage, publisher ExtractionRequester, indexer IndexRemover, cache Invalidator, m *metrics.Metrics) *Service {
	return &Service{
		store:     store,
		blobs:     blobs,
		publisher: publisher,
		indexer:   indexer,
		cache:     cache,
		metrics:   m,
		logger:    slog.Default().With("component", "upload-gateway"),
	}
}

// Ingest accepts a file, deduplicates by content checksum, persists blob and
// record, and requests extraction. The returned bool reports whether a new
// record was created; false means the payload resolved to an existing record
// and the pipeline was not re-triggered.
func (s *Service) Ingest(ctx context.Context, data []byte, filename, contentType string) (*file.FileRecord, bool, error) {
	if len(data) == 0 {
		return nil, false, apperrors.New(apperrors.ErrInvalidInput, 400, "empty file payload")
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	if existing, err := s.store.GetByChecksum(ctx, checksum); err == nil {
		s.logger.Info("duplicate upload resolved to existing record",
			"checksum", checksum,
			"file_id", existing.ID,
			"filename", filename,
		)
		s.observeDuplicate()
		return existing, false, nil
	} else if !errors.Is(err, apperrors.ErrFileNotFound) {
		return nil, false, fmt.Errorf("checking checksum %s: %w", checksum, err)
	}

	fileID := uuid.NewString()
	blobPath := file.OriginalBlobPath(fileID, filename)

	// Blob first, record second: an orphaned blob is harmless, but a record
	// pointing at a missing blob would poison the pipeline.
	if err := s.blobs.Upload(ctx, blobPath, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, false, fmt.Errorf("storing original blob: %w", err)
	}

	rec := &file.FileRecord{
		ID:               fileID,
		Checksum:         checksum,
		OriginalFilename: filename,
		FileSize:         int64(len(data)),
		ContentType:      contentType,
		BlobPathOriginal: blobPath,
		UploadStage:      file.StageUploaded,
		ExtractionStage:  file.StatusPending,
		IndexingStage:    file.StatusPending,
	}

	stored, inserted, err := s.store.Insert(ctx, rec)
	if err != nil {
		return nil, false, fmt.Errorf("persisting file record: %w", err)
	}
	if !inserted {
		// Lost a concurrent-upload race on the checksum index. The winner's
		// record is authoritative; our blob is an orphan, remove it.
		if delErr := s.blobs.Delete(ctx, blobPath); delErr != nil {
			s.logger.Warn("failed to clean up orphaned blob", "path", blobPath, "error", delErr)
		}
		s.observeDuplicate()
		return stored, false, nil
	}

	s.observeUpload(len(data))
	s.logger.Info("file accepted",
		"file_id", stored.ID,
		"filename", filename,
		"size", len(data),
		"checksum", checksum,
	)

	// Record is durable; request stage one. A failed emit leaves the record
	// recoverable via the stalled-records query, so the upload still counts
	// as accepted.
	if err := s.publisher.RequestExtraction(ctx, stored.ID); err != nil {
		s.logger.Error("failed to request extraction", "file_id", stored.ID, "error", err)
	}

	if updated, err := s.store.GetByID(ctx, stored.ID); err == nil {
		stored = updated
	}
	return stored, true, nil
}

// Download streams the original blob for a file.
func (s *Service) Download(ctx context.Context, fileID string) (*file.FileRecord, io.ReadCloser, error) {
	rec, err := s.store.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	body, err := s.blobs.Download(ctx, rec.BlobPathOriginal)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading original blob: %w", err)
	}
	return rec, body, nil
}

// DownloadExtracted streams the extraction output document for a file.
func (s *Service) DownloadExtracted(ctx context.Context, fileID string) (*file.FileRecord, io.ReadCloser, error) {
	rec, err := s.store.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if rec.BlobPathExtracted == "" {
		return nil, nil, apperrors.ErrExtractedTextUnavailable
	}
	body, err := s.blobs.Download(ctx, rec.BlobPathExtracted)
	if err != nil {
		return nil, nil, fmt.Errorf("downloading extracted blob: %w", err)
	}
	return rec, body, nil
}

// Delete removes a file everywhere: blobs and search-index entries
// best-effort, then the status record, which is the authoritative delete
// signal. Best-effort failures are logged, never fatal.
func (s *Service) Delete(ctx context.Context, fileID string) (*file.FileRecord, error) {
	rec, err := s.store.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}

	if err := s.blobs.Delete(ctx, rec.BlobPathOriginal); err != nil {
		s.logger.Warn("failed to delete original blob", "file_id", fileID, "error", err)
	}
	if rec.BlobPathExtracted != "" {
		if err := s.blobs.Delete(ctx, rec.BlobPathExtracted); err != nil {
			s.logger.Warn("failed to delete extracted blob", "file_id", fileID, "error", err)
		}
	}
	if s.indexer != nil {
		if err := s.indexer.DeleteDocument(ctx, fileID); err != nil {
			s.logger.Warn("failed to remove search index entry", "file_id", fileID, "error", err)
		}
	}

	if err := s.store.Delete(ctx, fileID); err != nil {
		return nil, fmt.Errorf("deleting file record: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateRecord(ctx, fileID)
	}
	if s.metrics != nil {
		s.metrics.DeletesTotal.Inc()
	}
	s.logger.Info("file deleted", "file_id", fileID, "filename", rec.OriginalFilename)
	return rec, nil
}

// DeleteFailed removes every record whose pipeline ended in FAILED, cascading
// like Delete. It returns the number of records removed.
func (s *Service) DeleteFailed(ctx context.Context) (int, error) {
	failed, err := s.store.List(ctx, file.StageFailed)
	if err != nil {
		return 0, fmt.Errorf("listing failed records: %w", err)
	}
	deleted := 0
	for _, rec := range failed {
		if _, err := s.Delete(ctx, rec.ID); err != nil {
			s.logger.Warn("failed to delete failed record", "file_id", rec.ID, "error", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

func (s *Service) observeUpload(size int) {
	if s.metrics == nil {
		return
	}
	s.metrics.UploadsTotal.Inc()
	s.metrics.UploadBytes.Observe(float64(size))
}

func (s *Service) observeDuplicate() {
	if s.metrics != nil {
		s.metrics.DuplicateUploads.Inc()
	}
}
