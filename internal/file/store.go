package file

import (
	"context"
	"time"
)

// StageCounts summarises records per coarse upload stage, for the stats
// endpoint.
type StageCounts struct {
	Total     int64 `json:"total"`
	Uploaded  int64 `json:"uploaded"`
	Extracted int64 `json:"extracted"`
	Indexed   int64 `json:"indexed"`
	Failed    int64 `json:"failed"`
}

// Store is the durable status-store contract. Mutating methods are guarded:
// each stage transition succeeds at most once per record, no matter how many
// concurrent callers attempt it. When a guard fails the store returns
// apperrors.ErrStageConflict; when the record does not exist it returns
// apperrors.ErrFileNotFound.
type Store interface {
	// Insert persists a new record. When another record already holds the
	// same checksum (dedup invariant), the existing record is returned and
	// inserted is false; no new record is created.
	Insert(ctx context.Context, rec *FileRecord) (stored *FileRecord, inserted bool, err error)

	GetByID(ctx context.Context, id string) (*FileRecord, error)
	GetByChecksum(ctx context.Context, checksum string) (*FileRecord, error)

	// List returns records, newest first, optionally filtered by upload
	// stage (empty stage means all).
	List(ctx context.Context, stage UploadStage) ([]*FileRecord, error)

	// ListStalled returns records whose extraction or indexing has been
	// IN_PROGRESS for longer than olderThan. This is the hook for an
	// external reconciliation sweep; the core never mutates these itself.
	ListStalled(ctx context.Context, olderThan time.Duration) ([]*FileRecord, error)

	CountByStage(ctx context.Context) (*StageCounts, error)
	Delete(ctx context.Context, id string) error

	// Guarded stage transitions.
	BeginExtraction(ctx context.Context, id string) error
	CompleteExtraction(ctx context.Context, id string, extractedPath string) error
	FailExtraction(ctx context.Context, id string, msg string) error
	BeginIndexing(ctx context.Context, id string) error
	CompleteIndexing(ctx context.Context, id string) error
	FailIndexing(ctx context.Context, id string, msg string) error
}
