// Package file defines the FileRecord lifecycle model: the per-file status
// record, the stage state machines that govern it, and the Store contract
// every persistence backend must honour. All stage mutations go through
// guarded transitions; a blind read-modify-write of a record is not possible
// through this package's API.
package file

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// UploadStage is the coarse overall status of a file, a projection of the two
// per-stage statuses.
type UploadStage string

const (
	StageUploaded   UploadStage = "UPLOADED"
	StageExtracting UploadStage = "EXTRACTING"
	StageExtracted  UploadStage = "EXTRACTED"
	StageIndexing   UploadStage = "INDEXING"
	StageIndexed    UploadStage = "INDEXED"
	StageFailed     UploadStage = "FAILED"
)

// uploadStageRank orders the forward pipeline. FAILED sits outside the order
// and is handled explicitly.
var uploadStageRank = map[UploadStage]int{
	StageUploaded:   0,
	StageExtracting: 1,
	StageExtracted:  2,
	StageIndexing:   3,
	StageIndexed:    4,
}

// ParseUploadStage validates a stage string from the outside world.
func ParseUploadStage(s string) (UploadStage, error) {
	stage := UploadStage(strings.ToUpper(s))
	if _, ok := uploadStageRank[stage]; ok {
		return stage, nil
	}
	if stage == StageFailed {
		return stage, nil
	}
	return "", fmt.Errorf("unknown upload stage %q", s)
}

// Terminal reports whether no further transition may leave this stage.
func (s UploadStage) Terminal() bool {
	return s == StageIndexed || s == StageFailed
}

// CanAdvanceTo reports whether moving from s to next is a legal transition:
// one step forward in the pipeline, or to FAILED from any non-terminal stage.
func (s UploadStage) CanAdvanceTo(next UploadStage) bool {
	if s.Terminal() {
		return false
	}
	if next == StageFailed {
		return true
	}
	from, okFrom := uploadStageRank[s]
	to, okTo := uploadStageRank[next]
	return okFrom && okTo && to == from+1
}

// StageStatus is the status of a single pipeline stage (extraction or
// indexing).
type StageStatus string

const (
	StatusPending    StageStatus = "PENDING"
	StatusInProgress StageStatus = "IN_PROGRESS"
	StatusCompleted  StageStatus = "COMPLETED"
	StatusFailed     StageStatus = "FAILED"
)

// Terminal reports whether the stage has finished, successfully or not.
func (s StageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanAdvanceTo reports whether a stage may move from s to next. A stage only
// ever advances PENDING -> IN_PROGRESS -> COMPLETED|FAILED; completion
// straight from PENDING is allowed because a completion event may outrun the
// local IN_PROGRESS write.
func (s StageStatus) CanAdvanceTo(next StageStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case StatusInProgress:
		return s == StatusPending
	case StatusCompleted, StatusFailed:
		return s == StatusPending || s == StatusInProgress
	default:
		return false
	}
}

// FileRecord is the single source of truth for one ingested file.
type FileRecord struct {
	ID                string       `json:"fileId"`
	Checksum          string       `json:"checksum"`
	OriginalFilename  string       `json:"originalFilename"`
	FileSize          int64        `json:"fileSize"`
	ContentType       string       `json:"contentType"`
	BlobPathOriginal  string       `json:"blobPathOriginal"`
	BlobPathExtracted string       `json:"blobPathExtracted,omitempty"`
	UploadStage       UploadStage  `json:"uploadStage"`
	ExtractionStage   StageStatus  `json:"extractionStage"`
	IndexingStage     StageStatus  `json:"indexingStage"`
	ExtractionStartedAt   *time.Time `json:"extractionStartedAt,omitempty"`
	ExtractionCompletedAt *time.Time `json:"extractionCompletedAt,omitempty"`
	IndexingStartedAt     *time.Time `json:"indexingStartedAt,omitempty"`
	IndexingCompletedAt   *time.Time `json:"indexingCompletedAt,omitempty"`
	ExtractionError   string       `json:"extractionError,omitempty"`
	IndexingError     string       `json:"indexingError,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so callers can hand records around without
// aliasing store-internal state.
func (r *FileRecord) Clone() *FileRecord {
	c := *r
	copyTime := func(t *time.Time) *time.Time {
		if t == nil {
			return nil
		}
		v := *t
		return &v
	}
	c.ExtractionStartedAt = copyTime(r.ExtractionStartedAt)
	c.ExtractionCompletedAt = copyTime(r.ExtractionCompletedAt)
	c.IndexingStartedAt = copyTime(r.IndexingStartedAt)
	c.IndexingCompletedAt = copyTime(r.IndexingCompletedAt)
	return &c
}

// The apply* methods implement every legal stage transition as a guarded
// mutation: they check the current stage first and return ErrTransition when
// the guard fails. MemStore applies them under its lock; the PostgreSQL store
// mirrors the same guards as conditional UPDATE predicates.

// ErrTransition is the guard-failure marker returned by the apply* methods.
// Stores translate it to their conflict error.
type ErrTransition struct {
	Op   string
	Have string
}

func (e *ErrTransition) Error() string {
	return fmt.Sprintf("illegal transition %s from %s", e.Op, e.Have)
}

func (r *FileRecord) applyBeginExtraction(now time.Time) error {
	if r.ExtractionStage != StatusPending || r.UploadStage != StageUploaded {
		return &ErrTransition{Op: "begin-extraction", Have: string(r.ExtractionStage)}
	}
	r.ExtractionStage = StatusInProgress
	r.UploadStage = StageExtracting
	r.ExtractionStartedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *FileRecord) applyCompleteExtraction(extractedPath string, now time.Time) error {
	if !r.ExtractionStage.CanAdvanceTo(StatusCompleted) || r.UploadStage.Terminal() {
		return &ErrTransition{Op: "complete-extraction", Have: string(r.ExtractionStage)}
	}
	r.ExtractionStage = StatusCompleted
	r.UploadStage = StageExtracted
	r.BlobPathExtracted = extractedPath
	r.ExtractionCompletedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *FileRecord) applyFailExtraction(msg string, now time.Time) error {
	if !r.ExtractionStage.CanAdvanceTo(StatusFailed) || r.UploadStage.Terminal() {
		return &ErrTransition{Op: "fail-extraction", Have: string(r.ExtractionStage)}
	}
	r.ExtractionStage = StatusFailed
	r.UploadStage = StageFailed
	r.ExtractionError = msg
	r.ExtractionCompletedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *FileRecord) applyBeginIndexing(now time.Time) error {
	if r.ExtractionStage != StatusCompleted || r.IndexingStage != StatusPending || r.UploadStage.Terminal() {
		return &ErrTransition{Op: "begin-indexing", Have: string(r.IndexingStage)}
	}
	r.IndexingStage = StatusInProgress
	r.UploadStage = StageIndexing
	r.IndexingStartedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *FileRecord) applyCompleteIndexing(now time.Time) error {
	if r.ExtractionStage != StatusCompleted || !r.IndexingStage.CanAdvanceTo(StatusCompleted) || r.UploadStage.Terminal() {
		return &ErrTransition{Op: "complete-indexing", Have: string(r.IndexingStage)}
	}
	r.IndexingStage = StatusCompleted
	r.UploadStage = StageIndexed
	r.IndexingCompletedAt = &now
	r.UpdatedAt = now
	return nil
}

func (r *FileRecord) applyFailIndexing(msg string, now time.Time) error {
	if r.ExtractionStage != StatusCompleted || !r.IndexingStage.CanAdvanceTo(StatusFailed) || r.UploadStage.Terminal() {
		return &ErrTransition{Op: "fail-indexing", Have: string(r.IndexingStage)}
	}
	r.IndexingStage = StatusFailed
	r.UploadStage = StageFailed
	r.IndexingError = msg
	r.IndexingCompletedAt = &now
	r.UpdatedAt = now
	return nil
}

// OriginalBlobPath returns the blob key for the original upload, preserving
// the filename's extension: files/{fileId}/original{ext}.
func OriginalBlobPath(fileID, filename string) string {
	return "files/" + fileID + "/original" + path.Ext(filename)
}

// ExtractedBlobPath returns the blob key of the extraction output document.
func ExtractedBlobPath(fileID string) string {
	return "files/" + fileID + "/extracted-text.json"
}
