package file

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/valyc0/document-service/pkg/errors"
)

// MemStore is an in-memory Store with the same transition guarantees as the
// PostgreSQL store: every mutation holds the lock for the full
// check-and-apply, so concurrent duplicate transitions race safely and
// exactly one wins. Used by unit tests and local development.
type MemStore struct {
	mu         sync.Mutex
	byID       map[string]*FileRecord
	byChecksum map[string]string
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byID:       make(map[string]*FileRecord),
		byChecksum: make(map[string]string),
	}
}

func (s *MemStore) Insert(ctx context.Context, rec *FileRecord) (*FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byChecksum[rec.Checksum]; ok {
		return s.byID[existingID].Clone(), false, nil
	}
	now := time.Now().UTC()
	stored := rec.Clone()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	s.byChecksum[stored.Checksum] = stored.ID
	return stored.Clone(), true, nil
}

func (s *MemStore) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, apperrors.ErrFileNotFound
	}
	return rec.Clone(), nil
}

func (s *MemStore) GetByChecksum(ctx context.Context, checksum string) (*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byChecksum[checksum]
	if !ok {
		return nil, apperrors.ErrFileNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemStore) List(ctx context.Context, stage UploadStage) ([]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*FileRecord, 0, len(s.byID))
	for _, rec := range s.byID {
		if stage != "" && rec.UploadStage != stage {
			continue
		}
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var out []*FileRecord
	for _, rec := range s.byID {
		if stalled(rec, cutoff) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func stalled(rec *FileRecord, cutoff time.Time) bool {
	if rec.ExtractionStage == StatusInProgress && rec.ExtractionStartedAt != nil && rec.ExtractionStartedAt.Before(cutoff) {
		return true
	}
	if rec.IndexingStage == StatusInProgress && rec.IndexingStartedAt != nil && rec.IndexingStartedAt.Before(cutoff) {
		return true
	}
	return false
}

func (s *MemStore) CountByStage(ctx context.Context) (*StageCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := &StageCounts{}
	for _, rec := range s.byID {
		counts.Total++
		switch rec.UploadStage {
		case StageUploaded:
			counts.Uploaded++
		case StageExtracted:
			counts.Extracted++
		case StageIndexed:
			counts.Indexed++
		case StageFailed:
			counts.Failed++
		}
	}
	return counts, nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return apperrors.ErrFileNotFound
	}
	delete(s.byChecksum, rec.Checksum)
	delete(s.byID, id)
	return nil
}

// transition locates the record and applies fn while holding the lock,
// translating guard failures to ErrStageConflict.
func (s *MemStore) transition(id string, fn func(*FileRecord, time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return apperrors.ErrFileNotFound
	}
	if err := fn(rec, time.Now().UTC()); err != nil {
		return apperrors.ErrStageConflict
	}
	return nil
}

func (s *MemStore) BeginExtraction(ctx context.Context, id string) error {
	return s.transition(id, func(r *FileRecord, now time.Time) error {
		return r.applyBeginExtraction(now)
	})
}

func (s *MemStore) CompleteExtraction(ctx context.Context, id string, extractedPath string) error {
	return s.transition(id, func(r *FileRecord, now time.Time) error {
		return r.applyCompleteExtraction(extractedPath, now)
	})
}

func (s *MemStore) FailExtraction(ctx context.Context, id string, msg string) error {
	return s.transition(id, func(r *FileRecord, now time.Time) error {
		return r.applyFailExtraction(msg, now)
	})
}

func (s *MemStore) BeginIndexing(ctx context.Context, id string) error {
	return s.transition(id, func(r *FileRecord, now time.Time) error {
		return r.applyBeginIndexing(now)
	})
}

func (s *MemStore) CompleteIndexing(ctx context.Context, id string) error {
	return s.transition(id, func(r *FileRecord, now time.Time) error {
		return r.applyCompleteIndexing(now)
	})
}

func (s *MemStore) FailIndexing(ctx context.Context, id string, msg string) error {
	return s.transition(id, func(r *FileRecord, now time.Time) error {
		return r.applyFailIndexing(msg, now)
	})
}
