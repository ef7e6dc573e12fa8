// Package query is the read-only projection of file records: get, list,
// stats, and the stalled-records view. Record and stats reads go through
// Redis with a short TTL; mutating components call InvalidateRecord so
// status reads stay close to real time.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/valyc0/document-service/internal/file"
	apperrors "github.com/valyc0/document-service/pkg/errors"
	pkgredis "github.com/valyc0/document-service/pkg/redis"
)

const (
	recordKeyPrefix = "file:"
	statsKey        = "file:stats"
)

// Service answers status queries, optionally through a Redis cache.
type Service struct {
	store  file.Store
	cache  *pkgredis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// New creates the query service. cache may be nil, in which case every read
// goes straight to the store.
func New(store file.Store, cache *pkgredis.Client, ttl time.Duration) *Service {
	return &Service{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: slog.Default().With("component", "query-service"),
	}
}

// Get returns the record for a file identifier.
func (s *Service) Get(ctx context.Context, fileID string) (*file.FileRecord, error) {
	if s.cache != nil {
		if rec, ok := s.cachedRecord(ctx, fileID); ok {
			return rec, nil
		}
	}
	rec, err := s.store.GetByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	s.cacheRecord(ctx, rec)
	return rec, nil
}

// List returns records, newest first. stageFilter is optional; an
// unparseable value is rejected as invalid input.
func (s *Service) List(ctx context.Context, stageFilter string) ([]*file.FileRecord, error) {
	var stage file.UploadStage
	if stageFilter != "" {
		parsed, err := file.ParseUploadStage(stageFilter)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, 400, "invalid stage filter %q", stageFilter)
		}
		stage = parsed
	}
	return s.store.List(ctx, stage)
}

// Stats returns per-stage record counts, cached and deduplicated under
// concurrent misses via singleflight.
func (s *Service) Stats(ctx context.Context) (*file.StageCounts, error) {
	if s.cache == nil {
		return s.store.CountByStage(ctx)
	}
	if data, err := s.cache.Get(ctx, statsKey); err == nil {
		var counts file.StageCounts
		if err := json.Unmarshal([]byte(data), &counts); err == nil {
			return &counts, nil
		}
	}
	val, err, _ := s.group.Do(statsKey, func() (interface{}, error) {
		counts, err := s.store.CountByStage(ctx)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(counts); err == nil {
			if err := s.cache.Set(ctx, statsKey, data, s.ttl); err != nil {
				s.logger.Warn("failed to cache stats", "error", err)
			}
		}
		return counts, nil
	})
	if err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	return val.(*file.StageCounts), nil
}

// Stalled lists records stuck IN_PROGRESS for longer than olderThan. This is
// the observation hook for an external reconciliation sweep.
func (s *Service) Stalled(ctx context.Context, olderThan time.Duration) ([]*file.FileRecord, error) {
	return s.store.ListStalled(ctx, olderThan)
}

// InvalidateRecord drops the cached copies of a record and the stats
// projection after a mutation.
func (s *Service) InvalidateRecord(ctx context.Context, fileID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, recordKeyPrefix+fileID, statsKey); err != nil {
		s.logger.Warn("cache invalidation failed", "file_id", fileID, "error", err)
	}
}

func (s *Service) cachedRecord(ctx context.Context, fileID string) (*file.FileRecord, bool) {
	data, err := s.cache.Get(ctx, recordKeyPrefix+fileID)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			s.logger.Warn("cache get failed", "file_id", fileID, "error", err)
		}
		return nil, false
	}
	var rec file.FileRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		s.logger.Warn("cache unmarshal failed", "file_id", fileID, "error", err)
		return nil, false
	}
	return &rec, true
}

func (s *Service) cacheRecord(ctx context.Context, rec *file.FileRecord) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, recordKeyPrefix+rec.ID, data, s.ttl); err != nil {
		s.logger.Warn("cache set failed", "file_id", rec.ID, "error", err)
	}
}
