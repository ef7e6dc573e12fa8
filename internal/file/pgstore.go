package file

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/valyc0/document-service/pkg/errors"
	"github.com/valyc0/document-service/pkg/postgres"
)

// PGStore is the PostgreSQL-backed Store. Every stage transition is a single
// conditional UPDATE whose WHERE clause encodes the same guard the in-memory
// store applies under its lock, so concurrent duplicate transitions resolve
// to exactly one winner at the database.
type PGStore struct {
	db *postgres.Client
}

// NewPGStore wraps a connected PostgreSQL client.
func NewPGStore(db *postgres.Client) *PGStore {
	return &PGStore{db: db}
}

const recordColumns = `
	id, checksum, original_filename, file_size, content_type,
	blob_path_original, blob_path_extracted,
	upload_stage, extraction_stage, indexing_stage,
	extraction_started_at, extraction_completed_at,
	indexing_started_at, indexing_completed_at,
	extraction_error, indexing_error,
	created_at, updated_at`

func (s *PGStore) Insert(ctx context.Context, rec *FileRecord) (*FileRecord, bool, error) {
	var id string
	err := s.db.DB.QueryRowContext(ctx, `
		INSERT INTO file_records (
			id, checksum, original_filename, file_size, content_type,
			blob_path_original, upload_stage, extraction_stage, indexing_stage
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (checksum) DO NOTHING
		RETURNING id`,
		rec.ID, rec.Checksum, rec.OriginalFilename, rec.FileSize, rec.ContentType,
		rec.BlobPathOriginal, rec.UploadStage, rec.ExtractionStage, rec.IndexingStage,
	).Scan(&id)
	if err == sql.ErrNoRows {
		// Lost the insert race or the checksum was already present: the
		// dedup invariant says the existing record wins.
		existing, lookupErr := s.GetByChecksum(ctx, rec.Checksum)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("resolving duplicate checksum %s: %w", rec.Checksum, lookupErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("inserting file record: %w", err)
	}
	stored, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, true, nil
}

func (s *PGStore) GetByID(ctx context.Context, id string) (*FileRecord, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM file_records WHERE id = $1`, id)
	return scanRecord(row)
}

func (s *PGStore) GetByChecksum(ctx context.Context, checksum string) (*FileRecord, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM file_records WHERE checksum = $1`, checksum)
	return scanRecord(row)
}

func (s *PGStore) List(ctx context.Context, stage UploadStage) ([]*FileRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM file_records`
	args := []any{}
	if stage != "" {
		query += ` WHERE upload_stage = $1`
		args = append(args, stage)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing file records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PGStore) ListStalled(ctx context.Context, olderThan time.Duration) ([]*FileRecord, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.DB.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM file_records
		WHERE (extraction_stage = 'IN_PROGRESS' AND extraction_started_at < $1)
		   OR (indexing_stage = 'IN_PROGRESS' AND indexing_started_at < $1)
		ORDER BY created_at ASC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("listing stalled records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *PGStore) CountByStage(ctx context.Context) (*StageCounts, error) {
	counts := &StageCounts{}
	err := s.db.DB.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE upload_stage = 'UPLOADED'),
		       count(*) FILTER (WHERE upload_stage = 'EXTRACTED'),
		       count(*) FILTER (WHERE upload_stage = 'INDEXED'),
		       count(*) FILTER (WHERE upload_stage = 'FAILED')
		FROM file_records`,
	).Scan(&counts.Total, &counts.Uploaded, &counts.Extracted, &counts.Indexed, &counts.Failed)
	if err != nil {
		return nil, fmt.Errorf("counting file records: %w", err)
	}
	return counts, nil
}

func (s *PGStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.DB.ExecContext(ctx, `DELETE FROM file_records WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting file record %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return apperrors.ErrFileNotFound
	}
	return nil
}

// guardedUpdate executes a conditional transition UPDATE and translates a
// zero-row result into not-found or stage-conflict depending on whether the
// record exists at all.
func (s *PGStore) guardedUpdate(ctx context.Context, id, query string, args ...any) error {
	result, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating file record %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected > 0 {
		return nil
	}
	var exists bool
	if err := s.db.DB.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM file_records WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking record existence %s: %w", id, err)
	}
	if !exists {
		return apperrors.ErrFileNotFound
	}
	return apperrors.ErrStageConflict
}

func (s *PGStore) BeginExtraction(ctx context.Context, id string) error {
	return s.guardedUpdate(ctx, id, `
		UPDATE file_records
		SET extraction_stage = 'IN_PROGRESS', upload_stage = 'EXTRACTING',
		    extraction_started_at = now(), updated_at = now()
		WHERE id = $1 AND extraction_stage = 'PENDING' AND upload_stage = 'UPLOADED'`, id)
}

func (s *PGStore) CompleteExtraction(ctx context.Context, id string, extractedPath string) error {
	return s.guardedUpdate(ctx, id, `
		UPDATE file_records
		SET extraction_stage = 'COMPLETED', upload_stage = 'EXTRACTED',
		    blob_path_extracted = $2, extraction_completed_at = now(), updated_at = now()
		WHERE id = $1 AND extraction_stage IN ('PENDING', 'IN_PROGRESS')
		  AND upload_stage IN ('UPLOADED', 'EXTRACTING')`, id, extractedPath)
}

func (s *PGStore) FailExtraction(ctx context.Context, id string, msg string) error {
	return s.guardedUpdate(ctx, id, `
		UPDATE file_records
		SET extraction_stage = 'FAILED', upload_stage = 'FAILED',
		    extraction_error = $2, extraction_completed_at = now(), updated_at = now()
		WHERE id = $1 AND extraction_stage IN ('PENDING', 'IN_PROGRESS')
		  AND upload_stage NOT IN ('INDEXED', 'FAILED')`, id, msg)
}

func (s *PGStore) BeginIndexing(ctx context.Context, id string) error {
	return s.guardedUpdate(ctx, id, `
		UPDATE file_records
		SET indexing_stage = 'IN_PROGRESS', upload_stage = 'INDEXING',
		    indexing_started_at = now(), updated_at = now()
		WHERE id = $1 AND extraction_stage = 'COMPLETED' AND indexing_stage = 'PENDING'
		  AND upload_stage NOT IN ('INDEXED', 'FAILED')`, id)
}

func (s *PGStore) CompleteIndexing(ctx context.Context, id string) error {
	return s.guardedUpdate(ctx, id, `
		UPDATE file_records
		SET indexing_stage = 'COMPLETED', upload_stage = 'INDEXED',
		    indexing_completed_at = now(), updated_at = now()
		WHERE id = $1 AND extraction_stage = 'COMPLETED'
		  AND indexing_stage IN ('PENDING', 'IN_PROGRESS')
		  AND upload_stage NOT IN ('INDEXED', 'FAILED')`, id)
}

func (s *PGStore) FailIndexing(ctx context.Context, id string, msg string) error {
	return s.guardedUpdate(ctx, id, `
		UPDATE file_records
		SET indexing_stage = 'FAILED', upload_stage = 'FAILED',
		    indexing_error = $2, indexing_completed_at = now(), updated_at = now()
		WHERE id = $1 AND extraction_stage = 'COMPLETED'
		  AND indexing_stage IN ('PENDING', 'IN_PROGRESS')
		  AND upload_stage NOT IN ('INDEXED', 'FAILED')`, id, msg)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*FileRecord, error) {
	var rec FileRecord
	var blobExtracted, extractionErr, indexingErr sql.NullString
	var extStarted, extCompleted, idxStarted, idxCompleted sql.NullTime

	err := row.Scan(
		&rec.ID, &rec.Checksum, &rec.OriginalFilename, &rec.FileSize, &rec.ContentType,
		&rec.BlobPathOriginal, &blobExtracted,
		&rec.UploadStage, &rec.ExtractionStage, &rec.IndexingStage,
		&extStarted, &extCompleted, &idxStarted, &idxCompleted,
		&extractionErr, &indexingErr,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning file record: %w", err)
	}

	rec.BlobPathExtracted = blobExtracted.String
	rec.ExtractionError = extractionErr.String
	rec.IndexingError = indexingErr.String
	rec.ExtractionStartedAt = nullableTime(extStarted)
	rec.ExtractionCompletedAt = nullableTime(extCompleted)
	rec.IndexingStartedAt = nullableTime(idxStarted)
	rec.IndexingCompletedAt = nullableTime(idxCompleted)
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*FileRecord, error) {
	var out []*FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating file records: %w", err)
	}
	return out, nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
