// Package blob abstracts the object store holding original files and
// extraction output. The production implementation targets any S3-compatible
// endpoint (MinIO included); a memory-backed implementation exists for tests.
package blob

import (
	"context"
	"io"
)

// Storage is the object-store contract used by the pipeline.
type Storage interface {
	Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}
