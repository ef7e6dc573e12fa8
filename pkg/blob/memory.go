package blob

import (
	"bytes"
	"context"
	"io"
	"sync"

	apperrors "github.com/valyc0/document-service/pkg/errors"
)

// MemStorage is an in-memory Storage used by unit tests and local
// experiments. It is safe for concurrent use.
type MemStorage struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailUploads makes every Upload return ErrStorageUnavailable, for
	// exercising the gateway's storage failure path.
	FailUploads bool
}

// NewMemStorage returns an empty in-memory store.
func NewMemStorage() *MemStorage {
	return &MemStorage{blobs: make(map[string][]byte)}
}

func (m *MemStorage) Upload(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	if m.FailUploads {
		return apperrors.ErrStorageUnavailable
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = b
	return nil
}

func (m *MemStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, apperrors.ErrFileNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *MemStorage) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *MemStorage) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

// Len reports the number of stored blobs.
func (m *MemStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
