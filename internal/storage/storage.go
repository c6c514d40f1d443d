// Package storage is the blob store for uploaded URL-list files. Files are
// written once at upload time and read back by the ingestion worker.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store persists uploaded blobs under opaque keys.
type Store interface {
	// Save writes the blob and returns its key.
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	// Read returns the blob's contents.
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error
}

// FileStore keeps blobs on the local filesystem under a base directory.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save writes the blob under a generated key. The original name survives
// only as the key's extension.
func (s *FileStore) Save(_ context.Context, name string, r io.Reader) (string, error) {
	key := uuid.New().String()
	if ext := filepath.Ext(name); ext != "" {
		key += ext
	}

	f, err := os.Create(filepath.Join(s.baseDir, key))
	if err != nil {
		return "", fmt.Errorf("create blob %s: %w", key, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write blob %s: %w", key, err)
	}
	return key, nil
}

// Read returns the blob's contents.
func (s *FileStore) Read(_ context.Context, key string) ([]byte, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the blob if it exists.
func (s *FileStore) Delete(_ context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", key, err)
	}
	return nil
}

// resolve rejects keys that would escape the base directory.
func (s *FileStore) resolve(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(s.baseDir, key), nil
}
