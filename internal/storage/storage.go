// Package storage defines the object-storage collaborator contract used by
// the pipeline. Keys are opaque; the filesystem implementation maps them
// onto a local directory tree for development and testing.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/soycharroup/memoryreel/pkg/logger"
)

var (
	ErrObjectNotFound = errors.New("no object exists for the given key")

	log = logger.Get("Storage")
)

type (
	// Store is the object storage capability: key -> bytes. Cloud-backed
	// implementations (S3 et al) are adapters outside this core.
	Store interface {
		Put(ctx context.Context, key string, data []byte) error
		Get(ctx context.Context, key string) ([]byte, error)
		Delete(ctx context.Context, key string) error
	}

	FilesystemStore struct {
		baseDir string
	}
)

// NewFilesystemStore ensures the base directory exists (creating it if
// missing) and returns a store rooted there. An error is returned if the
// path exists but is not a directory.
func NewFilesystemStore(baseDir string) (*FilesystemStore, error) {
	if info, err := os.Stat(baseDir); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("storage path '%s' is not a directory", baseDir)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(baseDir, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("storage path '%s' could not be created: %w", baseDir, err)
		}
	} else {
		return nil, fmt.Errorf("storage path '%s' could not be accessed: %w", baseDir, err)
	}

	return &FilesystemStore{baseDir: baseDir}, nil
}

func (store *FilesystemStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := store.pathFor(key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModeDir|os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for object '%s': %w", key, err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write object '%s': %w", key, err)
	}

	log.Verbosef("Stored object '%s' (%d bytes)\n", key, len(data))
	return nil
}

func (store *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(store.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}

		return nil, fmt.Errorf("failed to read object '%s': %w", key, err)
	}

	return data, nil
}

func (store *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(store.pathFor(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrObjectNotFound
		}

		return fmt.Errorf("failed to delete object '%s': %w", key, err)
	}

	return nil
}

func (store *FilesystemStore) pathFor(key string) string {
	return filepath.Join(store.baseDir, filepath.FromSlash(key))
}
