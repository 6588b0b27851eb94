package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/studyforge/material-pipeline/pkg/logger"
	"github.com/studyforge/material-pipeline/pkg/storage/minio"
	"github.com/studyforge/material-pipeline/pkg/storage/s3"
)

// StorageType selects the object store backend.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

// Storage holds raw material blobs.
type Storage interface {
	// Store writes a blob and returns its reference.
	Store(ctx context.Context, reader io.Reader, key string) (string, error)
	// Get opens a blob by reference.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes a blob.
	Delete(ctx context.Context, key string) error
}

// NewStorage creates a storage backend of the given type.
func NewStorage(ctx context.Context, storageType StorageType, logger logger.Logger) (Storage, error) {
	switch storageType {
	case StorageTypeS3:
		return s3.NewS3Storage(ctx, logger)
	case StorageTypeMinio:
		return minio.NewMinioStorage(logger)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}
}
