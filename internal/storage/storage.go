// Package storage moves exported experience datasets and database archives
// between the local filesystem and object storage.
package storage

import (
	"context"
	"fmt"

	"github.com/autosteer/autosteer/internal/config"
	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// ObjectStorage abstracts the object store that receives exports.
// Implementations include S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to localPath, creating parent directories.
	// A missing object yields an error matching errors.ErrObjectNotFound.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object exists.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under prefix in lexical order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// New builds the object storage selected by cfg.Type.
func New(ctx context.Context, cfg config.ExportConfig) (ObjectStorage, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorage(cfg.Path)
	case "s3":
		return NewS3Storage(ctx, cfg.S3.Bucket, S3Config{
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			PartSize:     DefaultPartSize,
		})
	default:
		return nil, storeerrors.NewConfigError(storeerrors.CodeInvalidConfig,
			fmt.Sprintf("unsupported export storage type %q", cfg.Type), nil)
	}
}

func uploadError(objectPath string, cause error) error {
	return storeerrors.NewStorageError(storeerrors.CodeUploadFailed, fmt.Sprintf("failed to upload %s", objectPath), cause)
}

func downloadError(objectPath string, cause error) error {
	return storeerrors.NewStorageError(storeerrors.CodeDownloadFailed, fmt.Sprintf("failed to download %s", objectPath), cause)
}

func notFound(objectPath string) error {
	return storeerrors.NewStorageError(storeerrors.CodeObjectNotFound, fmt.Sprintf("object %s not found", objectPath), nil)
}
