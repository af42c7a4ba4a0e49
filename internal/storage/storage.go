// Package storage persists dataset bundles in object storage.
package storage

import (
	"context"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// ErrObjectNotFound is returned by Get for a missing object.
var ErrObjectNotFound = qerrors.ErrObjectNotFound

// ObjectStorage abstracts the object stores bundles are kept in.
// Implementations are the local filesystem and S3.
type ObjectStorage interface {
	// Put writes data at objectPath, replacing any previous object.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get reads the object at objectPath. A missing object is
	// ErrObjectNotFound.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists reports whether an object is stored at objectPath.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

func uploadFailed(objectPath string, cause error) error {
	return qerrors.NewStorageError(qerrors.CodeUploadFailed, "upload "+objectPath, cause)
}

func downloadFailed(objectPath string, cause error) error {
	return qerrors.NewStorageError(qerrors.CodeDownloadFailed, "download "+objectPath, cause)
}

func notFound(objectPath string) error {
	return qerrors.NewStorageError(qerrors.CodeObjectNotFound, "object "+objectPath+" not found", nil)
}
