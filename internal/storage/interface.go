package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("object not found")

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)

	// Put stores an object, replacing any previous content at key
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get opens an object for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete deletes an object; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error

	// URL returns the address of an object. Private objects get a
	// time-limited signed URL where the backend supports it.
	URL(ctx context.Context, key string, public bool) (string, error)
}
