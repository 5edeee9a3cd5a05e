// Package objectstore abstracts the durable object storage backend that
// sealed chunks upload to: S3, Google Cloud Storage, Azure Blob, or a
// local filesystem for single-node deployments and tests.
package objectstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get and Delete when key does not exist.
var ErrNotFound = errors.New("objectstore: key not found")

// Store is the minimal object storage contract every backend
// implements. Keys are opaque slash-separated strings; backends that
// have a native notion of bucket/container take it at construction time,
// not per-call.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix, in no particular
	// order beyond what the backend happens to return.
	List(ctx context.Context, prefix string) ([]string, error)
}
