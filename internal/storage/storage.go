// Package storage provides object storage for batch payloads and
// flagged-batch exports. Payloads are small (a compressed batch is a few
// kilobytes), so the interface is byte-oriented rather than file-oriented.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound = errors.New("object not found")
	ErrPutFailed      = errors.New("put failed")
	ErrGetFailed      = errors.New("get failed")
	ErrDeleteFailed   = errors.New("delete failed")
)

// ObjectStore abstracts object storage operations.
// Implementations include S3 and the local filesystem.
type ObjectStore interface {
	// Put writes an object, replacing any existing object at that key.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads an object. Returns ErrObjectNotFound if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether an object exists at the key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
