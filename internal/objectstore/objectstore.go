// Package objectstore provides the two artifact backends behind one
// interface: a filesystem backend for local development and an
// S3-compatible backend for production, selected by runtime configuration
// rather than compiled in.
package objectstore

import (
	"context"
	"errors"
)

// ErrChecksumMismatch is returned by PutImmutable when a key already exists
// with different content than what is being written. A pre-existing key
// with a different checksum is treated as a fatal error, never overwritten.
var ErrChecksumMismatch = errors.New("objectstore: existing object has a different checksum")

// Object is a stored artifact's bytes plus metadata needed to compute its
// fully-qualified URI.
type Object struct {
	Key  string
	Body []byte
}

// Store is the backend-agnostic interface the publisher and field registry
// write through.
type Store interface {
	// PutImmutable writes body at key only if the key does not already
	// exist, or is a no-op success if the existing object's checksum
	// matches checksum. A pre-existing key with a different checksum
	// returns ErrChecksumMismatch.
	PutImmutable(ctx context.Context, key string, body []byte, checksum string) error

	// PutPointer unconditionally overwrites key (the mutable manifest
	// pointer; last writer wins).
	PutPointer(ctx context.Context, key string, body []byte) error

	// Get reads the object at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// URI returns the fully-qualified URI a manifest pointer should record
	// for key.
	URI(key string) string
}
