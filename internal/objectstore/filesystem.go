package objectstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemStore roots all objects under a local directory, suitable for
// local development.
type FilesystemStore struct {
	root string
}

// NewFilesystemStore builds a FilesystemStore rooted at root. The directory
// is created if absent.
func NewFilesystemStore(root string) (*FilesystemStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating object store root %q: %w", root, err)
	}
	return &FilesystemStore{root: root}, nil
}

func (s *FilesystemStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// PutImmutable implements Store.
func (s *FilesystemStore) PutImmutable(ctx context.Context, key string, body []byte, checksum string) error {
	path := s.path(key)
	existing, err := os.ReadFile(path)
	if err == nil {
		if checksumOf(existing) == checksum {
			return nil
		}
		return ErrChecksumMismatch
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("reading existing object %q: %w", key, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating object directory for %q: %w", key, err)
	}
	return writeFileAtomic(path, body)
}

// PutPointer implements Store.
func (s *FilesystemStore) PutPointer(ctx context.Context, key string, body []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating object directory for %q: %w", key, err)
	}
	return writeFileAtomic(path, body)
}

// Get implements Store.
func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	body, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}
	return body, nil
}

// URI implements Store.
func (s *FilesystemStore) URI(key string) string {
	return "file://" + filepath.Join(s.root, filepath.FromSlash(key))
}

// writeFileAtomic writes to a temp file in the same directory then renames,
// so a crash mid-write never leaves a partially-written object visible at
// its final key.
func writeFileAtomic(path string, body []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("writing temp object: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming temp object into place: %w", err)
	}
	return nil
}

func checksumOf(body []byte) string {
	sum := sha256.Sum256(body)
	return "sha256:" + hex.EncodeToString(sum[:])
}
