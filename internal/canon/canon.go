// Package canon implements deterministic canonical JSON serialization:
// recursively key-ordered objects, caller-preserved array order, minimal
// escaping, UTF-8, no insignificant whitespace.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Marshal renders v to its canonical JSON byte form: marshal via
// encoding/json (caller-controlled array order is preserved by json.Marshal
// itself) then transform to RFC 8785 canonical form, which reorders object
// keys lexicographically by UTF-8 code unit at every depth.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling value: %w", err)
	}
	return Transform(raw)
}

// Transform canonicalizes an already-serialized JSON byte sequence.
func Transform(raw []byte) ([]byte, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing JSON: %w", err)
	}
	return canonical, nil
}

// Checksum returns "sha256:<lowercase-hex>" over the exact bytes given.
func Checksum(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// MarshalWithChecksum canonicalizes v and returns both the canonical bytes
// and their checksum in one call, the shape the compiler and publisher need.
func MarshalWithChecksum(v any) (bytes []byte, checksum string, err error) {
	canonical, err := Marshal(v)
	if err != nil {
		return nil, "", err
	}
	return canonical, Checksum(canonical), nil
}
