// Package canonical content-addresses JSON-serializable values. Values are
// marshaled, canonicalized per RFC 8785, and hashed with SHA-256 so the same
// logical content always produces the same address.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Prefix is prepended to every hash this package renders.
const Prefix = "sha256:"

// JSON returns the RFC 8785 canonical JSON encoding of v.
func JSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling hash input: %w", err)
	}
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing hash input: %w", err)
	}
	return out, nil
}

// Hash returns "sha256:<hex>" over the canonical JSON encoding of v.
func Hash(v any) (string, error) {
	data, err := JSON(v)
	if err != nil {
		return "", err
	}
	return Bytes(data), nil
}

// Bytes returns "sha256:<hex>" over raw bytes.
func Bytes(b []byte) string {
	h := sha256.Sum256(b)
	return Prefix + hex.EncodeToString(h[:])
}

// String returns "sha256:<hex>" over s.
func String(s string) string {
	return Bytes([]byte(s))
}
