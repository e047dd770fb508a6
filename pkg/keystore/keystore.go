// Package keystore holds agent private keys. Private keys live only here and
// never in identity records.
package keystore

import (
	"context"

	"github.com/papercomputeco/accord/pkg/signing"
)

// KeyStore stores private keys by identity subject and public key. Key ids
// are positions in a key history and can be claimed by two racing writers;
// public keys cannot, so a stored key is never replaced.
type KeyStore interface {
	// Put stores a key pair labelled with keyID. It fails with a duplicate
	// error when the public key is already held for subject.
	Put(ctx context.Context, subject, keyID string, kp *signing.KeyPair) error

	// Get returns the key pair for a multibase public key, or a not found
	// error.
	Get(ctx context.Context, subject, publicKey string) (*signing.KeyPair, error)

	// Has reports whether the key pair for a public key is held.
	Has(ctx context.Context, subject, publicKey string) (bool, error)
}
