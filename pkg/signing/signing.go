// Package signing wraps Ed25519 and exposes sign/verify over opaque byte
// payloads, multibase public key encoding, and the timestamped signature
// envelopes exchanged between agents.
package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
)

var (
	// ErrInvalidSignature is returned when a signature does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrInvalidKey is returned for keys of the wrong size.
	ErrInvalidKey = errors.New("invalid key")
)

// KeyPair is an Ed25519 key pair.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a new Ed25519 key pair from crypto/rand.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// KeyPairFromSeed rebuilds a key pair from a 32 byte seed.
func KeyPairFromSeed(seed []byte) (*KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrInvalidKey, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &KeyPair{Public: priv.Public().(ed25519.PublicKey), Private: priv}, nil
}

// Multibase returns the multibase encoding of the public key.
func (kp *KeyPair) Multibase() string {
	return EncodeMultibase(kp.Public)
}

// Sign signs payload with priv.
func Sign(priv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrInvalidKey, len(priv))
	}
	return ed25519.Sign(priv, payload), nil
}

// Verify checks sig over payload with pub.
func Verify(pub ed25519.PublicKey, payload, sig []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: public key is %d bytes", ErrInvalidKey, len(pub))
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}
