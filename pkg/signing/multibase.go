package signing

import (
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// multibasePrefix marks base58btc in the multibase table.
const multibasePrefix = "z"

// EncodeMultibase encodes a public key as "z" + base58btc.
func EncodeMultibase(pub ed25519.PublicKey) string {
	return multibasePrefix + base58.Encode(pub)
}

// DecodeMultibase parses a "z"-prefixed base58btc public key.
func DecodeMultibase(s string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(s, multibasePrefix) {
		return nil, fmt.Errorf("%w: unsupported multibase prefix in %q", ErrInvalidKey, s)
	}
	raw, err := base58.Decode(s[len(multibasePrefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes", ErrInvalidKey, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}
