package signing

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Algorithm tags the envelope format of a signature string.
type Algorithm string

const (
	// AlgEd25519 envelopes look like "ed25519:<base64url>:<unix ms>".
	AlgEd25519 Algorithm = "ed25519"

	// AlgLegacyHMAC envelopes look like "sig:<32 hex>:<unix ms>".
	AlgLegacyHMAC Algorithm = "sig"
)

// legacyHexLen is the truncated HMAC length carried by legacy envelopes.
const legacyHexLen = 32

// Signature is a parsed signature envelope. The signed bytes are always
// "<message>|<unix ms>" so the timestamp is covered by the signature.
type Signature struct {
	Algorithm Algorithm
	Value     []byte
	Timestamp time.Time
}

// String renders the envelope.
func (s Signature) String() string {
	ms := strconv.FormatInt(s.Timestamp.UnixMilli(), 10)
	switch s.Algorithm {
	case AlgLegacyHMAC:
		return string(AlgLegacyHMAC) + ":" + hex.EncodeToString(s.Value) + ":" + ms
	default:
		return string(AlgEd25519) + ":" + base64.RawURLEncoding.EncodeToString(s.Value) + ":" + ms
	}
}

// ParseSignature parses an envelope string.
func ParseSignature(s string) (Signature, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Signature{}, fmt.Errorf("%w: malformed envelope", ErrInvalidSignature)
	}

	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || ms < 0 {
		return Signature{}, fmt.Errorf("%w: malformed timestamp %q", ErrInvalidSignature, parts[2])
	}

	sig := Signature{Algorithm: Algorithm(parts[0]), Timestamp: time.UnixMilli(ms).UTC()}
	switch sig.Algorithm {
	case AlgEd25519:
		sig.Value, err = base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil || len(sig.Value) != ed25519.SignatureSize {
			return Signature{}, fmt.Errorf("%w: malformed ed25519 value", ErrInvalidSignature)
		}
	case AlgLegacyHMAC:
		if len(parts[1]) != legacyHexLen {
			return Signature{}, fmt.Errorf("%w: malformed legacy value", ErrInvalidSignature)
		}
		sig.Value, err = hex.DecodeString(parts[1])
		if err != nil {
			return Signature{}, fmt.Errorf("%w: malformed legacy value", ErrInvalidSignature)
		}
	default:
		return Signature{}, fmt.Errorf("%w: unknown algorithm %q", ErrInvalidSignature, parts[0])
	}
	return sig, nil
}

// SignedBytes returns the exact bytes an envelope signs.
func SignedBytes(message string, at time.Time) []byte {
	return []byte(message + "|" + strconv.FormatInt(at.UnixMilli(), 10))
}

// SignMessage produces an Ed25519 envelope over message at the given time.
func SignMessage(priv ed25519.PrivateKey, message string, at time.Time) (Signature, error) {
	at = at.UTC().Truncate(time.Millisecond)
	value, err := Sign(priv, SignedBytes(message, at))
	if err != nil {
		return Signature{}, err
	}
	return Signature{Algorithm: AlgEd25519, Value: value, Timestamp: at}, nil
}

// VerifyMessage checks an Ed25519 envelope over message with pub.
func VerifyMessage(pub ed25519.PublicKey, message string, sig Signature) error {
	if sig.Algorithm != AlgEd25519 {
		return fmt.Errorf("%w: expected %s envelope, got %q", ErrInvalidSignature, AlgEd25519, sig.Algorithm)
	}
	return Verify(pub, SignedBytes(message, sig.Timestamp), sig.Value)
}

// SignLegacy produces a legacy HMAC-SHA256 envelope keyed by the agent id.
func SignLegacy(agentID, message string, at time.Time) Signature {
	at = at.UTC().Truncate(time.Millisecond)
	return Signature{Algorithm: AlgLegacyHMAC, Value: legacyMAC(agentID, message, at), Timestamp: at}
}

// VerifyLegacy checks a legacy envelope.
func VerifyLegacy(agentID, message string, sig Signature) error {
	if sig.Algorithm != AlgLegacyHMAC {
		return fmt.Errorf("%w: expected %s envelope, got %q", ErrInvalidSignature, AlgLegacyHMAC, sig.Algorithm)
	}
	if subtle.ConstantTimeCompare(legacyMAC(agentID, message, sig.Timestamp), sig.Value) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

func legacyMAC(agentID, message string, at time.Time) []byte {
	mac := hmac.New(sha256.New, []byte(agentID))
	mac.Write(SignedBytes(message, at))
	return mac.Sum(nil)[:legacyHexLen/2]
}
