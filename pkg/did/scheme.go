package did

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

// SchemeTag selects the signature scheme of an identity.
type SchemeTag string

const (
	// SchemeLegacy is the pre-DID scheme: HMAC-SHA256 keyed by the agent id.
	SchemeLegacy SchemeTag = "legacy"

	// SchemeChain is the DID key-chain scheme: Ed25519 with rotation history.
	SchemeChain SchemeTag = "did-chain"
)

// Verification describes a signature that verified.
type Verification struct {
	Subject  string    `json:"subject"`
	Scheme   SchemeTag `json:"scheme"`
	KeyID    string    `json:"keyId,omitempty"`
	SignedAt time.Time `json:"signedAt"`

	// Historical is set when the signing key is no longer current.
	Historical bool `json:"historical"`

	// Compromised is set when the signing key was later retired by a
	// recovery. The signature predates the recovery point.
	Compromised bool `json:"compromised"`
}

// Scheme signs and verifies messages on behalf of an identity.
type Scheme interface {
	Tag() SchemeTag

	// Sign signs message at the given time. key is the current private key;
	// schemes that do not use key material ignore it.
	Sign(id *Identity, key ed25519.PrivateKey, message string, at time.Time) (signing.Signature, error)

	// Verify checks sig over message. When asOfKey is set the signature
	// must come from that key and fall inside its signing window.
	Verify(id *Identity, message string, sig signing.Signature, asOfKey string) (*Verification, error)
}

// SchemeFor returns the scheme for a tag.
func SchemeFor(tag SchemeTag) (Scheme, error) {
	switch tag {
	case SchemeLegacy:
		return LegacyScheme{}, nil
	case SchemeChain, "":
		return ChainScheme{}, nil
	default:
		return nil, errs.Validation("unknown signature scheme %q", tag)
	}
}

// LegacyScheme verifies HMAC envelopes keyed by the legacy agent id.
type LegacyScheme struct{}

func (LegacyScheme) Tag() SchemeTag { return SchemeLegacy }

func (LegacyScheme) Sign(id *Identity, _ ed25519.PrivateKey, message string, at time.Time) (signing.Signature, error) {
	if id.LegacyID == "" {
		return signing.Signature{}, errs.Validation("identity %s has no legacy id", id.Subject())
	}
	return signing.SignLegacy(id.LegacyID, message, at), nil
}

func (LegacyScheme) Verify(id *Identity, message string, sig signing.Signature, _ string) (*Verification, error) {
	if id.LegacyID == "" {
		return nil, errs.SignatureVerification("identity %s has no legacy id", id.Subject())
	}
	if sig.Algorithm != signing.AlgLegacyHMAC {
		return nil, errs.SignatureVerification("legacy identity %s cannot verify %s signatures", id.Subject(), sig.Algorithm)
	}
	if err := signing.VerifyLegacy(id.LegacyID, message, sig); err != nil {
		return nil, errs.Wrap(errs.KindSignatureVerification, err, "legacy signature")
	}
	return &Verification{Subject: id.Subject(), Scheme: SchemeLegacy, SignedAt: sig.Timestamp}, nil
}

// ChainScheme verifies Ed25519 envelopes against the key that was current
// when the message was signed. Migrated identities keep verifying legacy
// envelopes through LegacyScheme, but only those timestamped before the
// genesis record: the legacy key is public once the DID document is.
type ChainScheme struct{}

func (ChainScheme) Tag() SchemeTag { return SchemeChain }

func (ChainScheme) Sign(_ *Identity, key ed25519.PrivateKey, message string, at time.Time) (signing.Signature, error) {
	return signing.SignMessage(key, message, at)
}

func (ChainScheme) Verify(id *Identity, message string, sig signing.Signature, asOfKey string) (*Verification, error) {
	if sig.Algorithm == signing.AlgLegacyHMAC && id.LegacyID != "" {
		if len(id.Keys) == 0 || !sig.Timestamp.Before(id.Keys[0].CreatedAt) {
			return nil, errs.SignatureVerification("legacy signature by %s is dated after its migration to %s", id.LegacyID, id.DID)
		}
		return LegacyScheme{}.Verify(id, message, sig, asOfKey)
	}
	if sig.Algorithm != signing.AlgEd25519 {
		return nil, errs.SignatureVerification("identity %s cannot verify %s signatures", id.Subject(), sig.Algorithm)
	}

	report := VerifyChain(id)
	valid := report.ValidKeys()
	windows := Windows(id)

	var candidates []KeyRecord
	if asOfKey != "" {
		rec, ok := id.Key(asOfKey)
		if !ok {
			return nil, errs.SignatureVerification("identity %s has no key %s", id.DID, asOfKey)
		}
		if !valid[asOfKey] {
			return nil, errs.SignatureVerification("key %s is not part of a valid chain", asOfKey)
		}
		if !windows[asOfKey].Covers(sig.Timestamp) {
			return nil, errs.SignatureVerification("key %s was not current at %s", asOfKey, sig.Timestamp.Format(time.RFC3339Nano))
		}
		candidates = append(candidates, *rec)
	} else {
		for _, k := range id.Keys {
			if valid[k.KeyID] && windows[k.KeyID].Covers(sig.Timestamp) {
				candidates = append(candidates, k)
			}
		}
	}

	for _, k := range candidates {
		pub, err := signing.DecodeMultibase(k.PublicKey)
		if err != nil {
			continue
		}
		if signing.VerifyMessage(pub, message, sig) == nil {
			return &Verification{
				Subject:     id.Subject(),
				Scheme:      SchemeChain,
				KeyID:       k.KeyID,
				SignedAt:    sig.Timestamp,
				Historical:  k.KeyID != id.CurrentKeyID,
				Compromised: windows[k.KeyID].Compromised,
			}, nil
		}
	}

	if len(candidates) == 0 {
		return nil, errs.SignatureVerification("no valid key of %s was current at %s", id.DID, sig.Timestamp.Format(time.RFC3339Nano))
	}
	return nil, errs.SignatureVerification("signature does not verify under %s", describeCandidates(candidates))
}

func describeCandidates(keys []KeyRecord) string {
	if len(keys) == 1 {
		return "key " + keys[0].KeyID
	}
	return fmt.Sprintf("any of %d candidate keys", len(keys))
}
