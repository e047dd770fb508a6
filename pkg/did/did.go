// Package did models agent identities: the DID itself, the append-only key
// history chain, the human controller binding, and the signature schemes an
// identity can verify under.
package did

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Method is the DID method for agent identities.
const Method = "agent"

// Status is the lifecycle state of an identity.
type Status string

const (
	StatusActive      Status = "active"
	StatusCompromised Status = "compromised"
	StatusRecovered   Status = "recovered"
)

// KeyMethod records how a key entered the chain.
type KeyMethod string

const (
	KeyGenesis  KeyMethod = "genesis"
	KeyRotation KeyMethod = "rotation"
	KeyRecovery KeyMethod = "recovery"
)

// Reason is why a key was rotated in.
type Reason string

const (
	ReasonScheduled    Reason = "scheduled"
	ReasonCompromise   Reason = "compromise"
	ReasonDeviceChange Reason = "device_change"
)

// ParseReason validates a rotation reason. The empty string means scheduled.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(strings.TrimSpace(s)); r {
	case "":
		return ReasonScheduled, nil
	case ReasonScheduled, ReasonCompromise, ReasonDeviceChange:
		return r, nil
	default:
		return "", fmt.Errorf("unknown rotation reason %q", s)
	}
}

// ControllerStatus is the verification state of a controller binding.
type ControllerStatus string

const (
	ControllerUnverified ControllerStatus = "unverified"
	ControllerVerified   ControllerStatus = "verified"
)

// Identity is an agent identity and its full key history.
type Identity struct {
	// DID is "did:agent:<namespace>:<name>". Empty for identities that only
	// exist under the legacy scheme.
	DID       string `json:"did,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name,omitempty"`

	// Scheme selects how signatures by this identity are produced and checked.
	Scheme SchemeTag `json:"scheme"`

	// LegacyID is the pre-DID agent id. Legacy signatures keyed by it stay
	// verifiable after migration.
	LegacyID string `json:"legacyId,omitempty"`

	// MigratedTo points a legacy identity at the DID it was upgraded to.
	MigratedTo string `json:"migratedTo,omitempty"`

	Status Status `json:"status"`

	// Epoch counts recoveries. Every recovery opens a new epoch.
	Epoch int `json:"epoch"`

	// GenesisKey is the multibase public key of the first record. Anyone
	// holding it and Keys can replay the chain.
	GenesisKey   string      `json:"genesisKey,omitempty"`
	CurrentKeyID string      `json:"currentKeyId,omitempty"`
	Keys         []KeyRecord `json:"keys,omitempty"`
	Controller   *Controller `json:"controller,omitempty"`

	// Version is the optimistic concurrency token, advanced by every write.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Subject is the key an identity is stored under.
func (id *Identity) Subject() string {
	if id.DID != "" {
		return id.DID
	}
	return id.LegacyID
}

// Key returns the record with the given key id.
func (id *Identity) Key(keyID string) (*KeyRecord, bool) {
	for i := range id.Keys {
		if id.Keys[i].KeyID == keyID {
			return &id.Keys[i], true
		}
	}
	return nil, false
}

// CurrentKey returns the current key record.
func (id *Identity) CurrentKey() (*KeyRecord, bool) {
	if id.CurrentKeyID == "" {
		return nil, false
	}
	return id.Key(id.CurrentKeyID)
}

// Head returns the highest sequence record.
func (id *Identity) Head() (*KeyRecord, bool) {
	if len(id.Keys) == 0 {
		return nil, false
	}
	head := &id.Keys[0]
	for i := range id.Keys {
		if id.Keys[i].Seq > head.Seq {
			head = &id.Keys[i]
		}
	}
	return head, true
}

// CompromisedKeys lists every key id retired by a recovery.
func (id *Identity) CompromisedKeys() []string {
	var out []string
	for _, k := range id.Keys {
		if k.Recovery != nil {
			out = append(out, k.Recovery.CompromisedKeys...)
		}
	}
	return out
}

// KeyRecord is one link in the key history chain. Records are never mutated
// once appended and never carry private key material.
type KeyRecord struct {
	KeyID     string    `json:"keyId"`
	Seq       int       `json:"seq"`
	Epoch     int       `json:"epoch"`
	PublicKey string    `json:"publicKeyMultibase"`
	Method    KeyMethod `json:"method"`
	Reason    Reason    `json:"reason,omitempty"`

	// PreviousKeyID is the parent link. Empty for genesis and for a
	// recovery that retires the genesis key.
	PreviousKeyID string `json:"previousKeyId,omitempty"`

	// RotationProof is the base64url Ed25519 signature by the parent key
	// over the canonical RotationPayload. Set only on rotation records.
	RotationProof string `json:"rotationProof,omitempty"`

	// Recovery is the controller attestation. Set only on recovery records.
	Recovery *RecoveryProof `json:"recovery,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// RecoveryProof is the controller attestation behind a recovery record.
type RecoveryProof struct {
	Platform        string   `json:"platform"`
	Handle          string   `json:"handle"`
	URL             string   `json:"url"`
	Challenge       string   `json:"challenge"`
	Statement       string   `json:"statement"`
	ProofHash       string   `json:"proofHash"`
	CompromisedKeys []string `json:"compromisedKeys"`
}

// Controller binds a human-owned external account as the recovery backstop.
type Controller struct {
	Platform string           `json:"platform"`
	Handle   string           `json:"handle"`
	Status   ControllerStatus `json:"status"`

	// Challenge is the nonce the next proof must quote. It is reissued after
	// every successful verification or recovery so proofs cannot be replayed.
	Challenge  string    `json:"challenge"`
	ProofURL   string    `json:"proofUrl,omitempty"`
	LinkedAt   time.Time `json:"linkedAt"`
	VerifiedAt time.Time `json:"verifiedAt,omitzero"`
}

// Verified reports whether the controller passed its challenge.
func (c *Controller) Verified() bool {
	return c != nil && c.Status == ControllerVerified
}

var segment = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// Format builds "did:agent:<namespace>:<name>".
func Format(namespace, name string) (string, error) {
	namespace = strings.ToLower(strings.TrimSpace(namespace))
	name = strings.ToLower(strings.TrimSpace(name))
	if !segment.MatchString(namespace) {
		return "", fmt.Errorf("invalid namespace %q", namespace)
	}
	if !segment.MatchString(name) {
		return "", fmt.Errorf("invalid name %q", name)
	}
	return "did:" + Method + ":" + namespace + ":" + name, nil
}

// Parse splits a DID into namespace and name.
func Parse(s string) (namespace, name string, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[0] != "did" || parts[1] != Method {
		return "", "", fmt.Errorf("invalid DID %q", s)
	}
	if !segment.MatchString(parts[2]) || !segment.MatchString(parts[3]) {
		return "", "", fmt.Errorf("invalid DID %q", s)
	}
	return parts[2], parts[3], nil
}

// IsDID reports whether s looks like an agent DID.
func IsDID(s string) bool {
	_, _, err := Parse(s)
	return err == nil
}

// KeyID names the key at the given chain position.
func KeyID(seq int) string {
	return fmt.Sprintf("#key-%d", seq)
}
