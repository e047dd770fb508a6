package did

import "time"

// Document is the publishable DID document: public keys, full history, and
// the controller binding without its challenge nonce.
type Document struct {
	DID        string              `json:"did"`
	CurrentKey DocumentKey         `json:"currentKey"`
	KeyHistory []KeyRecord         `json:"keyHistory"`
	Controller *DocumentController `json:"controller,omitempty"`
	Status     Status              `json:"status"`
	Epoch      int                 `json:"epoch"`
	LegacyID   string              `json:"legacyId,omitempty"`
	Updated    time.Time           `json:"updated"`
}

// DocumentKey is the current verification key.
type DocumentKey struct {
	KeyID              string `json:"keyId"`
	Type               string `json:"type"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// DocumentController is the public view of a controller binding.
type DocumentController struct {
	Platform   string           `json:"platform"`
	Handle     string           `json:"handle"`
	Status     ControllerStatus `json:"status"`
	VerifiedAt time.Time        `json:"verifiedAt,omitzero"`
}

// VerificationKeyType is the key type advertised in documents.
const VerificationKeyType = "Ed25519VerificationKey2020"

// NewDocument renders the publishable document for id.
func NewDocument(id *Identity) *Document {
	doc := &Document{
		DID:        id.DID,
		KeyHistory: append([]KeyRecord(nil), id.Keys...),
		Status:     id.Status,
		Epoch:      id.Epoch,
		LegacyID:   id.LegacyID,
		Updated:    id.UpdatedAt,
	}
	if cur, ok := id.CurrentKey(); ok {
		doc.CurrentKey = DocumentKey{
			KeyID:              id.DID + cur.KeyID,
			Type:               VerificationKeyType,
			PublicKeyMultibase: cur.PublicKey,
		}
	}
	if c := id.Controller; c != nil {
		doc.Controller = &DocumentController{
			Platform:   c.Platform,
			Handle:     c.Handle,
			Status:     c.Status,
			VerifiedAt: c.VerifiedAt,
		}
	}
	return doc
}

// Identity rebuilds a verifiable identity from a published document so a
// third party can replay its chain.
func (d *Document) Identity() *Identity {
	id := &Identity{
		DID:      d.DID,
		Scheme:   SchemeChain,
		LegacyID: d.LegacyID,
		Status:   d.Status,
		Epoch:    d.Epoch,
		Keys:     append([]KeyRecord(nil), d.KeyHistory...),
	}
	for _, k := range id.Keys {
		if k.Seq == 0 {
			id.GenesisKey = k.PublicKey
		}
	}
	if head, ok := id.Head(); ok {
		id.CurrentKeyID = head.KeyID
	}
	return id
}
