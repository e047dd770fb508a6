package did

import (
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/canonical"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

// RotationPayload is what the outgoing key signs when a rotation is appended.
// It commits to the incoming public key and to the record's chain position.
type RotationPayload struct {
	DID                   string `json:"did"`
	PreviousKeyID         string `json:"previousKeyId"`
	NewKeyID              string `json:"newKeyId"`
	NewPublicKeyMultibase string `json:"newPublicKeyMultibase"`
	Reason                Reason `json:"reason"`
	Seq                   int    `json:"seq"`
	Epoch                 int    `json:"epoch"`
	RotatedAt             string `json:"rotatedAt"`
}

// NewRotationPayload builds the payload for rec under identity did.
func NewRotationPayload(did string, rec *KeyRecord) RotationPayload {
	return RotationPayload{
		DID:                   did,
		PreviousKeyID:         rec.PreviousKeyID,
		NewKeyID:              rec.KeyID,
		NewPublicKeyMultibase: rec.PublicKey,
		Reason:                rec.Reason,
		Seq:                   rec.Seq,
		Epoch:                 rec.Epoch,
		RotatedAt:             rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Bytes returns the canonical encoding that is signed.
func (p RotationPayload) Bytes() ([]byte, error) {
	return canonical.JSON(p)
}

// SignRotation fills rec.RotationProof with a signature by the parent key.
func SignRotation(did string, rec *KeyRecord, parent *signing.KeyPair) error {
	payload, err := NewRotationPayload(did, rec).Bytes()
	if err != nil {
		return err
	}
	sig, err := signing.Sign(parent.Private, payload)
	if err != nil {
		return err
	}
	rec.RotationProof = base64.RawURLEncoding.EncodeToString(sig)
	return nil
}

// ChallengeStatement is the text a controller proof must carry, signed by
// the identity's current key, to verify the binding.
func ChallengeStatement(did, challenge string) string {
	return "I am the human controller of " + did + "\n\nChallenge: " + challenge
}

// RecoveryStatement is the text a controller must publish to authorize a
// recovery into the given epoch.
func RecoveryStatement(did string, epoch int, challenge string) string {
	return fmt.Sprintf("I am the human controller of %s\n\nRecover to epoch %d\nChallenge: %s", did, epoch, challenge)
}

// ContainsStatement reports whether text contains statement, ignoring
// differences in whitespace that publishing platforms introduce.
func ContainsStatement(text, statement string) bool {
	return strings.Contains(collapse(text), collapse(statement))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// LinkResult is the verification outcome for one chain record.
type LinkResult struct {
	KeyID  string    `json:"keyId"`
	Seq    int       `json:"seq"`
	Method KeyMethod `json:"method"`
	Valid  bool      `json:"valid"`
	Reason string    `json:"reason,omitempty"`
}

// ChainReport is the result of replaying a key history from genesis.
type ChainReport struct {
	DID   string       `json:"did"`
	Valid bool         `json:"valid"`
	Links []LinkResult `json:"links"`

	// FirstInvalid is the index of the first failing link, or -1.
	FirstInvalid int `json:"firstInvalid"`

	// Problem explains a failure that is not tied to a single link.
	Problem string `json:"problem,omitempty"`
}

// Err returns a signature verification error if the chain is invalid.
func (r *ChainReport) Err() error {
	if r.Valid {
		return nil
	}
	if r.FirstInvalid >= 0 {
		l := r.Links[r.FirstInvalid]
		return errs.SignatureVerification("key chain for %s invalid at link %d (%s): %s", r.DID, r.FirstInvalid, l.KeyID, l.Reason)
	}
	return errs.SignatureVerification("key chain for %s invalid: %s", r.DID, r.Problem)
}

// ValidKeys returns the key ids of every link that verified.
func (r *ChainReport) ValidKeys() map[string]bool {
	out := make(map[string]bool, len(r.Links))
	for _, l := range r.Links {
		if l.Valid {
			out[l.KeyID] = true
		}
	}
	return out
}

// VerifyChain replays the key history of id from its genesis key. It fails
// closed: once a link is invalid every later link is reported invalid too.
func VerifyChain(id *Identity) *ChainReport {
	report := &ChainReport{DID: id.DID, Valid: true, FirstInvalid: -1}

	recs := slices.Clone(id.Keys)
	slices.SortStableFunc(recs, func(a, b KeyRecord) int { return a.Seq - b.Seq })

	if len(recs) == 0 {
		report.Valid = false
		report.Problem = "no key records"
		return report
	}

	w := &chainWalker{did: id.DID, genesis: id.GenesisKey, seen: map[string]*KeyRecord{}, retired: map[string]bool{}}
	for i := range recs {
		rec := &recs[i]
		link := LinkResult{KeyID: rec.KeyID, Seq: rec.Seq, Method: rec.Method}
		if report.FirstInvalid >= 0 {
			link.Reason = "preceding link invalid"
		} else if reason := w.check(i, rec); reason != "" {
			link.Reason = reason
			report.FirstInvalid = i
			report.Valid = false
		} else {
			link.Valid = true
		}
		report.Links = append(report.Links, link)
	}

	if report.Valid && id.CurrentKeyID != recs[len(recs)-1].KeyID {
		report.Valid = false
		report.Problem = fmt.Sprintf("current key %s is not the chain head %s", id.CurrentKeyID, recs[len(recs)-1].KeyID)
	}
	return report
}

type chainWalker struct {
	did     string
	genesis string
	epoch   int
	seen    map[string]*KeyRecord
	retired map[string]bool
}

func (w *chainWalker) check(i int, rec *KeyRecord) string {
	if rec.Seq != i {
		return fmt.Sprintf("sequence %d out of order", rec.Seq)
	}
	if _, dup := w.seen[rec.KeyID]; dup {
		return "duplicate key id"
	}
	if _, err := signing.DecodeMultibase(rec.PublicKey); err != nil {
		return "undecodable public key"
	}

	var reason string
	switch rec.Method {
	case KeyGenesis:
		reason = w.checkGenesis(i, rec)
	case KeyRotation:
		reason = w.checkRotation(rec)
	case KeyRecovery:
		reason = w.checkRecovery(rec)
	default:
		reason = fmt.Sprintf("unknown method %q", rec.Method)
	}
	if reason != "" {
		return reason
	}

	w.seen[rec.KeyID] = rec
	return ""
}

func (w *chainWalker) checkGenesis(i int, rec *KeyRecord) string {
	switch {
	case i != 0:
		return "genesis record after chain start"
	case rec.PublicKey != w.genesis:
		return "genesis key mismatch"
	case rec.Epoch != 0 || rec.PreviousKeyID != "" || rec.RotationProof != "" || rec.Recovery != nil:
		return "genesis record carries chain fields"
	}
	return ""
}

func (w *chainWalker) checkRotation(rec *KeyRecord) string {
	if rec.Recovery != nil {
		return "rotation record carries recovery proof"
	}
	if rec.Epoch != w.epoch {
		return fmt.Sprintf("rotation in epoch %d after recovery into epoch %d", rec.Epoch, w.epoch)
	}
	parent, ok := w.seen[rec.PreviousKeyID]
	if !ok {
		return fmt.Sprintf("unknown predecessor %q", rec.PreviousKeyID)
	}
	if w.retired[parent.KeyID] {
		return "predecessor retired by recovery"
	}
	if parent.Epoch != rec.Epoch {
		return "predecessor in another epoch"
	}
	if !rec.CreatedAt.After(parent.CreatedAt) {
		return "rotation predates predecessor"
	}

	pub, err := signing.DecodeMultibase(parent.PublicKey)
	if err != nil {
		return "undecodable predecessor key"
	}
	proof, err := base64.RawURLEncoding.DecodeString(rec.RotationProof)
	if err != nil || rec.RotationProof == "" {
		return "malformed rotation proof"
	}
	payload, err := NewRotationPayload(w.did, rec).Bytes()
	if err != nil {
		return "unencodable rotation payload"
	}
	if signing.Verify(pub, payload, proof) != nil {
		return "rotation proof does not verify against predecessor key"
	}
	return ""
}

func (w *chainWalker) checkRecovery(rec *KeyRecord) string {
	rp := rec.Recovery
	switch {
	case rp == nil:
		return "recovery record without controller proof"
	case rec.RotationProof != "":
		return "recovery record carries rotation proof"
	case rec.Epoch != w.epoch+1:
		return fmt.Sprintf("recovery into epoch %d from epoch %d", rec.Epoch, w.epoch)
	case len(rp.CompromisedKeys) == 0:
		return "recovery names no compromised keys"
	case rp.Statement != RecoveryStatement(w.did, rec.Epoch, rp.Challenge):
		return "recovery statement mismatch"
	case rp.ProofHash == "" || rp.URL == "":
		return "recovery proof incomplete"
	}

	for _, k := range rp.CompromisedKeys {
		if _, ok := w.seen[k]; !ok {
			return fmt.Sprintf("compromised key %q not in chain", k)
		}
	}
	if rec.PreviousKeyID != "" {
		parent, ok := w.seen[rec.PreviousKeyID]
		if !ok {
			return fmt.Sprintf("unknown predecessor %q", rec.PreviousKeyID)
		}
		if w.retired[parent.KeyID] || slices.Contains(rp.CompromisedKeys, parent.KeyID) {
			return "predecessor retired by recovery"
		}
	}

	for _, k := range rp.CompromisedKeys {
		w.retired[k] = true
	}
	w.epoch = rec.Epoch
	return ""
}

// KeyWindow is the span during which a key was the identity's signing key.
type KeyWindow struct {
	KeyID string    `json:"keyId"`
	From  time.Time `json:"from"`

	// Until is exclusive. Zero means the key is still current.
	Until time.Time `json:"until,omitzero"`

	// Compromised is set once a recovery retired the key.
	Compromised bool `json:"compromised"`
}

// Covers reports whether t falls in the window.
func (w KeyWindow) Covers(t time.Time) bool {
	if t.Before(w.From) {
		return false
	}
	return w.Until.IsZero() || t.Before(w.Until)
}

// Windows computes the signing window of every key. A key's window closes
// when its first child is appended, or when a recovery retires it.
func Windows(id *Identity) map[string]KeyWindow {
	out := make(map[string]KeyWindow, len(id.Keys))
	for _, k := range id.Keys {
		out[k.KeyID] = KeyWindow{KeyID: k.KeyID, From: k.CreatedAt}
	}

	closeAt := func(keyID string, t time.Time, compromised bool) {
		w, ok := out[keyID]
		if !ok {
			return
		}
		if w.Until.IsZero() || t.Before(w.Until) {
			w.Until = t
		}
		w.Compromised = w.Compromised || compromised
		out[keyID] = w
	}

	for _, k := range id.Keys {
		if k.PreviousKeyID != "" {
			closeAt(k.PreviousKeyID, k.CreatedAt, false)
		}
		if k.Recovery != nil {
			for _, c := range k.Recovery.CompromisedKeys {
				closeAt(c, k.CreatedAt, true)
			}
		}
	}
	return out
}
