package identity

import (
	"context"
	"fmt"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

// Rotate replaces the current key. The outgoing key signs the rotation
// record, which commits to the incoming public key, and the new key becomes
// current. A recovered identity returns to active on its next rotation.
func (s *Service) Rotate(ctx context.Context, subject string, reason did.Reason) (*did.Identity, error) {
	if reason == "" {
		reason = did.ReasonScheduled
	}
	if _, err := did.ParseReason(string(reason)); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid rotation")
	}

	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	if id.Scheme == did.SchemeLegacy {
		return nil, errs.Validation("legacy identity %s has no key to rotate; migrate it first", subject)
	}
	if id.Status == did.StatusCompromised {
		return nil, errs.Unauthorized("identity %s is compromised; recover before rotating", subject)
	}

	cur, parent, err := s.custody(ctx, id)
	if err != nil {
		return nil, err
	}

	kp, err := signing.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	head, _ := id.Head()
	rec := did.KeyRecord{
		KeyID:         did.KeyID(head.Seq + 1),
		Seq:           head.Seq + 1,
		Epoch:         id.Epoch,
		PublicKey:     kp.Multibase(),
		Method:        did.KeyRotation,
		Reason:        reason,
		PreviousKeyID: cur.KeyID,
		CreatedAt:     s.stamp(id),
	}
	if err := did.SignRotation(id.DID, &rec, parent); err != nil {
		return nil, fmt.Errorf("failed to sign rotation: %w", err)
	}

	expected := id.Version
	id.Keys = append(id.Keys, rec)
	id.CurrentKeyID = rec.KeyID
	if id.Status == did.StatusRecovered {
		id.Status = did.StatusActive
	}
	id.UpdatedAt = rec.CreatedAt

	if err := s.keys.Put(ctx, subject, rec.KeyID, kp); err != nil {
		return nil, fmt.Errorf("failed to store rotated key: %w", err)
	}
	if err := s.store.UpdateIdentity(ctx, id, expected); err != nil {
		return nil, err
	}

	s.logger.Info("key rotated", "did", subject, "from", cur.KeyID, "to", rec.KeyID, "reason", reason)
	return id, nil
}

// ReportCompromise marks an identity compromised. Signing and rotation are
// refused until the controller recovers it.
func (s *Service) ReportCompromise(ctx context.Context, subject string) (*did.Identity, error) {
	id, err := s.store.GetIdentity(ctx, subject)
	if err != nil {
		return nil, err
	}
	if id.Scheme == did.SchemeLegacy {
		return nil, errs.Validation("legacy identity %s cannot be recovered; migrate it first", subject)
	}
	if id.Status == did.StatusCompromised {
		return nil, errs.Duplicate("identity %s is already reported compromised", subject)
	}

	expected := id.Version
	id.Status = did.StatusCompromised
	id.UpdatedAt = s.clock()
	if err := s.store.UpdateIdentity(ctx, id, expected); err != nil {
		return nil, err
	}

	s.logger.Warn("identity reported compromised", "did", subject, "key_id", id.CurrentKeyID)
	return id, nil
}
