package identity

import (
	"context"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
)

// Migrate upgrades a legacy identity to a DID identity with its own key
// chain. The DID keeps the legacy id, so envelopes signed under the legacy
// scheme still verify, and the legacy record points at the DID.
func (s *Service) Migrate(ctx context.Context, legacyID, namespace, name string) (*did.Identity, error) {
	legacy, err := s.store.GetIdentity(ctx, legacyID)
	if err != nil {
		return nil, err
	}
	if legacy.Scheme != did.SchemeLegacy {
		return nil, errs.Validation("%s is not a legacy identity", legacyID)
	}
	if legacy.MigratedTo != "" {
		return nil, errs.Duplicate("%s was already migrated to %s", legacyID, legacy.MigratedTo)
	}

	id, err := s.genesis(ctx, InitRequest{Namespace: namespace, Name: name}, legacy.LegacyID)
	if err != nil {
		return nil, err
	}

	expected := legacy.Version
	legacy.MigratedTo = id.DID
	legacy.UpdatedAt = id.CreatedAt
	if err := s.store.UpdateIdentity(ctx, legacy, expected); err != nil {
		return nil, err
	}

	s.logger.Info("legacy identity migrated", "agent_id", legacyID, "did", id.DID)
	return id, nil
}
