package testutils

import (
	"context"

	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/identity"
	"github.com/papercomputeco/accord/pkg/keystore"
	"github.com/papercomputeco/accord/pkg/storage/inmemory"
)

// Agents is a set of DID identities sharing one in-memory store, for specs
// that need parties who can sign.
type Agents struct {
	Identity *identity.Service
	Store    *inmemory.Driver
	Keys     *keystore.Memory
	Clock    *Clock
}

// NewAgents creates an identity service over a fresh in-memory store.
func NewAgents(clock *Clock) *Agents {
	store := inmemory.NewDriver()
	keys := keystore.NewMemory()
	return &Agents{
		Identity: identity.NewService(store, keys, identity.WithClock(clock.Now)),
		Store:    store,
		Keys:     keys,
		Clock:    clock,
	}
}

// Create registers did:agent:test:<name> and returns the DID.
func (a *Agents) Create(name string) string {
	id, err := a.Identity.Init(context.Background(), identity.InitRequest{Namespace: "test", Name: name})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return id.DID
}

// Sign returns actor's signature envelope over message at the current time.
func (a *Agents) Sign(actor, message string) string {
	sig, err := a.Identity.Sign(context.Background(), actor, message)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	return sig.String()
}
