package identity_test

import (
	"context"
	"encoding/base64"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/fetch"
	"github.com/papercomputeco/accord/pkg/identity"
	"github.com/papercomputeco/accord/pkg/keystore"
	"github.com/papercomputeco/accord/pkg/signing"
	"github.com/papercomputeco/accord/pkg/storage"
	"github.com/papercomputeco/accord/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/accord/pkg/utils/test"
)

// tampered corrupts identities on the way out of the store, standing in for
// an attacker who edited the records at rest.
type tampered struct {
	storage.IdentityStore
	corrupt func(*did.Identity)
}

func (t tampered) GetIdentity(ctx context.Context, subject string) (*did.Identity, error) {
	id, err := t.IdentityStore.GetIdentity(ctx, subject)
	if err == nil {
		t.corrupt(id)
	}
	return id, err
}

// racing runs hook inside the first Put, so a second writer commits while
// the first is between custody and its store update.
type racing struct {
	keystore.KeyStore
	hook func()
}

func (r *racing) Put(ctx context.Context, subject, keyID string, kp *signing.KeyPair) error {
	if hook := r.hook; hook != nil {
		r.hook = nil
		hook()
	}
	return r.KeyStore.Put(ctx, subject, keyID, kp)
}

func flipProof(proof string) string {
	raw, err := base64.RawURLEncoding.DecodeString(proof)
	Expect(err).NotTo(HaveOccurred())
	raw[0] ^= 0x01
	return base64.RawURLEncoding.EncodeToString(raw)
}

var _ = Describe("Service", func() {
	var (
		ctx    context.Context
		store  *inmemory.Driver
		keys   *keystore.Memory
		clock  *testutils.Clock
		proofs fetch.Static
		pub    *testutils.MockPublisher
		svc    *identity.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = inmemory.NewDriver()
		keys = keystore.NewMemory()
		clock = testutils.NewClock(time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC))
		proofs = fetch.Static{}
		pub = testutils.NewMockPublisher()
		svc = identity.NewService(store, keys,
			identity.WithFetcher(proofs),
			identity.WithClock(clock.Now),
			identity.WithPublisher("mock", pub),
		)
	})

	initAlice := func() *did.Identity {
		id, err := svc.Init(ctx, identity.InitRequest{Namespace: "test", Name: "alice"})
		Expect(err).NotTo(HaveOccurred())
		return id
	}

	Describe("Init", func() {
		It("creates a DID with a genesis key held in custody", func() {
			id := initAlice()
			Expect(id.DID).To(Equal("did:agent:test:alice"))
			Expect(id.Status).To(Equal(did.StatusActive))
			Expect(id.Keys).To(HaveLen(1))
			Expect(id.CurrentKeyID).To(Equal("#key-0"))
			Expect(id.Keys[0].Method).To(Equal(did.KeyGenesis))

			kp, err := keys.Get(ctx, id.DID, id.GenesisKey)
			Expect(err).NotTo(HaveOccurred())
			Expect(kp.Multibase()).To(Equal(id.GenesisKey))

			report, err := svc.VerifyChain(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Valid).To(BeTrue())
		})

		It("refuses to overwrite an existing identity unless forced", func() {
			first := initAlice()

			_, err := svc.Init(ctx, identity.InitRequest{Namespace: "test", Name: "alice"})
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))

			second, err := svc.Init(ctx, identity.InitRequest{Namespace: "test", Name: "alice", Force: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(second.GenesisKey).NotTo(Equal(first.GenesisKey))
		})

		It("rejects malformed names", func() {
			_, err := svc.Init(ctx, identity.InitRequest{Namespace: "test", Name: "Not Valid!"})
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("binds an unverified controller at genesis", func() {
			id, err := svc.Init(ctx, identity.InitRequest{
				Namespace:          "test",
				Name:               "alice",
				ControllerPlatform: "github",
				ControllerHandle:   "@alice-human",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(id.Controller.Handle).To(Equal("alice-human"))
			Expect(id.Controller.Status).To(Equal(did.ControllerUnverified))
			Expect(id.Controller.Challenge).To(HaveLen(32))
		})
	})

	Describe("Rotate", func() {
		It("keeps the chain verifiable across three scheduled rotations", func() {
			id := initAlice()
			for range 3 {
				clock.Advance(time.Hour)
				_, err := svc.Rotate(ctx, id.DID, did.ReasonScheduled)
				Expect(err).NotTo(HaveOccurred())
			}

			shown, err := svc.Show(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(shown.Keys).To(HaveLen(4))
			Expect(shown.CurrentKeyID).To(Equal("#key-3"))
			Expect(shown.Keys[3].PreviousKeyID).To(Equal("#key-2"))

			report, err := svc.VerifyChain(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Links).To(HaveLen(4))
		})

		It("fails verification starting exactly at a corrupted link", func() {
			id := initAlice()
			for range 3 {
				clock.Advance(time.Hour)
				_, err := svc.Rotate(ctx, id.DID, did.ReasonScheduled)
				Expect(err).NotTo(HaveOccurred())
			}

			corrupted := identity.NewService(tampered{
				IdentityStore: store,
				corrupt: func(id *did.Identity) {
					id.Keys[2].RotationProof = flipProof(id.Keys[2].RotationProof)
				},
			}, keys)

			report, err := corrupted.VerifyChain(ctx, id.DID)
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
			Expect(errs.ExitCode(err)).To(Equal(2))
			Expect(report.FirstInvalid).To(Equal(2))
			Expect(report.Links[0].Valid).To(BeTrue())
			Expect(report.Links[1].Valid).To(BeTrue())
			Expect(report.Links[2].Valid).To(BeFalse())
			Expect(report.Links[3].Valid).To(BeFalse())
		})

		It("verifies messages signed before and after a rotation", func() {
			id := initAlice()

			clock.Advance(time.Minute)
			before, err := svc.Sign(ctx, id.DID, "sha256:before")
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Hour)
			_, err = svc.Rotate(ctx, id.DID, did.ReasonDeviceChange)
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(time.Minute)
			after, err := svc.Sign(ctx, id.DID, "sha256:after")
			Expect(err).NotTo(HaveOccurred())

			v, err := svc.VerifyMessage(ctx, id.DID, "sha256:before", before.String(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.KeyID).To(Equal("#key-0"))
			Expect(v.Historical).To(BeTrue())

			v, err = svc.VerifyMessage(ctx, id.DID, "sha256:after", after.String(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.KeyID).To(Equal("#key-1"))
			Expect(v.Historical).To(BeFalse())

			_, err = svc.VerifyMessage(ctx, id.DID, "sha256:before", before.String(), "#key-1")
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))

			_, err = svc.VerifyMessage(ctx, id.DID, "sha256:tampered", after.String(), "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		})

		It("keeps custody of the winning key when rotations race", func() {
			id := initAlice()
			race := &racing{KeyStore: keys}
			racer := identity.NewService(store, race, identity.WithClock(clock.Now))

			var winnerErr error
			race.hook = func() {
				_, winnerErr = racer.Rotate(ctx, id.DID, did.ReasonScheduled)
			}
			_, err := racer.Rotate(ctx, id.DID, did.ReasonScheduled)
			Expect(winnerErr).NotTo(HaveOccurred())
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))

			shown, err := svc.Show(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(shown.CurrentKeyID).To(Equal("#key-1"))

			sig, err := svc.Sign(ctx, id.DID, "sha256:after-race")
			Expect(err).NotTo(HaveOccurred())
			v, err := svc.VerifyMessage(ctx, id.DID, "sha256:after-race", sig.String(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.KeyID).To(Equal("#key-1"))

			_, err = svc.Rotate(ctx, id.DID, did.ReasonScheduled)
			Expect(err).NotTo(HaveOccurred())
		})

		It("requires custody of the current private key", func() {
			id := initAlice()
			keys.Forget(id.DID, id.GenesisKey)

			_, err := svc.Rotate(ctx, id.DID, did.ReasonScheduled)
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))

			shown, err := svc.Show(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(shown.Keys).To(HaveLen(1))
		})

		It("refuses compromised identities", func() {
			id := initAlice()
			_, err := svc.ReportCompromise(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Rotate(ctx, id.DID, did.ReasonScheduled)
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))

			_, err = svc.Sign(ctx, id.DID, "m")
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))

			_, err = svc.ReportCompromise(ctx, id.DID)
			Expect(err).To(MatchError(errs.ErrDuplicate))
		})

		It("rejects unknown reasons", func() {
			id := initAlice()
			_, err := svc.Rotate(ctx, id.DID, did.Reason("boredom"))
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})
	})

	Describe("Authenticate", func() {
		It("accepts fresh signatures and rejects stale ones", func() {
			id := initAlice()
			sig, err := svc.Sign(ctx, id.DID, "sha256:action")
			Expect(err).NotTo(HaveOccurred())

			v, err := svc.Authenticate(ctx, id.DID, "sha256:action", sig.String())
			Expect(err).NotTo(HaveOccurred())
			Expect(v.KeyID).To(Equal("#key-0"))

			clock.Advance(10 * time.Minute)
			_, err = svc.Authenticate(ctx, id.DID, "sha256:action", sig.String())
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		})

		It("rejects unknown actors and unreadable envelopes", func() {
			_, err := svc.Authenticate(ctx, "did:agent:test:ghost", "m", "ed25519:AAAA:1")
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))

			kp, err := signing.GenerateKeyPair()
			Expect(err).NotTo(HaveOccurred())
			sig, err := signing.SignMessage(kp.Private, "m", clock.Now())
			Expect(err).NotTo(HaveOccurred())
			_, err = svc.Authenticate(ctx, "did:agent:test:ghost", "m", sig.String())
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))
		})
	})

	Describe("Publish", func() {
		It("sends the DID document to the named target", func() {
			id := initAlice()
			res, err := svc.Publish(ctx, id.DID, "mock")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Location).To(Equal("mock://did:agent:test:alice"))
			Expect(pub.Documents).To(HaveLen(1))
			Expect(pub.Documents[0].CurrentKey.PublicKeyMultibase).To(Equal(id.GenesisKey))
			Expect(pub.Documents[0].KeyHistory).To(HaveLen(1))
		})

		It("rejects unknown targets", func() {
			id := initAlice()
			_, err := svc.Publish(ctx, id.DID, "nowhere")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})
	})

	Describe("Migrate", func() {
		It("keeps legacy signatures verifiable after moving to a DID", func() {
			legacy, err := svc.InitLegacy(ctx, "openclaw-agent")
			Expect(err).NotTo(HaveOccurred())
			Expect(legacy.Scheme).To(Equal(did.SchemeLegacy))

			old, err := svc.Sign(ctx, "openclaw-agent", "sha256:legacy")
			Expect(err).NotTo(HaveOccurred())
			Expect(old.Algorithm).To(Equal(signing.AlgLegacyHMAC))

			_, err = svc.Rotate(ctx, "openclaw-agent", did.ReasonScheduled)
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))

			clock.Advance(time.Hour)
			id, err := svc.Migrate(ctx, "openclaw-agent", "test", "openclaw")
			Expect(err).NotTo(HaveOccurred())
			Expect(id.DID).To(Equal("did:agent:test:openclaw"))
			Expect(id.LegacyID).To(Equal("openclaw-agent"))

			v, err := svc.VerifyMessage(ctx, id.DID, "sha256:legacy", old.String(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Scheme).To(Equal(did.SchemeLegacy))

			fresh, err := svc.Sign(ctx, "openclaw-agent", "sha256:new")
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.Algorithm).To(Equal(signing.AlgEd25519))

			v, err = svc.VerifyMessage(ctx, "openclaw-agent", "sha256:new", fresh.String(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Scheme).To(Equal(did.SchemeChain))

			stored, err := svc.Show(ctx, "openclaw-agent")
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.MigratedTo).To(Equal(id.DID))

			_, err = svc.Migrate(ctx, "openclaw-agent", "test", "openclaw2")
			Expect(err).To(MatchError(errs.ErrDuplicate))
		})

		It("refuses legacy signatures forged after migration", func() {
			_, err := svc.InitLegacy(ctx, "openclaw-agent")
			Expect(err).NotTo(HaveOccurred())
			id, err := svc.Migrate(ctx, "openclaw-agent", "test", "openclaw")
			Expect(err).NotTo(HaveOccurred())

			doc, err := svc.Document(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.LegacyID).To(Equal("openclaw-agent"))

			clock.Advance(24 * time.Hour)
			forged := signing.SignLegacy(doc.LegacyID, "sha256:ruling", clock.Now())

			_, err = svc.Authenticate(ctx, id.DID, "sha256:ruling", forged.String())
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
			_, err = svc.Authenticate(ctx, "openclaw-agent", "sha256:ruling", forged.String())
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
			_, err = svc.VerifyMessage(ctx, id.DID, "sha256:ruling", forged.String(), "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		})

		It("refuses legacy envelopes on party actions right after migration", func() {
			_, err := svc.InitLegacy(ctx, "openclaw-agent")
			Expect(err).NotTo(HaveOccurred())
			clock.Advance(time.Minute)
			id, err := svc.Migrate(ctx, "openclaw-agent", "test", "openclaw")
			Expect(err).NotTo(HaveOccurred())

			backdated := signing.SignLegacy("openclaw-agent", "sha256:accept", clock.Now().Add(-time.Second))
			_, err = svc.Authenticate(ctx, id.DID, "sha256:accept", backdated.String())
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))

			v, err := svc.VerifyMessage(ctx, id.DID, "sha256:accept", backdated.String(), "")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Scheme).To(Equal(did.SchemeLegacy))
		})

		It("only migrates legacy identities", func() {
			id := initAlice()
			_, err := svc.Migrate(ctx, id.DID, "test", "alice2")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("lists every identity", func() {
			initAlice()
			_, err := svc.InitLegacy(ctx, "openclaw-agent")
			Expect(err).NotTo(HaveOccurred())

			all, err := svc.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})
	})
})
