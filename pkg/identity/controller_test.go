package identity_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/fetch"
	"github.com/papercomputeco/accord/pkg/identity"
	"github.com/papercomputeco/accord/pkg/keystore"
	"github.com/papercomputeco/accord/pkg/signing"
	"github.com/papercomputeco/accord/pkg/storage/inmemory"
	testutils "github.com/papercomputeco/accord/pkg/utils/test"
)

const (
	proofURL    = "https://github.com/alice-human/proofs/blob/main/accord.txt"
	recoveryURL = "https://github.com/alice-human/proofs/blob/main/recover.txt"
)

var _ = Describe("Controller binding and recovery", func() {
	var (
		ctx     context.Context
		keys    *keystore.Memory
		clock   *testutils.Clock
		proofs  fetch.Static
		svc     *identity.Service
		subject string
	)

	BeforeEach(func() {
		ctx = context.Background()
		keys = keystore.NewMemory()
		clock = testutils.NewClock(time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC))
		proofs = fetch.Static{}
		svc = identity.NewService(inmemory.NewDriver(), keys,
			identity.WithFetcher(proofs),
			identity.WithClock(clock.Now),
		)

		id, err := svc.Init(ctx, identity.InitRequest{Namespace: "test", Name: "alice"})
		Expect(err).NotTo(HaveOccurred())
		subject = id.DID
	})

	bind := func() {
		_, err := svc.SetController(ctx, subject, "github", "alice-human")
		Expect(err).NotTo(HaveOccurred())
	}

	verify := func() {
		proof, err := svc.ControllerProof(ctx, subject)
		Expect(err).NotTo(HaveOccurred())
		proofs[proofURL] = "Posted by alice-human\n\n" + proof
		_, err = svc.VerifyController(ctx, subject, proofURL)
		Expect(err).NotTo(HaveOccurred())
	}

	Describe("VerifyController", func() {
		It("verifies a proof signed by the current key and reissues the challenge", func() {
			bind()
			before, err := svc.Show(ctx, subject)
			Expect(err).NotTo(HaveOccurred())

			verify()

			after, err := svc.Show(ctx, subject)
			Expect(err).NotTo(HaveOccurred())
			Expect(after.Controller.Status).To(Equal(did.ControllerVerified))
			Expect(after.Controller.ProofURL).To(Equal(proofURL))
			Expect(after.Controller.Challenge).NotTo(Equal(before.Controller.Challenge))
		})

		It("fails without a bound controller", func() {
			_, err := svc.VerifyController(ctx, subject, proofURL)
			Expect(err).To(MatchError("no controller bound"))
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("rejects proofs hosted outside the controller's account", func() {
			bind()
			_, err := svc.VerifyController(ctx, subject, "https://github.com/mallory/proofs/accord.txt")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("rejects proof urls that only mention the handle", func() {
			bind()
			for _, u := range []string{
				"https://evil.example/alice-human",
				"https://evil.example/proofs?user=alice-human",
				"https://alice-human.evil.example/accord.txt",
				"https://github.com/mallory/alice-human/accord.txt",
				"http://github.com/alice-human/proofs/accord.txt",
				"github.com/alice-human/proofs/accord.txt",
			} {
				proofs[u] = "anything"
				_, err := svc.VerifyController(ctx, subject, u)
				Expect(errs.KindOf(err)).To(Equal(errs.KindValidation), u)
			}
		})

		It("accepts gists and raw files owned by the handle", func() {
			bind()
			proof, err := svc.ControllerProof(ctx, subject)
			Expect(err).NotTo(HaveOccurred())

			gist := "https://gist.github.com/Alice-Human/4f2a"
			proofs[gist] = proof
			_, err = svc.VerifyController(ctx, subject, gist)
			Expect(err).NotTo(HaveOccurred())
		})

		It("accepts a proof on the controller's own domain for other platforms", func() {
			_, err := svc.SetController(ctx, subject, "web", "alice.example")
			Expect(err).NotTo(HaveOccurred())
			proof, err := svc.ControllerProof(ctx, subject)
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.VerifyController(ctx, subject, "https://evil.example/proofs/accord.txt")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))

			own := "https://alice.example/.well-known/accord.txt"
			proofs[own] = proof
			_, err = svc.VerifyController(ctx, subject, own)
			Expect(err).NotTo(HaveOccurred())
		})

		It("rejects a proof signed by another key", func() {
			bind()
			shown, err := svc.Show(ctx, subject)
			Expect(err).NotTo(HaveOccurred())

			other, err := signing.GenerateKeyPair()
			Expect(err).NotTo(HaveOccurred())
			statement := did.ChallengeStatement(subject, shown.Controller.Challenge)
			sig, err := signing.SignMessage(other.Private, statement, clock.Now())
			Expect(err).NotTo(HaveOccurred())
			proofs[proofURL] = statement + "\n\nSignature: " + sig.String()

			_, err = svc.VerifyController(ctx, subject, proofURL)
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))

			again, err := svc.Show(ctx, subject)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Controller.Status).To(Equal(did.ControllerUnverified))
		})

		It("rejects a replayed proof after the challenge was reissued", func() {
			bind()
			verify()

			_, err := svc.VerifyController(ctx, subject, proofURL)
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		})

		It("passes through fetch failures", func() {
			bind()
			_, err := svc.VerifyController(ctx, subject, proofURL)
			Expect(err).To(MatchError(errs.ErrNotFound))
		})
	})

	Describe("Recover", func() {
		It("fails with no controller bound when the controller never verified", func() {
			_, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
			Expect(err).To(MatchError("no controller bound"))
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
			Expect(errs.ExitCode(err)).To(Equal(1))

			bind()
			_, err = svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
			Expect(err).To(MatchError("no controller bound"))
		})

		It("requires explicit confirmation", func() {
			bind()
			verify()
			_, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL})
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("rejects a proof that does not carry the statement for the next epoch", func() {
			bind()
			verify()

			shown, err := svc.Show(ctx, subject)
			Expect(err).NotTo(HaveOccurred())
			proofs[recoveryURL] = did.RecoveryStatement(subject, 5, shown.Controller.Challenge)

			_, err = svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		})

		Context("after the current key was compromised", func() {
			var preCompromise signing.Signature

			BeforeEach(func() {
				bind()
				verify()

				clock.Advance(time.Hour)
				_, err := svc.Rotate(ctx, subject, did.ReasonScheduled)
				Expect(err).NotTo(HaveOccurred())

				clock.Advance(time.Minute)
				preCompromise, err = svc.Sign(ctx, subject, "sha256:evidence")
				Expect(err).NotTo(HaveOccurred())

				clock.Advance(time.Hour)
				_, err = svc.ReportCompromise(ctx, subject)
				Expect(err).NotTo(HaveOccurred())

				statement, err := svc.RecoveryStatement(ctx, subject)
				Expect(err).NotTo(HaveOccurred())
				proofs[recoveryURL] = "Recovering my agent.\n" + statement
			})

			It("opens a new epoch descending from the compromised key's predecessor", func() {
				id, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
				Expect(err).NotTo(HaveOccurred())

				Expect(id.Status).To(Equal(did.StatusRecovered))
				Expect(id.Epoch).To(Equal(1))
				Expect(id.CurrentKeyID).To(Equal("#key-2"))

				rec, ok := id.CurrentKey()
				Expect(ok).To(BeTrue())
				Expect(rec.Method).To(Equal(did.KeyRecovery))
				Expect(rec.PreviousKeyID).To(Equal("#key-0"))
				Expect(rec.Recovery.CompromisedKeys).To(Equal([]string{"#key-1"}))
				Expect(rec.Recovery.ProofHash).To(HavePrefix("sha256:"))

				report, err := svc.VerifyChain(ctx, subject)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Valid).To(BeTrue())
			})

			It("keeps pre-compromise signatures verifiable and flags them", func() {
				_, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
				Expect(err).NotTo(HaveOccurred())

				v, err := svc.VerifyMessage(ctx, subject, "sha256:evidence", preCompromise.String(), "")
				Expect(err).NotTo(HaveOccurred())
				Expect(v.KeyID).To(Equal("#key-1"))
				Expect(v.Compromised).To(BeTrue())
			})

			It("rejects signatures by the compromised key made after recovery", func() {
				_, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
				Expect(err).NotTo(HaveOccurred())

				shown, err := svc.Show(ctx, subject)
				Expect(err).NotTo(HaveOccurred())
				retired, ok := shown.Key("#key-1")
				Expect(ok).To(BeTrue())
				stolen, err := keys.Get(ctx, subject, retired.PublicKey)
				Expect(err).NotTo(HaveOccurred())
				forged, err := signing.SignMessage(stolen.Private, "sha256:forged", clock.Advance(time.Minute))
				Expect(err).NotTo(HaveOccurred())

				_, err = svc.VerifyMessage(ctx, subject, "sha256:forged", forged.String(), "")
				Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
			})

			It("returns to active on the next rotation", func() {
				_, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
				Expect(err).NotTo(HaveOccurred())

				clock.Advance(time.Hour)
				id, err := svc.Rotate(ctx, subject, did.ReasonScheduled)
				Expect(err).NotTo(HaveOccurred())
				Expect(id.Status).To(Equal(did.StatusActive))
				Expect(id.Epoch).To(Equal(1))

				_, err = svc.VerifyChain(ctx, subject)
				Expect(err).NotTo(HaveOccurred())
			})

			It("cannot replay the same proof for a second recovery", func() {
				_, err := svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
				Expect(err).NotTo(HaveOccurred())

				_, err = svc.Recover(ctx, identity.RecoverRequest{Subject: subject, ProofURL: recoveryURL, Confirm: true})
				Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
			})

			It("retires every later key when an earlier key is named", func() {
				id, err := svc.Recover(ctx, identity.RecoverRequest{
					Subject:          subject,
					ProofURL:         recoveryURL,
					Confirm:          true,
					CompromisedKeyID: "#key-0",
				})
				Expect(err).NotTo(HaveOccurred())

				rec, _ := id.CurrentKey()
				Expect(rec.PreviousKeyID).To(BeEmpty())
				Expect(rec.Recovery.CompromisedKeys).To(Equal([]string{"#key-0", "#key-1"}))

				_, err = svc.VerifyChain(ctx, subject)
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})
})
