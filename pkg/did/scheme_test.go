package did_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/signing"
)

var _ = Describe("ChainScheme", func() {
	var (
		c      *chain
		scheme did.Scheme
	)

	BeforeEach(func() {
		c = newChain(alice)
		var err error
		scheme, err = did.SchemeFor(did.SchemeChain)
		Expect(err).NotTo(HaveOccurred())
	})

	It("verifies an old signature as of signing time after many rotations", func() {
		signedAt := c.now.Add(30 * time.Minute)
		sig := c.sign(did.KeyID(0), "sha256:terms", signedAt)

		for range 5 {
			c.rotate(did.ReasonScheduled)
		}

		v, err := scheme.Verify(c.id, "sha256:terms", sig, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.KeyID).To(Equal(did.KeyID(0)))
		Expect(v.Historical).To(BeTrue())

		v, err = scheme.Verify(c.id, "sha256:terms", sig, did.KeyID(0))
		Expect(err).NotTo(HaveOccurred())
		Expect(v.KeyID).To(Equal(did.KeyID(0)))
	})

	It("rejects a signature timestamped outside the signing key's window", func() {
		c.rotate(did.ReasonScheduled)
		late := c.sign(did.KeyID(0), "m", c.now.Add(time.Minute))

		_, err := scheme.Verify(c.id, "m", late, "")
		Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))

		_, err = scheme.Verify(c.id, "m", late, did.KeyID(0))
		Expect(err).To(MatchError(ContainSubstring("was not current")))
	})

	It("rejects a signature by the wrong key", func() {
		c.rotate(did.ReasonScheduled)
		sig := c.sign(did.KeyID(0), "m", c.now.Add(time.Minute))

		_, err := scheme.Verify(c.id, "m", sig, did.KeyID(1))
		Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
	})

	It("stops trusting keys behind a broken link", func() {
		c.rotate(did.ReasonScheduled)
		sig := c.sign(did.KeyID(1), "m", c.now.Add(time.Minute))
		c.id.Keys[1].RotationProof = c.id.Keys[1].RotationProof[:10]

		_, err := scheme.Verify(c.id, "m", sig, "")
		Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
	})

	It("keeps pre-compromise signatures valid and flags them", func() {
		c.rotate(did.ReasonScheduled)
		before := c.sign(did.KeyID(1), "evidence", c.now.Add(time.Minute))
		c.recover(did.KeyID(1))
		after := c.sign(did.KeyID(1), "evidence", c.now.Add(time.Minute))

		v, err := scheme.Verify(c.id, "evidence", before, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Compromised).To(BeTrue())

		_, err = scheme.Verify(c.id, "evidence", after, "")
		Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
	})

	It("verifies legacy signatures made before migration", func() {
		c.id.LegacyID = "openclaw-agent"
		sig := signing.SignLegacy("openclaw-agent", "deadbeef", c.now.Add(-time.Minute))

		v, err := scheme.Verify(c.id, "deadbeef", sig, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Scheme).To(Equal(did.SchemeLegacy))
	})

	It("refuses legacy signatures dated at or after migration", func() {
		c.id.LegacyID = "openclaw-agent"
		for _, at := range []time.Time{c.now, c.now.Add(24 * time.Hour)} {
			sig := signing.SignLegacy("openclaw-agent", "deadbeef", at)
			_, err := scheme.Verify(c.id, "deadbeef", sig, "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		}
	})

	It("refuses legacy signatures for identities that were never legacy", func() {
		sig := signing.SignLegacy("openclaw-agent", "deadbeef", c.now)
		_, err := scheme.Verify(c.id, "deadbeef", sig, "")
		Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
	})

	It("signs with the provided key", func() {
		sig, err := scheme.Sign(c.id, c.keys[did.KeyID(0)].Private, "m", c.now.Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		_, err = scheme.Verify(c.id, "m", sig, "")
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("LegacyScheme", func() {
	id := &did.Identity{LegacyID: "openclaw-agent", Scheme: did.SchemeLegacy}
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	It("signs and verifies HMAC envelopes keyed by the agent id", func() {
		scheme, err := did.SchemeFor(did.SchemeLegacy)
		Expect(err).NotTo(HaveOccurred())

		sig, err := scheme.Sign(id, nil, "hash", at)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig.Algorithm).To(Equal(signing.AlgLegacyHMAC))

		v, err := scheme.Verify(id, "hash", sig, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(v.Subject).To(Equal("openclaw-agent"))

		_, err = scheme.Verify(id, "other", sig, "")
		Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
	})

	It("rejects unknown scheme tags", func() {
		_, err := did.SchemeFor("rot13")
		Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
	})
})
