package arbitration_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/arbitration"
	"github.com/papercomputeco/accord/pkg/canonical"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/eventstream"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
	testutils "github.com/papercomputeco/accord/pkg/utils/test"
)

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		clock    *testutils.Clock
		agents   *testutils.Agents
		anchorer *testutils.MockAnchorer
		events   *testutils.MockEventPublisher
		agr      *agreement.Service
		svc      *arbitration.Service

		alice, bob, carol string
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = testutils.NewClock(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
		agents = testutils.NewAgents(clock)
		anchorer = testutils.NewMockAnchorer()
		events = testutils.NewMockEventPublisher()
		source := eventstream.EventSource{Service: "accord"}

		agr = agreement.NewService(agents.Store, agents.Identity,
			agreement.WithClock(clock.Now),
			agreement.WithEvents(events, source),
		)
		svc = arbitration.NewService(agents.Store, agents.Identity,
			arbitration.WithClock(clock.Now),
			arbitration.WithAnchorer(anchorer),
			arbitration.WithEvents(events, source),
		)

		alice = agents.Create("alice")
		bob = agents.Create("bob")
		carol = agents.Create("carol")
	})

	agreed := func(window time.Duration) *pao.Agreement {
		deadline := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		terms := "Deliver 100 widgets by 2026-03-01"
		hash, err := agreement.TermsHash(terms, alice, bob, &deadline)
		Expect(err).NotTo(HaveOccurred())

		p, err := agr.Propose(ctx, agreement.ProposeRequest{
			Terms:         terms,
			Proposer:      alice,
			Counterparty:  bob,
			Arbiter:       carol,
			Deadline:      &deadline,
			Value:         "500",
			DisputeWindow: window,
			Signature:     agents.Sign(alice, hash),
		})
		Expect(err).NotTo(HaveOccurred())

		clock.Advance(time.Minute)
		a, err := agr.Accept(ctx, agreement.AcceptRequest{
			ProposalID: p.ID,
			Actor:      bob,
			Signature:  agents.Sign(bob, p.TermsHash),
		})
		Expect(err).NotTo(HaveOccurred())
		clock.Advance(time.Minute)
		return a
	}

	fulfill := func(a *pao.Agreement, actor, evidence string) (*pao.Agreement, error) {
		msg, err := arbitration.FulfillMessage(a, actor, evidence)
		Expect(err).NotTo(HaveOccurred())
		return svc.Fulfill(ctx, arbitration.FulfillRequest{
			AgreementID: a.ID,
			Actor:       actor,
			Evidence:    evidence,
			Signature:   agents.Sign(actor, msg),
		})
	}

	arbitrate := func(a *pao.Agreement, actor string, reason pao.BreachReason, evidence string) (*pao.Case, error) {
		msg, err := arbitration.ArbitrateMessage(a, actor, reason, evidence)
		Expect(err).NotTo(HaveOccurred())
		return svc.Arbitrate(ctx, arbitration.ArbitrateRequest{
			AgreementID: a.ID,
			Actor:       actor,
			Reason:      reason,
			Evidence:    evidence,
			Signature:   agents.Sign(actor, msg),
		})
	}

	submit := func(c *pao.Case, actor, evidence string) (*pao.Case, error) {
		msg, err := arbitration.SubmitMessage(c, actor, evidence, pao.EvidenceDocument)
		Expect(err).NotTo(HaveOccurred())
		return svc.Submit(ctx, arbitration.SubmitRequest{
			CaseID:    c.ID,
			Actor:     actor,
			Evidence:  evidence,
			Signature: agents.Sign(actor, msg),
		})
	}

	rule := func(c *pao.Case, actor string, decision pao.Decision, reasoning string) (*pao.Case, error) {
		msg, err := arbitration.RulingMessage(c, actor, decision, reasoning)
		Expect(err).NotTo(HaveOccurred())
		return svc.Ruling(ctx, arbitration.RulingRequest{
			CaseID:    c.ID,
			Actor:     actor,
			Decision:  decision,
			Reasoning: reasoning,
			Signature: agents.Sign(actor, msg),
		})
	}

	Describe("Fulfill", func() {
		It("moves an accepted agreement to fulfilled with anchored evidence", func() {
			a := agreed(0)

			fulfilled, err := fulfill(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())
			Expect(fulfilled.State).To(Equal(pao.StateFulfilled))
			Expect(fulfilled.Fulfillment.By).To(Equal(alice))

			ev := fulfilled.Fulfillment.Evidence
			Expect(ev.ContentHash).To(Equal(canonical.String("tracking#123")))
			Expect(ev.Type).To(Equal(pao.EvidenceDocument))
			Expect(ev.Anchor).NotTo(BeNil())
			Expect(anchorer.Hashes).To(ConsistOf(ev.ContentHash))

			stored, err := agents.Store.GetAgreement(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.State).To(Equal(pao.StateFulfilled))
		})

		It("reports a second fulfillment as a duplicate", func() {
			a := agreed(0)
			_, err := fulfill(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())

			_, err = fulfill(a, bob, "signed receipt")
			Expect(err).To(MatchError(errs.ErrDuplicate))
		})

		It("requires a party and evidence", func() {
			a := agreed(0)

			_, err := fulfill(a, carol, "tracking#123")
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))

			_, err = fulfill(a, alice, "  ")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("rejects a signature over different evidence", func() {
			a := agreed(0)
			msg, err := arbitration.FulfillMessage(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Fulfill(ctx, arbitration.FulfillRequest{
				AgreementID: a.ID,
				Actor:       alice,
				Evidence:    "tracking#999",
				Signature:   agents.Sign(alice, msg),
			})
			Expect(errs.KindOf(err)).To(Equal(errs.KindSignatureVerification))
		})

		It("rejects a stale version token", func() {
			a := agreed(0)
			msg, err := arbitration.FulfillMessage(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())

			_, err = svc.Fulfill(ctx, arbitration.FulfillRequest{
				AgreementID: a.ID,
				Actor:       alice,
				Evidence:    "tracking#123",
				Signature:   agents.Sign(alice, msg),
				IfVersion:   a.Version + 1,
			})
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))
		})

		It("still succeeds when the witness is down", func() {
			anchorer.Fail = true
			a := agreed(0)

			fulfilled, err := fulfill(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())
			Expect(fulfilled.Fulfillment.Evidence.Anchor).To(BeNil())
		})
	})

	Describe("safety", func() {
		It("cannot fulfill or dispute a proposal that was never accepted", func() {
			deadline := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
			terms := "Deliver 100 widgets by 2026-03-01"
			hash, err := agreement.TermsHash(terms, alice, bob, &deadline)
			Expect(err).NotTo(HaveOccurred())
			p, err := agr.Propose(ctx, agreement.ProposeRequest{
				Terms:        terms,
				Proposer:     alice,
				Counterparty: bob,
				Arbiter:      carol,
				Deadline:     &deadline,
				Signature:    agents.Sign(alice, hash),
			})
			Expect(err).NotTo(HaveOccurred())

			ghost := &pao.Agreement{ID: p.ID, TermsHash: p.TermsHash}
			_, err = fulfill(ghost, alice, "tracking#123")
			Expect(err).To(MatchError(errs.ErrNotFound))
			_, err = arbitrate(ghost, bob, pao.ReasonNonDelivery, "")
			Expect(err).To(MatchError(errs.ErrNotFound))

			all, err := agr.ListAgreements(ctx, storage.AgreementFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(BeEmpty())
		})
	})

	Describe("Arbitrate", func() {
		It("opens a case with the caller as claimant (scenario B)", func() {
			a := agreed(0)

			c, err := arbitrate(a, bob, pao.ReasonNonDelivery, "no package received")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Status).To(Equal(pao.CaseEvidenceCollection))
			Expect(c.Claimant).To(Equal(bob))
			Expect(c.Respondent).To(Equal(alice))
			Expect(c.Arbiter).To(Equal(carol))
			Expect(c.Evidence).To(HaveLen(1))
			Expect(c.Evidence[0].Role).To(Equal(pao.RoleClaimant))
			Expect(c.EvidenceDeadline).To(BeTemporally("==", c.OpenedAt.Add(arbitration.DefaultEvidenceWindow)))

			stored, err := agr.GetAgreement(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.State).To(Equal(pao.StateDisputed))
			Expect(stored.CaseID).To(Equal(c.ID))

			clock.Advance(time.Hour)
			ruled, err := rule(c, carol, pao.DecisionClaimant, "No delivery evidence from the respondent.")
			Expect(err).NotTo(HaveOccurred())
			Expect(ruled.Status).To(Equal(pao.CaseRuled))
			Expect(ruled.Ruling.Decision).To(Equal(pao.DecisionClaimant))

			stored, err = agr.GetAgreement(ctx, a.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.State).To(Equal(pao.StateRuled))
			Expect(stored.RulingID).To(Equal(ruled.Ruling.ID))
		})

		It("may dispute a fulfilled agreement", func() {
			a := agreed(0)
			_, err := fulfill(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())

			c, err := arbitrate(a, bob, pao.ReasonQuality, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Evidence).To(BeEmpty())
		})

		It("refuses disputes once the dispute window has closed", func() {
			a := agreed(48 * time.Hour)
			_, err := fulfill(a, alice, "tracking#123")
			Expect(err).NotTo(HaveOccurred())

			clock.Advance(72 * time.Hour)
			_, err = arbitrate(a, bob, pao.ReasonQuality, "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))
		})

		It("rejects outsiders, unknown reasons and repeat disputes", func() {
			a := agreed(0)

			_, err := arbitrate(a, carol, pao.ReasonNonDelivery, "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))

			_, err = arbitrate(a, bob, pao.BreachReason("bad_vibes"), "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))

			_, err = arbitrate(a, bob, pao.ReasonNonDelivery, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = arbitrate(a, alice, pao.ReasonRepudiation, "")
			Expect(err).To(MatchError(errs.ErrDuplicate))
		})
	})

	Describe("Submit", func() {
		var c *pao.Case

		BeforeEach(func() {
			a := agreed(0)
			var err error
			c, err = arbitrate(a, bob, pao.ReasonNonDelivery, "no package received")
			Expect(err).NotTo(HaveOccurred())
		})

		It("appends evidence from the respondent and the arbiter", func() {
			updated, err := submit(c, alice, "courier photo of the delivered crate")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Evidence).To(HaveLen(2))
			Expect(updated.Evidence[1].Role).To(Equal(pao.RoleRespondent))

			updated, err = submit(updated, carol, "courier confirmed no delivery attempt")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Evidence).To(HaveLen(3))
			Expect(updated.EvidenceCount()).To(Equal(map[pao.Role]int{
				pao.RoleClaimant:   1,
				pao.RoleRespondent: 1,
				pao.RoleArbiter:    1,
			}))
		})

		It("refuses outsiders", func() {
			dave := agents.Create("dave")
			_, err := submit(c, dave, "hearsay")
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))
		})

		It("closes submissions by the parties at the evidence deadline", func() {
			clock.Advance(arbitration.DefaultEvidenceWindow + time.Hour)

			_, err := submit(c, alice, "late photo")
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))

			_, err = submit(c, carol, "arbiter notes")
			Expect(err).NotTo(HaveOccurred())
		})

		It("keeps the evidence when anchoring fails", func() {
			anchorer.Fail = true
			updated, err := submit(c, alice, "courier photo")
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Evidence[1].Anchor).To(BeNil())
			Expect(updated.Evidence[1].ContentHash).To(Equal(canonical.String("courier photo")))
		})
	})

	Describe("Ruling", func() {
		var (
			a *pao.Agreement
			c *pao.Case
		)

		BeforeEach(func() {
			a = agreed(0)
			var err error
			c, err = arbitrate(a, bob, pao.ReasonNonDelivery, "no package received")
			Expect(err).NotTo(HaveOccurred())
			c, err = submit(c, alice, "courier photo")
			Expect(err).NotTo(HaveOccurred())
		})

		It("is reserved to the arbiter", func() {
			_, err := rule(c, alice, pao.DecisionRespondent, "I delivered.")
			Expect(errs.KindOf(err)).To(Equal(errs.KindUnauthorized))
		})

		It("requires a known decision and reasoning", func() {
			_, err := rule(c, carol, pao.Decision("coin_flip"), "random")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))

			_, err = rule(c, carol, pao.DecisionSplit, " ")
			Expect(errs.KindOf(err)).To(Equal(errs.KindValidation))
		})

		It("records the evidence considered and the reasoning hash", func() {
			reasoning := "Both parties showed partial performance."
			ruled, err := rule(c, carol, pao.DecisionSplit, reasoning)
			Expect(err).NotTo(HaveOccurred())

			r := ruled.Ruling
			Expect(r.Arbiter).To(Equal(carol))
			Expect(r.ReasoningHash).To(Equal(canonical.String(reasoning)))
			Expect(r.EvidenceConsidered).To(Equal(map[pao.Role]int{
				pao.RoleClaimant:   1,
				pao.RoleRespondent: 1,
			}))

			var kinds []pao.EventKind
			for _, ev := range events.Events() {
				kinds = append(kinds, ev.Event.Kind)
			}
			Expect(kinds).To(Equal([]pao.EventKind{
				pao.EventProposed,
				pao.EventAccepted,
				pao.EventDisputeOpened,
				pao.EventEvidenceSubmitted,
				pao.EventEvidenceSubmitted,
				pao.EventRulingIssued,
			}))
		})

		It("is final", func() {
			_, err := rule(c, carol, pao.DecisionClaimant, "No delivery.")
			Expect(err).NotTo(HaveOccurred())

			_, err = rule(c, carol, pao.DecisionRespondent, "Changed my mind.")
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))

			_, err = submit(c, alice, "new photo")
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))

			_, err = fulfill(a, alice, "tracking#123")
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))

			_, err = arbitrate(a, alice, pao.ReasonOther, "")
			Expect(errs.KindOf(err)).To(Equal(errs.KindStateConflict))
		})
	})
})
