// Package storagetest holds the behavior every storage.Driver must share.
// Driver packages call DescribeDriver from their own test suites.
package storagetest

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
)

var epoch = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)

// Identity builds a minimal identity with n key records.
func Identity(name string, n int) *did.Identity {
	subject, _ := did.Format("test", name)
	id := &did.Identity{
		DID:       subject,
		Namespace: "test",
		Name:      name,
		Scheme:    did.SchemeChain,
		Status:    did.StatusActive,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
	for i := range n {
		id.Keys = append(id.Keys, KeyRecord(i))
	}
	if n > 0 {
		id.CurrentKeyID = did.KeyID(n - 1)
	}
	return id
}

// KeyRecord builds the key record at seq.
func KeyRecord(seq int) did.KeyRecord {
	rec := did.KeyRecord{
		KeyID:     did.KeyID(seq),
		Seq:       seq,
		PublicKey: "z6Mk" + did.KeyID(seq),
		Method:    did.KeyRotation,
		CreatedAt: epoch.Add(time.Duration(seq) * time.Hour),
	}
	if seq == 0 {
		rec.Method = did.KeyGenesis
	} else {
		rec.PreviousKeyID = did.KeyID(seq - 1)
		rec.Reason = did.ReasonScheduled
	}
	return rec
}

// Proposal builds a pending proposal between proposer and counterparty.
func Proposal(proposer, counterparty, terms string, at time.Time) *pao.Proposal {
	return &pao.Proposal{
		ID:           pao.NewID(pao.PrefixProposal),
		Proposer:     proposer,
		Counterparty: counterparty,
		Arbiter:      "arbiter",
		Terms:        terms,
		TermsHash:    "sha256:" + terms,
		ExpiresAt:    at.Add(7 * 24 * time.Hour),
		Status:       pao.ProposalPending,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
}

// DescribeDriver registers the shared driver specs. newDriver is called
// before every spec and must return an empty store.
func DescribeDriver(newDriver func() storage.Driver) {
	var (
		ctx   context.Context
		store storage.Driver
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newDriver()
		DeferCleanup(func() {
			Expect(store.Close()).To(Succeed())
		})
	})

	Describe("identities", func() {
		It("creates at version 1 and reads back the key history in order", func() {
			id := Identity("alice", 3)
			Expect(store.CreateIdentity(ctx, id)).To(Succeed())
			Expect(id.Version).To(Equal(int64(1)))

			got, err := store.GetIdentity(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(int64(1)))
			Expect(got.CurrentKeyID).To(Equal("#key-2"))
			Expect(got.Keys).To(HaveLen(3))
			for i, k := range got.Keys {
				Expect(k.Seq).To(Equal(i))
				Expect(k.KeyID).To(Equal(did.KeyID(i)))
			}
		})

		It("rejects a second identity with the same subject", func() {
			Expect(store.CreateIdentity(ctx, Identity("alice", 1))).To(Succeed())

			err := store.CreateIdentity(ctx, Identity("alice", 1))
			Expect(err).To(MatchError(errs.ErrDuplicate))
		})

		It("returns not found for unknown subjects", func() {
			_, err := store.GetIdentity(ctx, "did:agent:test:nobody")
			Expect(err).To(MatchError(errs.ErrNotFound))
			Expect(errs.KindOf(err)).To(Equal(errs.KindNotFound))
		})

		It("appends key records and advances the version", func() {
			id := Identity("alice", 1)
			Expect(store.CreateIdentity(ctx, id)).To(Succeed())

			id.Keys = append(id.Keys, KeyRecord(1))
			id.CurrentKeyID = "#key-1"
			Expect(store.UpdateIdentity(ctx, id, 1)).To(Succeed())
			Expect(id.Version).To(Equal(int64(2)))

			got, err := store.GetIdentity(ctx, id.DID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(int64(2)))
			Expect(got.Keys).To(HaveLen(2))
			Expect(got.CurrentKeyID).To(Equal("#key-1"))
		})

		It("rejects a write made against a stale version", func() {
			id := Identity("alice", 1)
			Expect(store.CreateIdentity(ctx, id)).To(Succeed())

			first, _ := store.GetIdentity(ctx, id.DID)
			second, _ := store.GetIdentity(ctx, id.DID)

			first.Keys = append(first.Keys, KeyRecord(1))
			Expect(store.UpdateIdentity(ctx, first, 1)).To(Succeed())

			second.Keys = append(second.Keys, KeyRecord(1))
			err := store.UpdateIdentity(ctx, second, 1)
			Expect(err).To(MatchError(errs.ErrStateConflict))

			var conflict storage.VersionConflictError
			Expect(err).To(BeAssignableToTypeOf(conflict))
		})

		It("refuses to rewrite or drop existing key records", func() {
			id := Identity("alice", 2)
			Expect(store.CreateIdentity(ctx, id)).To(Succeed())

			tampered, _ := store.GetIdentity(ctx, id.DID)
			tampered.Keys[1].PublicKey = "z6Mkforged"
			Expect(store.UpdateIdentity(ctx, tampered, 1)).To(MatchError(errs.ErrStateConflict))

			truncated, _ := store.GetIdentity(ctx, id.DID)
			truncated.Keys = truncated.Keys[:1]
			Expect(store.UpdateIdentity(ctx, truncated, 1)).To(MatchError(errs.ErrStateConflict))

			got, _ := store.GetIdentity(ctx, id.DID)
			Expect(got.Version).To(Equal(int64(1)))
			Expect(got.Keys[1].PublicKey).To(Equal("z6Mk#key-1"))
		})

		It("deletes at the expected version and lists in creation order", func() {
			alice := Identity("alice", 1)
			bob := Identity("bob", 1)
			bob.CreatedAt = epoch.Add(time.Minute)
			Expect(store.CreateIdentity(ctx, alice)).To(Succeed())
			Expect(store.CreateIdentity(ctx, bob)).To(Succeed())

			list, err := store.ListIdentities(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(2))
			Expect(list[0].DID).To(Equal(alice.DID))
			Expect(list[1].DID).To(Equal(bob.DID))

			Expect(store.DeleteIdentity(ctx, alice.DID, 2)).To(MatchError(errs.ErrStateConflict))
			Expect(store.DeleteIdentity(ctx, alice.DID, 1)).To(Succeed())

			_, err = store.GetIdentity(ctx, alice.DID)
			Expect(err).To(MatchError(errs.ErrNotFound))

			// The subject can be reused once deleted.
			Expect(store.CreateIdentity(ctx, Identity("alice", 1))).To(Succeed())
		})
	})

	Describe("agreement records", func() {
		It("creates records and assigns increasing event sequence numbers", func() {
			p := Proposal("alice", "bob", "deliver", epoch)
			change := &storage.Change{
				Proposal: p,
				Events: []*pao.Event{
					{Subject: p.ID, Kind: pao.EventProposed, Actor: "alice", At: epoch},
				},
			}
			Expect(store.Apply(ctx, change)).To(Succeed())
			Expect(p.Version).To(Equal(int64(1)))
			Expect(change.Events[0].Seq).To(BeNumerically(">", 0))

			got, err := store.GetProposal(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(int64(1)))
			Expect(got.Terms).To(Equal("deliver"))
			Expect(got.ExpiresAt.Equal(p.ExpiresAt)).To(BeTrue())

			second := &storage.Change{
				Events: []*pao.Event{
					{Subject: p.ID, Kind: pao.EventExpired, Actor: "alice", At: epoch},
					{Subject: "elsewhere", Kind: pao.EventProposed, Actor: "carol", At: epoch},
				},
			}
			Expect(store.Apply(ctx, second)).To(Succeed())
			Expect(second.Events[0].Seq).To(BeNumerically(">", change.Events[0].Seq))
			Expect(second.Events[1].Seq).To(BeNumerically(">", second.Events[0].Seq))

			events, err := store.Events(ctx, p.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(2))
			Expect(events[0].Kind).To(Equal(pao.EventProposed))
			Expect(events[1].Kind).To(Equal(pao.EventExpired))
			Expect(events[0].Seq).To(BeNumerically("<", events[1].Seq))
		})

		It("rejects an identical pending proposal until the first leaves pending", func() {
			first := Proposal("alice", "bob", "deliver", epoch)
			Expect(store.Apply(ctx, &storage.Change{Proposal: first})).To(Succeed())

			dup := Proposal("alice", "bob", "deliver", epoch.Add(time.Second))
			err := store.Apply(ctx, &storage.Change{Proposal: dup})
			Expect(err).To(MatchError(errs.ErrDuplicate))

			first.Status = pao.ProposalRejected
			Expect(store.Apply(ctx, &storage.Change{Proposal: first, ProposalVersion: 1})).To(Succeed())
			Expect(store.Apply(ctx, &storage.Change{Proposal: dup})).To(Succeed())
		})

		It("commits every record of a change or none of them", func() {
			p := Proposal("alice", "bob", "deliver", epoch)
			Expect(store.Apply(ctx, &storage.Change{Proposal: p})).To(Succeed())

			a := &pao.Agreement{
				ID:         pao.NewID(pao.PrefixAgreement),
				ProposalID: p.ID,
				Parties:    []string{"alice", "bob"},
				Arbiter:    "arbiter",
				State:      pao.StateAccepted,
				CreatedAt:  epoch,
			}
			Expect(store.Apply(ctx, &storage.Change{Agreement: a})).To(Succeed())

			p.Status = pao.ProposalAccepted
			a.State = pao.StateFulfilled
			err := store.Apply(ctx, &storage.Change{
				Proposal:         p,
				ProposalVersion:  1,
				Agreement:        a,
				AgreementVersion: 7,
				Events:           []*pao.Event{{Subject: a.ID, Kind: pao.EventFulfilled, Actor: "alice", At: epoch}},
			})
			Expect(err).To(MatchError(errs.ErrStateConflict))

			gotP, _ := store.GetProposal(ctx, p.ID)
			Expect(gotP.Status).To(Equal(pao.ProposalPending))
			Expect(gotP.Version).To(Equal(int64(1)))

			gotA, _ := store.GetAgreement(ctx, a.ID)
			Expect(gotA.State).To(Equal(pao.StateAccepted))

			events, _ := store.Events(ctx, a.ID)
			Expect(events).To(BeEmpty())
		})

		It("reports updates to missing records as not found", func() {
			c := &pao.Case{ID: pao.NewID(pao.PrefixCase), AgreementID: "agr_x", Status: pao.CaseEvidenceCollection}
			err := store.Apply(ctx, &storage.Change{Case: c, CaseVersion: 3})
			Expect(err).To(MatchError(errs.ErrNotFound))
		})

		It("stores cases with their evidence", func() {
			c := &pao.Case{
				ID:          pao.NewID(pao.PrefixCase),
				AgreementID: "agr_1",
				Claimant:    "bob",
				Respondent:  "alice",
				Arbiter:     "carol",
				Reason:      pao.ReasonNonDelivery,
				Status:      pao.CaseEvidenceCollection,
				Evidence: []pao.Evidence{
					{Submitter: "bob", Role: pao.RoleClaimant, Content: "nothing arrived", ContentHash: "sha256:00"},
				},
				OpenedAt: epoch,
			}
			Expect(store.Apply(ctx, &storage.Change{Case: c})).To(Succeed())

			c.Evidence = append(c.Evidence, pao.Evidence{Submitter: "alice", Role: pao.RoleRespondent, Content: "shipped", ContentHash: "sha256:01"})
			Expect(store.Apply(ctx, &storage.Change{Case: c, CaseVersion: 1})).To(Succeed())

			got, err := store.GetCase(ctx, c.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Version).To(Equal(int64(2)))
			Expect(got.EvidenceCount()).To(Equal(map[pao.Role]int{pao.RoleClaimant: 1, pao.RoleRespondent: 1}))
		})

		It("filters proposals and agreements by party and status", func() {
			p1 := Proposal("alice", "bob", "one", epoch)
			p2 := Proposal("carol", "dave", "two", epoch.Add(time.Second))
			p2.Status = pao.ProposalRejected
			Expect(store.Apply(ctx, &storage.Change{Proposal: p1})).To(Succeed())
			Expect(store.Apply(ctx, &storage.Change{Proposal: p2})).To(Succeed())

			all, err := store.ListProposals(ctx, storage.ProposalFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
			Expect(all[0].ID).To(Equal(p1.ID))

			bobs, _ := store.ListProposals(ctx, storage.ProposalFilter{Party: "bob"})
			Expect(bobs).To(HaveLen(1))
			Expect(bobs[0].ID).To(Equal(p1.ID))

			arbiters, _ := store.ListProposals(ctx, storage.ProposalFilter{Party: "arbiter", Status: pao.ProposalRejected})
			Expect(arbiters).To(HaveLen(1))
			Expect(arbiters[0].ID).To(Equal(p2.ID))

			a := &pao.Agreement{
				ID:        pao.NewID(pao.PrefixAgreement),
				Parties:   []string{"alice", "bob"},
				Arbiter:   "carol",
				State:     pao.StateDisputed,
				CreatedAt: epoch,
			}
			a.ProposalID = p1.ID
			Expect(store.Apply(ctx, &storage.Change{Agreement: a})).To(Succeed())

			byArbiter, _ := store.ListAgreements(ctx, storage.AgreementFilter{Party: "carol"})
			Expect(byArbiter).To(HaveLen(1))
			none, _ := store.ListAgreements(ctx, storage.AgreementFilter{Party: "bob", State: pao.StateRuled})
			Expect(none).To(BeEmpty())
		})
	})
}
