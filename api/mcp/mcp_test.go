package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/agreement"
	accordlogger "github.com/papercomputeco/accord/pkg/logger"
	testutils "github.com/papercomputeco/accord/pkg/utils/test"
)

var _ = Describe("MCP Server", func() {
	var (
		ctx    context.Context
		agents *testutils.Agents
		server *Server
	)

	BeforeEach(func() {
		ctx = context.Background()
		agents = testutils.NewAgents(testutils.NewClock(time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)))

		var err error
		server, err = NewServer(Config{
			Identity: agents.Identity,
			Timeline: agents.Store,
			Logger:   accordlogger.Nop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("NewServer", func() {
		It("returns an error when the identity service is nil", func() {
			_, err := NewServer(Config{Timeline: agents.Store, Logger: accordlogger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("identity service is required")))
		})

		It("returns an error when the timeline reader is nil", func() {
			_, err := NewServer(Config{Identity: agents.Identity, Logger: accordlogger.Nop()})
			Expect(err).To(MatchError(ContainSubstring("timeline reader is required")))
		})

		It("returns an error when logger is nil", func() {
			_, err := NewServer(Config{Identity: agents.Identity, Timeline: agents.Store})
			Expect(err).To(MatchError(ContainSubstring("logger is required")))
		})

		It("returns an HTTP handler", func() {
			Expect(server.Handler()).NotTo(BeNil())
		})
	})

	Describe("verify_identity", func() {
		It("reports a valid chain and the current key", func() {
			alice := agents.Create("alice")

			res, out, err := server.handleVerifyIdentity(ctx, nil, VerifyInput{DID: alice})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())
			Expect(out.ChainValid).To(BeTrue())
			Expect(out.FirstInvalid).To(Equal(-1))
			Expect(out.Status).To(Equal("active"))
			Expect(out.CurrentKeyID).To(Equal("#key-0"))
		})

		It("checks an optional signature", func() {
			alice := agents.Create("alice")
			sig := agents.Sign(alice, "hello")

			_, out, err := server.handleVerifyIdentity(ctx, nil, VerifyInput{DID: alice, Message: "hello", Signature: sig})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Signature).NotTo(BeNil())
			Expect(out.Signature.Valid).To(BeTrue())

			_, out, err = server.handleVerifyIdentity(ctx, nil, VerifyInput{DID: alice, Message: "goodbye", Signature: sig})
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Signature.Valid).To(BeFalse())
			Expect(out.Signature.Error).NotTo(BeEmpty())
		})

		It("returns a tool error for an unknown DID", func() {
			res, _, err := server.handleVerifyIdentity(ctx, nil, VerifyInput{DID: "did:agent:acme:nobody"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})

		It("requires a DID", func() {
			res, _, err := server.handleVerifyIdentity(ctx, nil, VerifyInput{})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})
	})

	Describe("agreement_timeline", func() {
		var agreementID string

		BeforeEach(func() {
			alice, bob, carol := agents.Create("alice"), agents.Create("bob"), agents.Create("carol")
			svc := agreement.NewService(agents.Store, agents.Identity, agreement.WithClock(agents.Clock.Now))

			hash, err := agreement.TermsHash("Deliver 10 widgets", alice, bob, nil)
			Expect(err).NotTo(HaveOccurred())
			p, err := svc.Propose(ctx, agreement.ProposeRequest{
				Terms:        "Deliver 10 widgets",
				Proposer:     alice,
				Counterparty: bob,
				Arbiter:      carol,
				Signature:    agents.Sign(alice, hash),
			})
			Expect(err).NotTo(HaveOccurred())

			a, err := svc.Accept(ctx, agreement.AcceptRequest{
				ProposalID: p.ID,
				Actor:      bob,
				Signature:  agents.Sign(bob, hash),
			})
			Expect(err).NotTo(HaveOccurred())
			agreementID = a.ID
		})

		It("returns the entries in order", func() {
			res, out, err := server.handleTimeline(ctx, nil, TimelineInput{ID: agreementID})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeFalse())
			Expect(out.AgreementID).To(Equal(agreementID))
			Expect(out.State).To(Equal("accepted"))
			Expect(out.Entries).To(HaveLen(2))
			Expect(out.Entries[0].Kind).To(Equal("proposed"))
			Expect(out.Entries[1].Kind).To(Equal("accepted"))
		})

		It("renders markdown on request", func() {
			res, _, err := server.handleTimeline(ctx, nil, TimelineInput{ID: agreementID, Format: "markdown"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Content).To(HaveLen(1))
			text, ok := res.Content[0].(*mcp.TextContent)
			Expect(ok).To(BeTrue())
			Expect(text.Text).To(ContainSubstring("# Agreement"))
		})

		It("rejects an unknown format", func() {
			res, _, err := server.handleTimeline(ctx, nil, TimelineInput{ID: agreementID, Format: "pdf"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})

		It("returns a tool error for an unknown id", func() {
			res, _, err := server.handleTimeline(ctx, nil, TimelineInput{ID: "agr_missing"})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.IsError).To(BeTrue())
		})
	})
})
