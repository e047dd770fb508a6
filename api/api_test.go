package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/arbitration"
	"github.com/papercomputeco/accord/pkg/errs"
	accordlogger "github.com/papercomputeco/accord/pkg/logger"
	"github.com/papercomputeco/accord/pkg/pao"
	testutils "github.com/papercomputeco/accord/pkg/utils/test"
)

var _ = Describe("Server", func() {
	var (
		ctx    context.Context
		agents *testutils.Agents
		server *Server
		terms  string

		alice, bob, carol string
	)

	do := func(method, path string, body any) (*http.Response, []byte) {
		var r io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			Expect(err).NotTo(HaveOccurred())
			r = bytes.NewReader(b)
		}
		req, err := http.NewRequest(method, path, r)
		Expect(err).NotTo(HaveOccurred())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := server.app.Test(req)
		Expect(err).NotTo(HaveOccurred())
		out, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return resp, out
	}

	decode := func(b []byte, v any) {
		ExpectWithOffset(1, json.Unmarshal(b, v)).To(Succeed())
	}

	propose := func() *pao.Proposal {
		hash, err := agreement.TermsHash(terms, alice, bob, nil)
		Expect(err).NotTo(HaveOccurred())
		resp, body := do(http.MethodPost, "/v1/proposals", ProposeRequest{
			Terms:        terms,
			Proposer:     alice,
			Counterparty: bob,
			Arbiter:      carol,
			Signature:    agents.Sign(alice, hash),
		})
		Expect(resp.StatusCode).To(Equal(fiber.StatusCreated), string(body))
		var p pao.Proposal
		decode(body, &p)
		return &p
	}

	accept := func(p *pao.Proposal) *pao.Agreement {
		resp, body := do(http.MethodPost, "/v1/proposals/"+p.ID+"/accept", ActionRequest{
			Actor:     bob,
			Signature: agents.Sign(bob, p.TermsHash),
		})
		Expect(resp.StatusCode).To(Equal(fiber.StatusCreated), string(body))
		var a pao.Agreement
		decode(body, &a)
		return &a
	}

	BeforeEach(func() {
		ctx = context.Background()
		agents = testutils.NewAgents(testutils.NewClock(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)))
		alice, bob, carol = agents.Create("alice"), agents.Create("bob"), agents.Create("carol")
		terms = "Deliver 10 widgets by Friday"

		var err error
		server, err = NewServer(Config{
			ListenAddr:  ":0",
			Identity:    agents.Identity,
			Agreements:  agreement.NewService(agents.Store, agents.Identity, agreement.WithClock(agents.Clock.Now)),
			Arbitration: arbitration.NewService(agents.Store, agents.Identity, arbitration.WithClock(agents.Clock.Now)),
			Timeline:    agents.Store,
			Now:         agents.Clock.Now,
		}, accordlogger.Nop())
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires its services", func() {
		_, err := NewServer(Config{ListenAddr: ":0"}, accordlogger.Nop())
		Expect(err).To(MatchError(ContainSubstring("identity service is required")))
	})

	It("answers ping", func() {
		resp, body := do(http.MethodGet, "/ping", nil)
		Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		Expect(string(body)).To(Equal(`"pong"`))
	})

	Describe("identities", func() {
		It("returns an identity and its document", func() {
			resp, body := do(http.MethodGet, "/v1/identities/"+alice, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(ContainSubstring(alice))

			resp, _ = do(http.MethodGet, "/v1/identities/"+alice+"/document", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
		})

		It("replays the key chain", func() {
			_, err := agents.Identity.Rotate(ctx, alice, "")
			Expect(err).NotTo(HaveOccurred())

			resp, body := do(http.MethodGet, "/v1/identities/"+alice+"/chain", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			var report struct {
				Valid bool `json:"valid"`
			}
			decode(body, &report)
			Expect(report.Valid).To(BeTrue())
		})

		It("verifies signatures", func() {
			sig := agents.Sign(alice, "hello")

			resp, _ := do(http.MethodPost, "/v1/identities/"+alice+"/verify", VerifyRequest{Message: "hello", Signature: sig})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))

			resp, body := do(http.MethodPost, "/v1/identities/"+alice+"/verify", VerifyRequest{Message: "tampered", Signature: sig})
			Expect(resp.StatusCode).To(Equal(fiber.StatusUnprocessableEntity))
			var e ErrorResponse
			decode(body, &e)
			Expect(e.Kind).To(Equal(errs.KindSignatureVerification))
		})

		It("returns 404 for an unknown DID", func() {
			resp, _ := do(http.MethodGet, "/v1/identities/did:agent:acme:nobody", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusNotFound))
		})
	})

	Describe("protocol", func() {
		It("forms an agreement from a signed proposal", func() {
			p := propose()
			Expect(p.Status).To(Equal(pao.ProposalPending))

			a := accept(p)
			Expect(a.State).To(Equal(pao.StateAccepted))
			Expect(a.Signatures).To(HaveKey(alice))
			Expect(a.Signatures).To(HaveKey(bob))

			resp, body := do(http.MethodGet, "/v1/agreements?party="+carol, nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			var list []pao.Agreement
			decode(body, &list)
			Expect(list).To(HaveLen(1))
		})

		It("maps a forged proposal signature to 422", func() {
			hash, err := agreement.TermsHash(terms, alice, bob, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, _ := do(http.MethodPost, "/v1/proposals", ProposeRequest{
				Terms:        terms,
				Proposer:     alice,
				Counterparty: bob,
				Arbiter:      carol,
				Signature:    agents.Sign(bob, hash),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusUnprocessableEntity))
		})

		It("maps a second acceptance to 409", func() {
			p := propose()
			accept(p)

			resp, body := do(http.MethodPost, "/v1/proposals/"+p.ID+"/accept", ActionRequest{
				Actor:     bob,
				Signature: agents.Sign(bob, p.TermsHash),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusConflict))
			var e ErrorResponse
			decode(body, &e)
			Expect(e.Kind).To(Equal(errs.KindDuplicate))
		})

		It("maps an outsider's acceptance to 403", func() {
			p := propose()
			resp, _ := do(http.MethodPost, "/v1/proposals/"+p.ID+"/accept", ActionRequest{
				Actor:     carol,
				Signature: agents.Sign(carol, p.TermsHash),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusForbidden))
		})

		It("rejects an unreadable body with 400", func() {
			req, err := http.NewRequest(http.MethodPost, "/v1/proposals", bytes.NewReader([]byte("{")))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			resp, err := server.app.Test(req)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})

		It("runs a dispute to a ruling", func() {
			a := accept(propose())

			msg, err := arbitration.ArbitrateMessage(a, bob, pao.ReasonNonDelivery, "no package received")
			Expect(err).NotTo(HaveOccurred())
			resp, body := do(http.MethodPost, "/v1/agreements/"+a.ID+"/arbitrate", ActionRequest{
				Actor:     bob,
				Reason:    string(pao.ReasonNonDelivery),
				Evidence:  "no package received",
				Signature: agents.Sign(bob, msg),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusCreated), string(body))
			var c pao.Case
			decode(body, &c)

			msg, err = arbitration.SubmitMessage(&c, alice, "courier receipt", pao.EvidenceDocument)
			Expect(err).NotTo(HaveOccurred())
			resp, body = do(http.MethodPost, "/v1/cases/"+c.ID+"/evidence", ActionRequest{
				Actor:     alice,
				Evidence:  "courier receipt",
				Signature: agents.Sign(alice, msg),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK), string(body))

			msg, err = arbitration.RulingMessage(&c, carol, pao.DecisionSplit, "partial delivery proven")
			Expect(err).NotTo(HaveOccurred())
			resp, body = do(http.MethodPost, "/v1/cases/"+c.ID+"/ruling", ActionRequest{
				Actor:     carol,
				Decision:  string(pao.DecisionSplit),
				Reasoning: "partial delivery proven",
				Signature: agents.Sign(carol, msg),
			})
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK), string(body))
			decode(body, &c)
			Expect(c.Status).To(Equal(pao.CaseRuled))
			Expect(c.Ruling.EvidenceConsidered).To(HaveKeyWithValue(pao.RoleClaimant, 1))

			resp, body = do(http.MethodGet, "/v1/agreements/"+a.ID+"/timeline?format=text", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK))
			Expect(string(body)).To(ContainSubstring("Ruling: split"))
		})

		It("reports a lapsed proposal as expired on its timeline", func() {
			p := propose()
			agents.Clock.Advance(agreement.DefaultProposalTTL + time.Minute)

			resp, body := do(http.MethodGet, "/v1/agreements/"+p.ID+"/timeline", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusOK), string(body))
			var t struct {
				State string `json:"state"`
			}
			decode(body, &t)
			Expect(t.State).To(Equal(string(pao.ProposalExpired)))
		})

		It("rejects an unknown timeline format", func() {
			a := accept(propose())
			resp, _ := do(http.MethodGet, "/v1/agreements/"+a.ID+"/timeline?format=pdf", nil)
			Expect(resp.StatusCode).To(Equal(fiber.StatusBadRequest))
		})
	})

	It("mounts the MCP endpoint", func() {
		resp, _ := do(http.MethodGet, "/mcp", nil)
		Expect(resp.StatusCode).NotTo(Equal(fiber.StatusNotFound))
	})
})
