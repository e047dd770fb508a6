package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/arbitration"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
	"github.com/papercomputeco/accord/pkg/timeline"
)

// ProposeRequest is the body of POST /v1/proposals. Signature is the
// proposer's envelope over the terms hash.
type ProposeRequest struct {
	Terms         string     `json:"terms"`
	Proposer      string     `json:"proposer"`
	Counterparty  string     `json:"counterparty"`
	Arbiter       string     `json:"arbiter"`
	Deadline      *time.Time `json:"deadline,omitempty"`
	Value         string     `json:"value,omitempty"`
	DisputeWindow string     `json:"disputeWindow,omitempty"`
	Signature     string     `json:"signature"`
}

// ActionRequest is the body of every signed transition after propose.
// Fields that do not apply to an action are ignored.
type ActionRequest struct {
	Actor        string `json:"actor"`
	Signature    string `json:"signature"`
	IfVersion    int64  `json:"ifVersion,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Evidence     string `json:"evidence,omitempty"`
	EvidenceType string `json:"evidenceType,omitempty"`
	Decision     string `json:"decision,omitempty"`
	Reasoning    string `json:"reasoning,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

func (s *Server) handlePropose(c *fiber.Ctx) error {
	var req ProposeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	var window time.Duration
	if req.DisputeWindow != "" {
		d, err := time.ParseDuration(req.DisputeWindow)
		if err != nil {
			return errs.Wrap(errs.KindValidation, err, "invalid disputeWindow")
		}
		window = d
	}

	p, err := s.config.Agreements.Propose(c.UserContext(), agreement.ProposeRequest{
		Terms:         req.Terms,
		Proposer:      req.Proposer,
		Counterparty:  req.Counterparty,
		Arbiter:       req.Arbiter,
		Deadline:      req.Deadline,
		Value:         req.Value,
		DisputeWindow: window,
		Signature:     req.Signature,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

func (s *Server) handleListProposals(c *fiber.Ctx) error {
	out, err := s.config.Agreements.ListProposals(c.UserContext(), storage.ProposalFilter{
		Party:  c.Query("party"),
		Status: pao.ProposalStatus(c.Query("status")),
	})
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (s *Server) handleGetProposal(c *fiber.Ctx) error {
	p, err := s.config.Agreements.GetProposal(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *Server) handleAccept(c *fiber.Ctx) error {
	var req ActionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := s.config.Agreements.Accept(c.UserContext(), agreement.AcceptRequest{
		ProposalID: c.Params("id"),
		Actor:      req.Actor,
		Signature:  req.Signature,
		IfVersion:  req.IfVersion,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(a)
}

func (s *Server) handleReject(c *fiber.Ctx) error {
	var req ActionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	p, err := s.config.Agreements.Reject(c.UserContext(), agreement.RejectRequest{
		ProposalID: c.Params("id"),
		Actor:      req.Actor,
		Reason:     req.Reason,
		Signature:  req.Signature,
		IfVersion:  req.IfVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(p)
}

func (s *Server) handleListAgreements(c *fiber.Ctx) error {
	out, err := s.config.Agreements.ListAgreements(c.UserContext(), storage.AgreementFilter{
		Party: c.Query("party"),
		State: pao.AgreementState(c.Query("state")),
	})
	if err != nil {
		return err
	}
	return c.JSON(out)
}

func (s *Server) handleGetAgreement(c *fiber.Ctx) error {
	a, err := s.config.Agreements.GetAgreement(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) handleFulfill(c *fiber.Ctx) error {
	var req ActionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	a, err := s.config.Arbitration.Fulfill(c.UserContext(), arbitration.FulfillRequest{
		AgreementID:  c.Params("id"),
		Actor:        req.Actor,
		Evidence:     req.Evidence,
		EvidenceType: req.EvidenceType,
		Signature:    req.Signature,
		IfVersion:    req.IfVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(a)
}

func (s *Server) handleArbitrate(c *fiber.Ctx) error {
	var req ActionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cs, err := s.config.Arbitration.Arbitrate(c.UserContext(), arbitration.ArbitrateRequest{
		AgreementID:  c.Params("id"),
		Actor:        req.Actor,
		Reason:       pao.BreachReason(req.Reason),
		Evidence:     req.Evidence,
		EvidenceType: req.EvidenceType,
		Signature:    req.Signature,
		IfVersion:    req.IfVersion,
	})
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(cs)
}

// handleTimeline renders the audit log of an agreement or proposal.
// Query parameters:
//   - format (optional): "json" (default), "text", or "markdown"
func (s *Server) handleTimeline(c *fiber.Ctx) error {
	t, err := timeline.Build(c.UserContext(), s.config.Timeline, c.Params("id"), timeline.WithClock(s.config.Now))
	if err != nil {
		return err
	}

	switch c.Query("format", "json") {
	case "json":
		return c.JSON(t)
	case "text":
		return c.SendString(t.Text())
	case "markdown":
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return c.SendString(t.Markdown())
	default:
		return errs.Validation("format must be json, text, or markdown")
	}
}

func (s *Server) handleGetCase(c *fiber.Ctx) error {
	cs, err := s.config.Arbitration.GetCase(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(cs)
}

func (s *Server) handleSubmit(c *fiber.Ctx) error {
	var req ActionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cs, err := s.config.Arbitration.Submit(c.UserContext(), arbitration.SubmitRequest{
		CaseID:       c.Params("id"),
		Actor:        req.Actor,
		Evidence:     req.Evidence,
		EvidenceType: req.EvidenceType,
		Signature:    req.Signature,
		IfVersion:    req.IfVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(cs)
}

func (s *Server) handleRuling(c *fiber.Ctx) error {
	var req ActionRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	cs, err := s.config.Arbitration.Ruling(c.UserContext(), arbitration.RulingRequest{
		CaseID:    c.Params("id"),
		Actor:     req.Actor,
		Decision:  pao.Decision(req.Decision),
		Reasoning: req.Reasoning,
		Signature: req.Signature,
		IfVersion: req.IfVersion,
	})
	if err != nil {
		return err
	}
	return c.JSON(cs)
}
