package api

import (
	"github.com/gofiber/fiber/v2"
)

// VerifyRequest is the body of POST /v1/identities/:did/verify.
type VerifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`

	// AsOfKey, when set, requires the signature to come from that key.
	AsOfKey string `json:"asOfKey,omitempty"`
}

func (s *Server) handleListIdentities(c *fiber.Ctx) error {
	ids, err := s.config.Identity.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(ids)
}

func (s *Server) handleGetIdentity(c *fiber.Ctx) error {
	id, err := s.config.Identity.Show(c.UserContext(), c.Params("did"))
	if err != nil {
		return err
	}
	return c.JSON(id)
}

func (s *Server) handleGetDocument(c *fiber.Ctx) error {
	doc, err := s.config.Identity.Document(c.UserContext(), c.Params("did"))
	if err != nil {
		return err
	}
	return c.JSON(doc)
}

// handleVerifyChain replays the key chain. An invalid chain is still a 200
// with Valid=false; the report says where it broke.
func (s *Server) handleVerifyChain(c *fiber.Ctx) error {
	report, err := s.config.Identity.VerifyChain(c.UserContext(), c.Params("did"))
	if report == nil {
		return err
	}
	return c.JSON(report)
}

func (s *Server) handleVerifySignature(c *fiber.Ctx) error {
	var req VerifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	v, err := s.config.Identity.VerifyMessage(c.UserContext(), c.Params("did"), req.Message, req.Signature, req.AsOfKey)
	if err != nil {
		return err
	}
	return c.JSON(v)
}
