package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	verifyToolName    = "verify_identity"
	verifyDescription = "Verify an agent DID. Replays its key chain from the genesis key and reports the current key, status, and controller. When message and signature are given, also checks that the signature was made by a key of this identity."
)

// VerifyInput represents the input arguments for the verify_identity tool.
type VerifyInput struct {
	DID       string `json:"did" jsonschema:"the agent DID, e.g. did:agent:acme:alice"`
	Message   string `json:"message,omitempty" jsonschema:"optional signed message to check"`
	Signature string `json:"signature,omitempty" jsonschema:"optional signature envelope over message"`
}

// VerifyOutput represents the output of the verify_identity tool.
type VerifyOutput struct {
	DID          string `json:"did"`
	Status       string `json:"status"`
	Epoch        int    `json:"epoch"`
	CurrentKeyID string `json:"current_key_id"`
	Keys         int    `json:"keys"`

	ChainValid   bool   `json:"chain_valid"`
	FirstInvalid int    `json:"first_invalid"`
	ChainProblem string `json:"chain_problem,omitempty"`

	Controller         string `json:"controller,omitempty"`
	ControllerVerified bool   `json:"controller_verified"`

	Signature *SignatureOutput `json:"signature,omitempty"`
}

// SignatureOutput reports the optional signature check.
type SignatureOutput struct {
	Valid       bool   `json:"valid"`
	KeyID       string `json:"key_id,omitempty"`
	SignedAt    string `json:"signed_at,omitempty"`
	Historical  bool   `json:"historical"`
	Compromised bool   `json:"compromised"`
	Error       string `json:"error,omitempty"`
}

func (s *Server) handleVerifyIdentity(ctx context.Context, _ *mcp.CallToolRequest, input VerifyInput) (*mcp.CallToolResult, VerifyOutput, error) {
	if input.DID == "" {
		return toolError("did is required"), VerifyOutput{}, nil
	}

	id, err := s.config.Identity.Show(ctx, input.DID)
	if err != nil {
		return toolError("Lookup failed: %v", err), VerifyOutput{}, nil
	}

	report, err := s.config.Identity.VerifyChain(ctx, input.DID)
	if report == nil {
		return toolError("Chain verification failed: %v", err), VerifyOutput{}, nil
	}

	out := VerifyOutput{
		DID:          id.DID,
		Status:       string(id.Status),
		Epoch:        id.Epoch,
		CurrentKeyID: id.CurrentKeyID,
		Keys:         len(id.Keys),
		ChainValid:   report.Valid,
		FirstInvalid: report.FirstInvalid,
		ChainProblem: report.Problem,
	}
	if err != nil {
		out.ChainProblem = err.Error()
	}
	if c := id.Controller; c != nil {
		out.Controller = c.Platform + ":" + c.Handle
		out.ControllerVerified = c.Verified()
	}

	if input.Signature != "" {
		v, err := s.config.Identity.VerifyMessage(ctx, input.DID, input.Message, input.Signature, "")
		if err != nil {
			s.config.Logger.Debug("MCP signature check failed", "did", input.DID, "error", err)
			out.Signature = &SignatureOutput{Error: err.Error()}
		} else {
			out.Signature = &SignatureOutput{
				Valid:       true,
				KeyID:       v.KeyID,
				SignedAt:    v.SignedAt.Format(time.RFC3339),
				Historical:  v.Historical,
				Compromised: v.Compromised,
			}
		}
	}

	return jsonResult(out)
}
