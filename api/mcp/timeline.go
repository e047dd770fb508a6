package mcp

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/accord/pkg/timeline"
)

var (
	timelineToolName    = "agreement_timeline"
	timelineDescription = "Return the audit timeline of an agreement (or the proposal it came from): every signed transition from proposal to ruling in causal order, with actors and signatures."
)

// TimelineInput represents the input arguments for the agreement_timeline tool.
type TimelineInput struct {
	ID     string `json:"id" jsonschema:"an agreement id (agr_...) or proposal id (prop_...)"`
	Format string `json:"format,omitempty" jsonschema:"json (default), text, or markdown"`
}

// TimelineOutput represents the output of the agreement_timeline tool.
type TimelineOutput struct {
	ProposalID  string          `json:"proposal_id"`
	AgreementID string          `json:"agreement_id,omitempty"`
	CaseID      string          `json:"case_id,omitempty"`
	State       string          `json:"state"`
	Terms       string          `json:"terms"`
	Parties     []string        `json:"parties"`
	Arbiter     string          `json:"arbiter"`
	Decision    string          `json:"decision,omitempty"`
	Entries     []TimelineEntry `json:"entries"`
}

// TimelineEntry is one transition in a TimelineOutput.
type TimelineEntry struct {
	N         int    `json:"n"`
	At        string `json:"at"`
	Kind      string `json:"kind"`
	Actor     string `json:"actor"`
	Summary   string `json:"summary"`
	Signature string `json:"signature,omitempty"`
}

func (s *Server) handleTimeline(ctx context.Context, _ *mcp.CallToolRequest, input TimelineInput) (*mcp.CallToolResult, TimelineOutput, error) {
	if input.ID == "" {
		return toolError("id is required"), TimelineOutput{}, nil
	}

	s.config.Logger.Debug("MCP timeline request", "id", input.ID, "format", input.Format)

	t, err := timeline.Build(ctx, s.config.Timeline, input.ID, timeline.WithClock(s.config.Now))
	if err != nil {
		return toolError("Timeline failed: %v", err), TimelineOutput{}, nil
	}
	out := toOutput(t)

	switch input.Format {
	case "", "json":
		return jsonResult(out)
	case "text":
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: t.Text()}}}, out, nil
	case "markdown":
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: t.Markdown()}}}, out, nil
	default:
		return toolError("format must be json, text, or markdown"), TimelineOutput{}, nil
	}
}

func toOutput(t *timeline.Timeline) TimelineOutput {
	out := TimelineOutput{
		ProposalID:  t.ProposalID,
		AgreementID: t.AgreementID,
		CaseID:      t.CaseID,
		State:       t.State,
		Terms:       t.Terms,
		Parties:     t.Parties,
		Arbiter:     t.Arbiter,
		Entries:     make([]TimelineEntry, 0, len(t.Entries)),
	}
	if t.Ruling != nil {
		out.Decision = string(t.Ruling.Decision)
	}
	for _, e := range t.Entries {
		out.Entries = append(out.Entries, TimelineEntry{
			N:         e.N,
			At:        e.At.Format(time.RFC3339),
			Kind:      string(e.Kind),
			Actor:     e.Actor,
			Summary:   e.Summary,
			Signature: e.Signature,
		})
	}
	return out
}
