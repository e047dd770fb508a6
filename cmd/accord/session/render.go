package session

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/pao"
)

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// RenderIdentity prints an identity and its key history.
func RenderIdentity(w io.Writer, id *did.Identity) {
	fmt.Fprintln(w)
	cliui.Field(w, "subject", id.Subject())
	cliui.Field(w, "scheme", string(id.Scheme))
	cliui.Field(w, "status", cliui.Badge(string(id.Status)))
	if id.MigratedTo != "" {
		cliui.Field(w, "migrated to", id.MigratedTo)
		fmt.Fprintln(w)
		return
	}
	cliui.Field(w, "epoch", fmt.Sprint(id.Epoch))
	cliui.Field(w, "current key", id.CurrentKeyID)
	if id.LegacyID != "" {
		cliui.Field(w, "legacy id", id.LegacyID)
	}
	if c := id.Controller; c != nil {
		cliui.Field(w, "controller", fmt.Sprintf("%s @%s %s", c.Platform, c.Handle, cliui.Badge(string(c.Status))))
	} else {
		cliui.Field(w, "controller", "")
	}

	if len(id.Keys) > 0 {
		fmt.Fprintf(w, "\n  %s\n", cliui.KeyStyle.Render("keys"))
		retired := id.CompromisedKeys()
		for _, k := range id.Keys {
			marks := []string{string(k.Method)}
			if k.Reason != "" {
				marks = append(marks, string(k.Reason))
			}
			if k.KeyID == id.CurrentKeyID {
				marks = append(marks, "current")
			}
			if slices.Contains(retired, k.KeyID) {
				marks = append(marks, cliui.Badge("compromised"))
			}
			fmt.Fprintf(w, "    %-8s epoch %d  %s  %s\n",
				k.KeyID, k.Epoch,
				cliui.DimStyle.Render(stamp(k.CreatedAt)),
				strings.Join(marks, ", "),
			)
		}
	}
	fmt.Fprintln(w)
}

// RenderChain prints a chain replay report.
func RenderChain(w io.Writer, r *did.ChainReport) {
	fmt.Fprintln(w)
	for _, l := range r.Links {
		line := fmt.Sprintf("  %s %-8s", cliui.Mark(nil), l.KeyID)
		if !l.Valid {
			line = fmt.Sprintf("  %s %-8s %s", cliui.FailMark, l.KeyID, cliui.WarnStyle.Render(l.Reason))
		}
		fmt.Fprintln(w, line)
	}
	if r.Valid {
		fmt.Fprintf(w, "\n  Key chain for %s is valid.\n\n", r.DID)
	} else if r.Problem != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n", cliui.FailMark, r.Problem)
	} else {
		fmt.Fprintf(w, "\n  %s chain broken at link %d\n\n", cliui.FailMark, r.FirstInvalid)
	}
}

// RenderProposal prints a proposal.
func RenderProposal(w io.Writer, p *pao.Proposal) {
	fmt.Fprintln(w)
	cliui.Field(w, "proposal", p.ID)
	cliui.Field(w, "status", cliui.Badge(string(p.Status)))
	cliui.Field(w, "proposer", p.Proposer)
	cliui.Field(w, "counterparty", p.Counterparty)
	cliui.Field(w, "arbiter", p.Arbiter)
	cliui.Field(w, "terms", p.Terms)
	cliui.Field(w, "terms hash", p.TermsHash)
	if p.Deadline != nil {
		cliui.Field(w, "deadline", stamp(*p.Deadline))
	}
	if p.Value != "" {
		cliui.Field(w, "value", p.Value)
	}
	if p.Status == pao.ProposalPending {
		cliui.Field(w, "expires", stamp(p.ExpiresAt))
	}
	if p.RejectedBy != "" {
		cliui.Field(w, "rejected by", p.RejectedBy)
		cliui.Field(w, "reason", p.RejectionReason)
	}
	if p.AgreementID != "" {
		cliui.Field(w, "agreement", p.AgreementID)
	}
	fmt.Fprintln(w)
}

// RenderAgreement prints an agreement.
func RenderAgreement(w io.Writer, a *pao.Agreement) {
	fmt.Fprintln(w)
	cliui.Field(w, "agreement", a.ID)
	cliui.Field(w, "state", cliui.Badge(string(a.State)))
	cliui.Field(w, "parties", strings.Join(a.Parties, ", "))
	cliui.Field(w, "arbiter", a.Arbiter)
	cliui.Field(w, "terms", a.Terms)
	cliui.Field(w, "terms hash", a.TermsHash)
	if f := a.Fulfillment; f != nil {
		cliui.Field(w, "fulfilled by", f.By)
		cliui.Field(w, "evidence", f.Evidence.ContentHash)
	}
	if a.CaseID != "" {
		cliui.Field(w, "case", a.CaseID)
	}
	fmt.Fprintln(w)
}

// RenderCase prints an arbitration case.
func RenderCase(w io.Writer, c *pao.Case) {
	fmt.Fprintln(w)
	cliui.Field(w, "case", c.ID)
	cliui.Field(w, "status", cliui.Badge(string(c.Status)))
	cliui.Field(w, "agreement", c.AgreementID)
	cliui.Field(w, "claimant", c.Claimant)
	cliui.Field(w, "respondent", c.Respondent)
	cliui.Field(w, "arbiter", c.Arbiter)
	cliui.Field(w, "reason", c.Reason.Describe())
	cliui.Field(w, "evidence until", stamp(c.EvidenceDeadline))
	for i, e := range c.Evidence {
		anchored := ""
		if e.Anchor != nil {
			anchored = cliui.DimStyle.Render(" anchored:" + e.Anchor.Provider)
		}
		fmt.Fprintf(w, "    %d. %-10s %-10s %s%s\n", i+1, e.Role, e.Type, e.ContentHash, anchored)
	}
	if r := c.Ruling; r != nil {
		cliui.Field(w, "decision", string(r.Decision))
		cliui.Field(w, "reasoning", r.Reasoning)
	}
	fmt.Fprintln(w)
}
