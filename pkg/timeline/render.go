package timeline

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Text renders the timeline as numbered plain text.
func (t *Timeline) Text() string {
	var b strings.Builder
	if t.AgreementID != "" {
		fmt.Fprintf(&b, "Agreement %s (%s)\n", t.AgreementID, t.State)
	} else {
		fmt.Fprintf(&b, "Proposal %s (%s)\n", t.ProposalID, t.State)
	}
	fmt.Fprintf(&b, "Terms: %s\n", t.Terms)
	fmt.Fprintf(&b, "Terms hash: %s\n", t.TermsHash)
	fmt.Fprintf(&b, "Parties: %s\n", strings.Join(t.Parties, ", "))
	fmt.Fprintf(&b, "Arbiter: %s\n", t.Arbiter)
	if t.CaseID != "" {
		fmt.Fprintf(&b, "Case: %s\n", t.CaseID)
	}
	b.WriteString("\n")

	for _, e := range t.Entries {
		fmt.Fprintf(&b, "%2d. %s  %-18s %s\n", e.N, e.At.UTC().Format(time.RFC3339), e.Kind, e.Actor)
		fmt.Fprintf(&b, "    %s\n", e.Summary)
		if e.Signature != "" {
			fmt.Fprintf(&b, "    signature: %s\n", e.Signature)
		}
	}

	if t.Ruling != nil {
		fmt.Fprintf(&b, "\nRuling: %s\n%s\n", t.Ruling.Decision, t.Ruling.Reasoning)
	}
	return b.String()
}

// Markdown renders the timeline as a markdown document.
func (t *Timeline) Markdown() string {
	var b strings.Builder
	if t.AgreementID != "" {
		fmt.Fprintf(&b, "# Agreement `%s`\n\n", t.AgreementID)
	} else {
		fmt.Fprintf(&b, "# Proposal `%s`\n\n", t.ProposalID)
	}
	fmt.Fprintf(&b, "**State:** %s  \n", t.State)
	fmt.Fprintf(&b, "**Terms hash:** `%s`  \n", t.TermsHash)
	fmt.Fprintf(&b, "**Arbiter:** `%s`\n\n", t.Arbiter)
	fmt.Fprintf(&b, "> %s\n\n", t.Terms)

	b.WriteString("## Parties\n\n")
	for _, p := range t.Parties {
		if sig, ok := t.Signatures[p]; ok {
			fmt.Fprintf(&b, "- `%s` signed `%s`\n", p, sig)
		} else {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}

	b.WriteString("\n## Events\n\n")
	b.WriteString("| # | Time | Event | Actor | Summary |\n")
	b.WriteString("|---|------|-------|-------|---------|\n")
	for _, e := range t.Entries {
		fmt.Fprintf(&b, "| %d | %s | %s | `%s` | %s |\n",
			e.N, e.At.UTC().Format(time.RFC3339), e.Kind, e.Actor, strings.ReplaceAll(e.Summary, "|", `\|`))
	}

	if t.Ruling != nil {
		fmt.Fprintf(&b, "\n## Ruling\n\n**Decision:** %s\n\n%s\n", t.Ruling.Decision, t.Ruling.Reasoning)
		roles := make([]string, 0, len(t.Ruling.EvidenceConsidered))
		for role, n := range t.Ruling.EvidenceConsidered {
			roles = append(roles, fmt.Sprintf("%s: %d", role, n))
		}
		slices.Sort(roles)
		if len(roles) > 0 {
			fmt.Fprintf(&b, "\nEvidence considered: %s\n", strings.Join(roles, ", "))
		}
	}
	return b.String()
}
