package protocolcmder

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/app"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
)

const proposeLongDesc string = `Offer terms to another agent. The proposal is signed by the acting
identity over the terms hash, which commits to the terms, both parties,
and the deadline. It is pending until the counterparty accepts or rejects
it, or until it expires (protocol.proposal_ttl).

--deadline takes an RFC 3339 time or a duration from now (for example 72h).

Example:
  accord propose --to did:agent:acme:bob --arbiter did:agent:acme:carol \
    --terms "Deliver the Q3 dataset" --deadline 72h --value "500 USD"`

const proposeShortDesc string = "Propose an agreement"

type proposeCommander struct {
	to            string
	arbiter       string
	terms         string
	deadline      string
	value         string
	disputeWindow time.Duration
}

func newProposeCmd() *cobra.Command {
	cmder := &proposeCommander{}

	cmd := &cobra.Command{
		Use:   "propose",
		Short: proposeShortDesc,
		Long:  proposeLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd)
		},
	}

	session.AddFlags(cmd, actionFlags...)
	cmd.Flags().StringVar(&cmder.to, "to", "", "Counterparty DID")
	cmd.Flags().StringVar(&cmder.arbiter, "arbiter", "", "Arbiter DID")
	cmd.Flags().StringVar(&cmder.terms, "terms", "", "Agreement terms")
	cmd.Flags().StringVar(&cmder.deadline, "deadline", "", "Deadline as RFC 3339 or a duration from now")
	cmd.Flags().StringVar(&cmder.value, "value", "", "Stated value of the agreement")
	cmd.Flags().DurationVar(&cmder.disputeWindow, "dispute-window", 0, "How long after fulfillment a dispute may be opened (0 = no limit)")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("arbiter")
	_ = cmd.MarkFlagRequired("terms")

	return cmd
}

func (c *proposeCommander) run(cmd *cobra.Command) error {
	deadline, err := parseDeadline(c.deadline, time.Now())
	if err != nil {
		return err
	}

	s, err := session.Open(cmd, actionFlags...)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.Actor()
	if err != nil {
		return err
	}

	p, err := s.Propose(cmd.Context(), app.ProposeInput{
		Proposer:      actor,
		Counterparty:  c.to,
		Arbiter:       c.arbiter,
		Terms:         c.terms,
		Deadline:      deadline,
		Value:         c.value,
		DisputeWindow: c.disputeWindow,
	})
	if err != nil {
		return err
	}
	return s.Print(p, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Proposed %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(p.ID))
		session.RenderProposal(w, p)
	})
}

// parseDeadline accepts an RFC 3339 timestamp or a duration relative to now.
// An empty value means no deadline.
func parseDeadline(v string, now time.Time) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return &t, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, errs.Validation("--deadline %q is neither RFC 3339 nor a duration", v)
	}
	if d <= 0 {
		return nil, errs.Validation("--deadline must be in the future")
	}
	t := now.Add(d).UTC().Truncate(time.Second)
	return &t, nil
}

const acceptLongDesc string = `Accept a pending proposal addressed to the acting identity. The acceptance
signs the same terms hash as the proposer, and the agreement is formed.`

const acceptShortDesc string = "Accept a proposal"

func newAcceptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accept <proposal-id>",
		Short: acceptShortDesc,
		Long:  acceptLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccept(cmd, args[0])
		},
	}

	session.AddFlags(cmd, actionFlags...)

	return cmd
}

func runAccept(cmd *cobra.Command, proposalID string) error {
	s, err := session.Open(cmd, actionFlags...)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.Actor()
	if err != nil {
		return err
	}
	a, err := s.Accept(cmd.Context(), proposalID, actor)
	if err != nil {
		return err
	}
	return s.Print(a, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Agreement %s formed\n", cliui.SuccessMark, cliui.KeyStyle.Render(a.ID))
		session.RenderAgreement(w, a)
	})
}

const rejectShortDesc string = "Reject a proposal"

func newRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <proposal-id>",
		Short: rejectShortDesc,
		Long:  "Reject a pending proposal addressed to the acting identity.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReject(cmd, args[0], reason)
		},
	}

	session.AddFlags(cmd, actionFlags...)
	cmd.Flags().StringVar(&reason, "reason", "", "Why the proposal is rejected")

	return cmd
}

func runReject(cmd *cobra.Command, proposalID, reason string) error {
	s, err := session.Open(cmd, actionFlags...)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.Actor()
	if err != nil {
		return err
	}
	p, err := s.Reject(cmd.Context(), proposalID, actor, reason)
	if err != nil {
		return err
	}
	return s.Print(p, func(w io.Writer) { session.RenderProposal(w, p) })
}

// evidenceTypeUsage lists the accepted --type values.
var evidenceTypeUsage = fmt.Sprintf("Evidence type (%s, %s, %s)", pao.EvidenceDocument, pao.EvidenceScreenshot, pao.EvidenceWitness)
