package protocolcmder

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
)

// readEvidence returns v, or the contents of the file named by "@path".
func readEvidence(v string) (string, error) {
	path, ok := strings.CutPrefix(v, "@")
	if !ok {
		return v, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, err, "reading evidence")
	}
	return string(b), nil
}

type evidenceFlags struct {
	evidence string
	typ      string
}

func (f *evidenceFlags) add(cmd *cobra.Command, usage string) {
	cmd.Flags().StringVar(&f.evidence, "evidence", "", usage+" (prefix with @ to read a file)")
	cmd.Flags().StringVar(&f.typ, "type", string(pao.EvidenceDocument), evidenceTypeUsage)
}

const fulfillLongDesc string = `Claim that an accepted agreement was fulfilled. Either party may claim
fulfillment; the other party can still open arbitration within the
agreement's dispute window.`

const fulfillShortDesc string = "Claim fulfillment of an agreement"

func newFulfillCmd() *cobra.Command {
	ev := &evidenceFlags{}

	cmd := &cobra.Command{
		Use:   "fulfill <agreement-id>",
		Short: fulfillShortDesc,
		Long:  fulfillLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFulfill(cmd, args[0], ev)
		},
	}

	session.AddFlags(cmd, actionFlags...)
	ev.add(cmd, "Evidence of delivery")

	return cmd
}

func runFulfill(cmd *cobra.Command, agreementID string, ev *evidenceFlags) error {
	evidence, err := readEvidence(ev.evidence)
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
	a, err := s.Fulfill(cmd.Context(), agreementID, actor, evidence, ev.typ)
	if err != nil {
		return err
	}
	return s.Print(a, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Agreement %s fulfilled\n", cliui.SuccessMark, a.ID)
		session.RenderAgreement(w, a)
	})
}

const arbitrateLongDesc string = `Open an arbitration case over an agreement. Only a party may open a case;
the other party becomes the respondent and the agreement's arbiter rules.

Reasons: non_delivery, partial_delivery, quality, deadline_breach,
repudiation, other.`

const arbitrateShortDesc string = "Dispute an agreement"

func newArbitrateCmd() *cobra.Command {
	ev := &evidenceFlags{}
	var reason string

	cmd := &cobra.Command{
		Use:   "arbitrate <agreement-id>",
		Short: arbitrateShortDesc,
		Long:  arbitrateLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArbitrate(cmd, args[0], pao.BreachReason(reason), ev)
		},
	}

	session.AddFlags(cmd, actionFlags...)
	cmd.Flags().StringVar(&reason, "reason", "", "Breach reason")
	ev.add(cmd, "Initial evidence")
	_ = cmd.MarkFlagRequired("reason")

	return cmd
}

func runArbitrate(cmd *cobra.Command, agreementID string, reason pao.BreachReason, ev *evidenceFlags) error {
	if !reason.Valid() {
		return errs.Validation("unknown breach reason %q", reason)
	}
	evidence, err := readEvidence(ev.evidence)
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
	c, err := s.Arbitrate(cmd.Context(), agreementID, actor, reason, evidence, ev.typ)
	if err != nil {
		return err
	}
	return s.Print(c, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Case %s opened\n", cliui.SuccessMark, cliui.KeyStyle.Render(c.ID))
		session.RenderCase(w, c)
	})
}

const submitLongDesc string = `Submit evidence to an open case. Parties may submit until the evidence
deadline; the arbiter may add evidence until the ruling.`

const submitShortDesc string = "Submit evidence to a case"

func newSubmitCmd() *cobra.Command {
	ev := &evidenceFlags{}

	cmd := &cobra.Command{
		Use:   "submit <case-id>",
		Short: submitShortDesc,
		Long:  submitLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(cmd, args[0], ev)
		},
	}

	session.AddFlags(cmd, actionFlags...)
	ev.add(cmd, "Evidence content")
	_ = cmd.MarkFlagRequired("evidence")

	return cmd
}

func runSubmit(cmd *cobra.Command, caseID string, ev *evidenceFlags) error {
	evidence, err := readEvidence(ev.evidence)
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
	c, err := s.Submit(cmd.Context(), caseID, actor, evidence, ev.typ)
	if err != nil {
		return err
	}
	return s.Print(c, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Evidence added to %s\n", cliui.SuccessMark, c.ID)
		session.RenderCase(w, c)
	})
}

const rulingLongDesc string = `Issue the arbiter's ruling on a case. Only the case's arbiter may rule,
and a case is ruled once.

Decisions: claimant, respondent, split.`

const rulingShortDesc string = "Rule on a case"

func newRulingCmd() *cobra.Command {
	var decision, reasoning string

	cmd := &cobra.Command{
		Use:   "ruling <case-id>",
		Short: rulingShortDesc,
		Long:  rulingLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuling(cmd, args[0], pao.Decision(decision), reasoning)
		},
	}

	session.AddFlags(cmd, actionFlags...)
	cmd.Flags().StringVar(&decision, "decision", "", "Ruling decision (claimant, respondent, split)")
	cmd.Flags().StringVar(&reasoning, "reasoning", "", "Reasoning for the decision")
	_ = cmd.MarkFlagRequired("decision")
	_ = cmd.MarkFlagRequired("reasoning")

	return cmd
}

func runRuling(cmd *cobra.Command, caseID string, decision pao.Decision, reasoning string) error {
	if !decision.Valid() {
		return errs.Validation("unknown decision %q", decision)
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
	c, err := s.Rule(cmd.Context(), caseID, actor, decision, reasoning)
	if err != nil {
		return err
	}
	return s.Print(c, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Ruled %s on %s\n", cliui.SuccessMark, cliui.Badge(string(decision)), c.ID)
		session.RenderCase(w, c)
	})
}
