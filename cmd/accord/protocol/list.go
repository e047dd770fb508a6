package protocolcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
	"github.com/papercomputeco/accord/pkg/utils"
)

type listFlags struct {
	party string
	state string
	mine  bool
}

func (f *listFlags) add(cmd *cobra.Command, stateUsage string) {
	cmd.Flags().StringVar(&f.party, "party", "", "Only records involving this DID")
	cmd.Flags().StringVar(&f.state, "state", "", stateUsage)
	cmd.Flags().BoolVar(&f.mine, "mine", false, "Only records involving the acting identity")
}

func (f *listFlags) partyFor(s *session.Session) (string, error) {
	if !f.mine {
		return f.party, nil
	}
	return s.Actor()
}

func newProposalsCmd() *cobra.Command {
	f := &listFlags{}

	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "List proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProposals(cmd, f)
		},
	}

	session.AddFlags(cmd)
	f.add(cmd, "Only proposals in this status (pending, accepted, rejected, expired)")

	return cmd
}

func runProposals(cmd *cobra.Command, f *listFlags) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	party, err := f.partyFor(s)
	if err != nil {
		return err
	}
	ps, err := s.Agreements.ListProposals(cmd.Context(), storage.ProposalFilter{
		Party:  party,
		Status: pao.ProposalStatus(f.state),
	})
	if err != nil {
		return err
	}
	return s.Print(ps, func(w io.Writer) {
		if len(ps) == 0 {
			fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("No proposals."))
			return
		}
		for _, p := range ps {
			fmt.Fprintf(w, "  %s  %s  %s -> %s  %s\n",
				cliui.KeyStyle.Render(p.ID), cliui.Badge(string(p.Status)),
				p.Proposer, p.Counterparty,
				cliui.DimStyle.Render(utils.Truncate(p.Terms, 40)),
			)
		}
	})
}

func newAgreementsCmd() *cobra.Command {
	f := &listFlags{}

	cmd := &cobra.Command{
		Use:   "agreements",
		Short: "List agreements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgreements(cmd, f)
		},
	}

	session.AddFlags(cmd)
	f.add(cmd, "Only agreements in this state (accepted, fulfilled, disputed, ruled)")

	return cmd
}

func runAgreements(cmd *cobra.Command, f *listFlags) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	party, err := f.partyFor(s)
	if err != nil {
		return err
	}
	as, err := s.Agreements.ListAgreements(cmd.Context(), storage.AgreementFilter{
		Party: party,
		State: pao.AgreementState(f.state),
	})
	if err != nil {
		return err
	}
	return s.Print(as, func(w io.Writer) {
		if len(as) == 0 {
			fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("No agreements."))
			return
		}
		for _, a := range as {
			fmt.Fprintf(w, "  %s  %s  %s  %s\n",
				cliui.KeyStyle.Render(a.ID), cliui.Badge(string(a.State)),
				strings.Join(a.Parties, ", "),
				cliui.DimStyle.Render(utils.Truncate(a.Terms, 40)),
			)
		}
	})
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <proposal-or-agreement-id>",
		Short: "Show a proposal or agreement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args[0])
		},
	}

	session.AddFlags(cmd)

	return cmd
}

func runShow(cmd *cobra.Command, id string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if a, err := s.Agreements.GetAgreement(cmd.Context(), id); err == nil {
		return s.Print(a, func(w io.Writer) { session.RenderAgreement(w, a) })
	}
	p, err := s.Agreements.GetProposal(cmd.Context(), id)
	if err != nil {
		return err
	}
	return s.Print(p, func(w io.Writer) { session.RenderProposal(w, p) })
}

func newCaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case <case-id>",
		Short: "Show an arbitration case and its evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCase(cmd, args[0])
		},
	}

	session.AddFlags(cmd)

	return cmd
}

func runCase(cmd *cobra.Command, id string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	c, err := s.Arbitration.GetCase(cmd.Context(), id)
	if err != nil {
		return err
	}
	return s.Print(c, func(w io.Writer) { session.RenderCase(w, c) })
}
