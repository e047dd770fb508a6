package identitycmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/identity"
)

const recoverLongDesc string = `Recover an identity through its verified controller.

Recovery is two steps. Run without --proof-url to print the recovery
statement; publish it from the controller account. Then run again with
--proof-url to open a new epoch with a fresh key. The compromised key (the
current key, or --key) and every later key of the epoch are retired.
Signatures they made before the recovery stay verifiable.

Recovery cannot be undone and asks for confirmation unless --yes is set.`

const recoverShortDesc string = "Recover an identity through its controller"

type recoverCommander struct {
	proofURL string
	keyID    string
	yes      bool
}

func newRecoverCmd() *cobra.Command {
	cmder := &recoverCommander{}

	cmd := &cobra.Command{
		Use:   "recover [did]",
		Short: recoverShortDesc,
		Long:  recoverLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().StringVar(&cmder.proofURL, "proof-url", "", "URL of the published recovery statement")
	cmd.Flags().StringVar(&cmder.keyID, "key", "", "Earliest compromised key id (default: the current key)")
	cmd.Flags().BoolVarP(&cmder.yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func (c *recoverCommander) run(cmd *cobra.Command, args []string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := subject(s, args)
	if err != nil {
		return err
	}

	if c.proofURL == "" {
		statement, err := s.Identity.RecoveryStatement(cmd.Context(), sub)
		if err != nil {
			return err
		}
		return s.Print(map[string]string{"did": sub, "statement": statement}, func(w io.Writer) {
			fmt.Fprintf(w, "\n  Publish this statement from the controller account, then rerun with --proof-url:\n\n%s\n\n", statement)
		})
	}

	if !c.yes && !cliui.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Retire the compromised keys of %s and open a new epoch?", sub)) {
		return errs.Validation("recovery of %s was not confirmed", sub)
	}

	id, err := s.Identity.Recover(cmd.Context(), identity.RecoverRequest{
		Subject:          sub,
		ProofURL:         c.proofURL,
		Confirm:          true,
		CompromisedKeyID: c.keyID,
	})
	if err != nil {
		return err
	}

	return s.Print(id, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Recovered into epoch %d with key %s\n", cliui.SuccessMark, id.Epoch, cliui.KeyStyle.Render(id.CurrentKeyID))
		session.RenderIdentity(w, id)
	})
}

const compromiseLongDesc string = `Report the acting identity compromised. Signing and rotation are refused
until the controller recovers it with "accord identity recover".`

const compromiseShortDesc string = "Report an identity compromised"

func newCompromiseCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "compromise [did]",
		Short: compromiseShortDesc,
		Long:  compromiseLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompromise(cmd, args, yes)
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}

func runCompromise(cmd *cobra.Command, args []string, yes bool) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := subject(s, args)
	if err != nil {
		return err
	}
	if !yes && !cliui.Confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("Mark %s compromised? It cannot sign until recovered.", sub)) {
		return errs.Validation("compromise report for %s was not confirmed", sub)
	}

	id, err := s.Identity.ReportCompromise(cmd.Context(), sub)
	if err != nil {
		return err
	}
	return s.Print(id, func(w io.Writer) { session.RenderIdentity(w, id) })
}
