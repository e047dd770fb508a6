package identitycmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
)

const verifyLongDesc string = `Verify an identity.

Without flags, replay the key chain from the genesis key and report every
link. With --message and --signature, verify that the signature over the
message was made by the key that was current when it was signed; --key
additionally pins the expected key id.

Exits with status 2 when a chain link or signature does not verify.

Examples:
  accord identity verify did:agent:acme:alice
  accord identity verify did:agent:acme:alice --message "hello" --signature ed25519:...:1767225600000`

const verifyShortDesc string = "Verify a key chain or signature"

type verifyCommander struct {
	message   string
	signature string
	key       string
}

func newVerifyCmd() *cobra.Command {
	cmder := &verifyCommander{}

	cmd := &cobra.Command{
		Use:   "verify [did]",
		Short: verifyShortDesc,
		Long:  verifyLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().StringVar(&cmder.message, "message", "", "Signed message")
	cmd.Flags().StringVar(&cmder.signature, "signature", "", "Signature envelope to verify")
	cmd.Flags().StringVar(&cmder.key, "key", "", "Require the signature to come from this key id")

	return cmd
}

func (c *verifyCommander) run(cmd *cobra.Command, args []string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := subject(s, args)
	if err != nil {
		return err
	}

	if c.signature == "" {
		report, err := s.Identity.VerifyChain(cmd.Context(), sub)
		if report == nil {
			return err
		}
		if perr := s.Print(report, func(w io.Writer) { session.RenderChain(w, report) }); perr != nil {
			return perr
		}
		return err
	}

	v, err := s.Identity.VerifyMessage(cmd.Context(), sub, c.message, c.signature, c.key)
	if err != nil {
		return err
	}
	return s.Print(v, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Signed by %s%s at %s\n", cliui.SuccessMark, v.Subject, v.KeyID, v.SignedAt.UTC().Format("2006-01-02 15:04:05Z"))
		if v.Historical {
			fmt.Fprintf(w, "  %s\n", cliui.DimStyle.Render("The signing key has since been rotated."))
		}
		if v.Compromised {
			fmt.Fprintf(w, "  %s\n", cliui.WarnStyle.Render("The signing key was later retired as compromised; the signature predates the recovery."))
		}
		fmt.Fprintln(w)
	})
}
