package identitycmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/did"
)

const rotateLongDesc string = `Rotate the current key. The outgoing key signs a rotation record that
commits to the new public key; the new key becomes current.

Signatures made by earlier keys stay verifiable for messages signed while
those keys were current.

Reasons: scheduled (default), compromise, device_change.`

const rotateShortDesc string = "Rotate the current key"

func newRotateCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "rotate [did]",
		Short: rotateShortDesc,
		Long:  rotateLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRotate(cmd, args, reason)
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().StringVar(&reason, "reason", string(did.ReasonScheduled), "Rotation reason (scheduled, compromise, device_change)")

	return cmd
}

func runRotate(cmd *cobra.Command, args []string, reason string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := subject(s, args)
	if err != nil {
		return err
	}

	var id *did.Identity
	err = cliui.Step(cmd.ErrOrStderr(), "Rotating key", func() error {
		id, err = s.Identity.Rotate(cmd.Context(), sub, did.Reason(reason))
		return err
	})
	if err != nil {
		return err
	}

	return s.Print(id, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Current key is now %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(id.CurrentKeyID))
		session.RenderIdentity(w, id)
	})
}
