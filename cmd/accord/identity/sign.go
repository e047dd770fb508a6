package identitycmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
)

const signLongDesc string = `Sign a message with the current key and print the signature envelope
(ed25519:<signature>:<unix-ms>).

Use this to sign requests for the HTTP API, which verifies but never holds
private keys.`

const signShortDesc string = "Sign a message with the current key"

func newSignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign <message>",
		Short: signShortDesc,
		Long:  signLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSign(cmd, args[0])
		},
	}

	session.AddFlags(cmd)

	return cmd
}

func runSign(cmd *cobra.Command, message string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.Actor()
	if err != nil {
		return err
	}
	sig, err := s.Identity.Sign(cmd.Context(), actor, message)
	if err != nil {
		return err
	}

	out := map[string]string{"subject": actor, "signature": sig.String()}
	return s.Print(out, func(w io.Writer) { fmt.Fprintln(w, sig.String()) })
}
