package identitycmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
)

const setControllerLongDesc string = `Bind a human controller account to the acting identity and print the
proof text to publish from that account (for example as a public gist).

The binding starts unverified. Once the proof is public, run
"accord identity verify-controller <url>".

Example:
  accord identity set-controller github alice-dev`

const setControllerShortDesc string = "Bind a recovery controller"

func newSetControllerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-controller <platform> <handle>",
		Short: setControllerShortDesc,
		Long:  setControllerLongDesc,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetController(cmd, args[0], args[1])
		},
	}

	session.AddFlags(cmd)

	return cmd
}

func runSetController(cmd *cobra.Command, platform, handle string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.Actor()
	if err != nil {
		return err
	}
	id, err := s.Identity.SetController(cmd.Context(), actor, platform, handle)
	if err != nil {
		return err
	}
	proof, err := s.Identity.ControllerProof(cmd.Context(), actor)
	if err != nil {
		return err
	}

	out := map[string]string{"did": id.DID, "controller": id.Controller.Platform + ":" + id.Controller.Handle, "proof": proof}
	return s.Print(out, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Controller %s bound (unverified)\n\n", cliui.SuccessMark, cliui.KeyStyle.Render(out["controller"]))
		fmt.Fprintf(w, "  Publish this text from %s, then run verify-controller:\n\n", out["controller"])
		fmt.Fprintf(w, "%s\n\n", proof)
	})
}

const verifyControllerLongDesc string = `Fetch the controller proof at <url> and check that it carries a signature
by the current key over the binding challenge. The url must belong to the
controller handle.`

const verifyControllerShortDesc string = "Verify a controller proof"

func newVerifyControllerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-controller <url>",
		Short: verifyControllerShortDesc,
		Long:  verifyControllerLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyController(cmd, args[0])
		},
	}

	session.AddFlags(cmd)

	return cmd
}

func runVerifyController(cmd *cobra.Command, url string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	actor, err := s.Actor()
	if err != nil {
		return err
	}
	id, err := s.Identity.VerifyController(cmd.Context(), actor, url)
	if err != nil {
		return err
	}

	return s.Print(id, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Controller %s:%s verified\n", cliui.SuccessMark, id.Controller.Platform, id.Controller.Handle)
		session.RenderIdentity(w, id)
	})
}
