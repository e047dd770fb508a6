package identitycmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/app"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/config"
)

const publishLongDesc string = `Publish the DID document of an identity to a registry.

Targets:
  local  Write <registry dir>/<did>.json (default)
  http   POST to registry.url`

const publishShortDesc string = "Publish a DID document"

func newPublishCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "publish [did]",
		Short: publishShortDesc,
		Long:  publishLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPublish(cmd, args, target)
		},
	}

	session.AddFlags(cmd, config.FlagRegistryURL)
	cmd.Flags().StringVar(&target, "target", app.TargetLocal, "Registry target (local, http)")

	return cmd
}

func runPublish(cmd *cobra.Command, args []string, target string) error {
	s, err := session.Open(cmd, config.FlagRegistryURL)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := subject(s, args)
	if err != nil {
		return err
	}

	res, err := s.Identity.Publish(cmd.Context(), sub, target)
	if err != nil {
		return err
	}
	return s.Print(res, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Published %s\n\n", cliui.SuccessMark, sub)
		cliui.Field(w, "target", res.Target)
		cliui.Field(w, "location", res.Location)
		fmt.Fprintln(w)
	})
}
