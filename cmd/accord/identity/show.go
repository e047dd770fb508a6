package identitycmder

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
)

const showLongDesc string = `Show an identity: status, epoch, controller, and the full key history.

With --document, print the DID document that "accord identity publish"
would send to a registry.`

const showShortDesc string = "Show an identity"

func newShowCmd() *cobra.Command {
	var document bool

	cmd := &cobra.Command{
		Use:   "show [did]",
		Short: showShortDesc,
		Long:  showLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, args, document)
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().BoolVar(&document, "document", false, "Print the DID document as JSON")

	return cmd
}

func runShow(cmd *cobra.Command, args []string, document bool) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	sub, err := subject(s, args)
	if err != nil {
		return err
	}

	if document {
		doc, err := s.Identity.Document(cmd.Context(), sub)
		if err != nil {
			return err
		}
		s.JSON = true
		return s.Print(doc, nil)
	}

	id, err := s.Identity.Show(cmd.Context(), sub)
	if err != nil {
		return err
	}
	return s.Print(id, func(w io.Writer) { session.RenderIdentity(w, id) })
}
