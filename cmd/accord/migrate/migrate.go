// Package migratecmder provides the command that moves a legacy identity
// onto a DID key chain.
package migratecmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
)

const migrateLongDesc string = `Migrate a legacy agent identity to did:agent:<namespace>:<name>.

The new DID gets its own genesis key. Envelopes signed under the legacy
scheme keep verifying, and the legacy record points at the new DID.

Example:
  accord migrate agent-7 --to-did acme:alice`

const migrateShortDesc string = "Migrate a legacy identity to a DID"

type migrateCommander struct {
	toDID string
}

func NewMigrateCmd() *cobra.Command {
	cmder := &migrateCommander{}

	cmd := &cobra.Command{
		Use:   "migrate <legacy-id>",
		Short: migrateShortDesc,
		Long:  migrateLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().StringVar(&cmder.toDID, "to-did", "", "Target as namespace:name or a full did:agent DID")
	_ = cmd.MarkFlagRequired("to-did")

	return cmd
}

func (c *migrateCommander) run(cmd *cobra.Command, legacyID string) error {
	namespace, name, err := c.target()
	if err != nil {
		return err
	}

	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	id, err := s.Identity.Migrate(cmd.Context(), legacyID, namespace, name)
	if err != nil {
		return err
	}
	return s.Print(id, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Migrated %s to %s\n", cliui.SuccessMark, legacyID, cliui.KeyStyle.Render(id.DID))
		session.RenderIdentity(w, id)
	})
}

func (c *migrateCommander) target() (string, string, error) {
	if namespace, name, err := did.Parse(c.toDID); err == nil {
		return namespace, name, nil
	}
	namespace, name, err := did.Parse("did:agent:" + c.toDID)
	if err != nil {
		return "", "", errs.Wrap(errs.KindValidation, err, "--to-did")
	}
	return namespace, name, nil
}
