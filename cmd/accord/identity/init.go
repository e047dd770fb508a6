package identitycmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/config"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/identity"
)

const initLongDesc string = `Create a did:agent:<namespace>:<name> identity with a fresh Ed25519
genesis key. The private key is sealed in the keystore; only the public key
enters the identity record.

Bind a recovery controller at genesis with --controller platform:handle,
then verify it with "accord identity set-controller" and
"accord identity verify-controller".

Pass --legacy <agent-id> instead to register a pre-DID identity that signs
with the legacy scheme until it is migrated with "accord migrate".

Examples:
  accord identity init acme alice --use
  accord identity init acme bob --controller github:bob-dev
  accord identity init --legacy agent-7`

const initShortDesc string = "Create an identity"

type initCommander struct {
	controller string
	legacy     string
	force      bool
	use        bool
}

func newInitCmd() *cobra.Command {
	cmder := &initCommander{}

	cmd := &cobra.Command{
		Use:   "init <namespace> <name>",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			if cmder.legacy != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().StringVar(&cmder.controller, "controller", "", "Recovery controller as platform:handle")
	cmd.Flags().StringVar(&cmder.legacy, "legacy", "", "Register a legacy agent id instead of a DID")
	cmd.Flags().BoolVar(&cmder.force, "force", false, "Replace an existing identity with the same DID")
	cmd.Flags().BoolVar(&cmder.use, "use", false, "Save the new identity as agent.did in config.toml")

	return cmd
}

func (c *initCommander) run(cmd *cobra.Command, args []string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	var id *did.Identity
	if c.legacy != "" {
		id, err = s.Identity.InitLegacy(cmd.Context(), c.legacy)
	} else {
		req := identity.InitRequest{Namespace: args[0], Name: args[1], Force: c.force}
		if c.controller != "" {
			platform, handle, ok := strings.Cut(c.controller, ":")
			if !ok {
				return errs.Validation("--controller must be platform:handle, got %q", c.controller)
			}
			req.ControllerPlatform, req.ControllerHandle = platform, handle
		}
		id, err = s.Identity.Init(cmd.Context(), req)
	}
	if err != nil {
		return err
	}

	if c.use {
		configDir, _ := cmd.Flags().GetString("config-dir")
		cfger, err := config.NewConfiger(configDir)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfger.SetConfigValue("agent.did", id.Subject()); err != nil {
			return err
		}
	}

	return s.Print(id, func(w io.Writer) {
		fmt.Fprintf(w, "\n  %s Created %s\n", cliui.SuccessMark, cliui.KeyStyle.Render(id.Subject()))
		session.RenderIdentity(w, id)
		if c.use {
			fmt.Fprintf(w, "  %s\n\n", cliui.DimStyle.Render("Saved as agent.did"))
		}
	})
}
