// Package identitycmder provides the identity commands: genesis, rotation,
// verification, controller binding, recovery, and publishing.
package identitycmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
)

const identityLongDesc string = `Manage did:agent identities and their key chains.

Every identity starts with a genesis key. Rotations are signed by the
outgoing key, so anyone holding the genesis key and the published key
history can replay the chain. A verified controller account (for example a
GitHub handle) can recover an identity whose key was compromised.

Commands act as the identity given by --as, ACCORD_AGENT_DID, or agent.did
in config.toml unless a DID is passed as an argument.`

const identityShortDesc string = "Manage agent identities"

func NewIdentityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identity",
		Short: identityShortDesc,
		Long:  identityLongDesc,
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newRotateCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newSignCmd())
	cmd.AddCommand(newSetControllerCmd())
	cmd.AddCommand(newVerifyControllerCmd())
	cmd.AddCommand(newRecoverCmd())
	cmd.AddCommand(newCompromiseCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newResolveCmd())

	return cmd
}

// subject returns the DID argument, or the acting identity when absent.
func subject(s *session.Session, args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	return s.Actor()
}
