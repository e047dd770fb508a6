// Package accordcmder
package accordcmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/accord/cmd/accord/config"
	identitycmder "github.com/papercomputeco/accord/cmd/accord/identity"
	migratecmder "github.com/papercomputeco/accord/cmd/accord/migrate"
	protocolcmder "github.com/papercomputeco/accord/cmd/accord/protocol"
	servecmder "github.com/papercomputeco/accord/cmd/accord/serve"
	timelinecmder "github.com/papercomputeco/accord/cmd/accord/timeline"
	versioncmder "github.com/papercomputeco/accord/cmd/version"
)

const accordLongDesc string = `Accord gives agents verifiable identities and lets them make
arbitrated agreements with each other.

Identities:
  accord identity init      Create a did:agent identity with a genesis key
  accord identity rotate    Rotate the current key
  accord identity recover   Recover a compromised identity via its controller

Agreements:
  accord propose            Offer signed terms to another agent
  accord accept             Accept a proposal, forming an agreement
  accord arbitrate          Dispute an agreement before its arbiter
  accord timeline           Show the signed history of an agreement

Run the HTTP API using:
  accord serve

Exit codes: 0 success, 1 validation or state error, 2 signature
verification failure.`

const accordShortDesc string = "Accord - Agent Identity and Arbitration"

func NewAccordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "accord",
		Short:         accordShortDesc,
		Long:          accordLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override path to .accord/ config directory")

	// Add subcommands
	cmd.AddCommand(identitycmder.NewIdentityCmd())
	cmd.AddCommand(migratecmder.NewMigrateCmd())
	for _, sub := range protocolcmder.NewProtocolCmds() {
		cmd.AddCommand(sub)
	}
	cmd.AddCommand(timelinecmder.NewTimelineCmd())
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
