// Package protocolcmder provides the top-level agreement commands: propose,
// accept, reject, fulfill, arbitrate, submit, ruling, and their listings.
package protocolcmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/pkg/config"
)

// actionFlags are bound on every command that changes protocol state, so
// events and evidence anchors reach the configured sinks.
var actionFlags = []string{
	config.FlagEventStream,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
	config.FlagAnchorProvider,
	config.FlagAnchorURL,
}

func NewProtocolCmds() []*cobra.Command {
	return []*cobra.Command{
		newProposeCmd(),
		newAcceptCmd(),
		newRejectCmd(),
		newFulfillCmd(),
		newArbitrateCmd(),
		newSubmitCmd(),
		newRulingCmd(),
		newProposalsCmd(),
		newAgreementsCmd(),
		newShowCmd(),
		newCaseCmd(),
	}
}
