// Package configcmder provides the config command for managing persistent
// accord configuration stored in the .accord/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/config"
)

const configLongDesc string = `Manage persistent accord configuration.

Configuration is stored as config.toml in the .accord/ directory and provides
default values for command flags. CLI flags and ACCORD_* environment
variables always take precedence over config file values.

Keys use dotted notation matching the TOML section structure:
  agent.did,
  storage.driver, storage.sqlite_path, storage.postgres_dsn, storage.libsql_url,
  keystore.dir,
  protocol.max_skew, protocol.proposal_ttl, protocol.evidence_window,
  api.listen,
  registry.dir, registry.url, registry.token,
  anchor.provider, anchor.url, anchor.policy,
  eventstream.provider, eventstream.brokers, eventstream.topic

Use subcommands to get, set, or list configuration values:
  accord config set <key> <value>    Set a configuration value
  accord config get <key>            Get a configuration value
  accord config list                 List all configuration values

Examples:
  accord config set agent.did did:agent:acme:alice
  accord config set protocol.proposal_ttl 48h
  accord config get storage.driver
  accord config list`

const configShortDesc string = "Manage persistent accord configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func printTarget(w io.Writer, cfger *config.Configer) {
	if target := cfger.GetTarget(); target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
		return
	}
	fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
}

// display masks secrets unless reveal is set.
func display(key, value string, reveal bool) string {
	if value != "" && !reveal && config.IsSecretKey(key) {
		return config.Mask(value)
	}
	return value
}
