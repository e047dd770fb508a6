// Package session opens the configured accord services for a command. Flags
// are merged with ACCORD_* environment variables, config.toml, and defaults
// through viper before anything is opened.
package session

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/pkg/app"
	"github.com/papercomputeco/accord/pkg/config"
	"github.com/papercomputeco/accord/pkg/dotdir"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/logger"
)

const jsonFlag = "json"

// Session is an opened App plus the command's output settings.
type Session struct {
	*app.App

	Out  io.Writer
	JSON bool
}

// AddFlags registers the storage flags, any extra registry flags, and the
// --json output switch on cmd.
func AddFlags(cmd *cobra.Command, extra ...string) {
	config.AddStringFlags(cmd, config.Flags, slices.Concat(config.StorageFlags, extra))
	cmd.Flags().Bool(jsonFlag, false, "Print machine readable JSON")
}

// Load resolves the effective configuration and .accord/ paths for cmd.
func Load(cmd *cobra.Command, extra ...string) (*config.Config, dotdir.Paths, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")

	v, err := config.InitViper(configDir)
	if err != nil {
		return nil, dotdir.Paths{}, err
	}
	config.BindRegisteredFlags(v, cmd, config.Flags, slices.Concat(config.StorageFlags, extra))

	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, dotdir.Paths{}, errs.Wrap(errs.KindValidation, err, "invalid configuration")
	}

	paths, err := dotdir.NewManager().Paths(v.GetString(config.HomeKey))
	if err != nil {
		return nil, dotdir.Paths{}, err
	}
	return cfg, paths, nil
}

// Open loads configuration and wires the services. Callers must Close the
// session.
func Open(cmd *cobra.Command, extra ...string) (*Session, error) {
	cfg, paths, err := Load(cmd, extra...)
	if err != nil {
		return nil, err
	}

	a, err := app.Open(cmd.Context(), cfg, paths, app.WithLogger(CLILogger(cmd)))
	if err != nil {
		return nil, err
	}

	asJSON, _ := cmd.Flags().GetBool(jsonFlag)
	return &Session{App: a, Out: cmd.OutOrStdout(), JSON: asJSON}, nil
}

// CLILogger returns the pretty stderr logger commands share. Only warnings
// are shown unless --debug is set.
func CLILogger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logger.New(
		logger.WithFormat(logger.FormatPretty),
		logger.WithLevel(logger.Level(debug, slog.LevelWarn)),
		logger.WithWriter(cmd.ErrOrStderr()),
	)
}

// Actor returns the identity the command acts as.
func (s *Session) Actor() (string, error) {
	if s.Config.Agent.DID == "" {
		return "", errs.Validation("no acting identity; pass --as or set agent.did")
	}
	return s.Config.Agent.DID, nil
}

// Print writes v as indented JSON when --json is set, otherwise calls human.
func (s *Session) Print(v any, human func(w io.Writer)) error {
	if !s.JSON {
		human(s.Out)
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(s.Out, string(b))
	return err
}
