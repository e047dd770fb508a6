// Package versioncmder
package versioncmder

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/storage/libsql"
	"github.com/papercomputeco/accord/pkg/utils"
)

type VersionCommander struct {
	out io.Writer
}

func NewVersionCmd() *cobra.Command {
	cmder := &VersionCommander{}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "displays version",
		Long:  "displays the version of this CLI and the storage drivers it was built with",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmder.out = cmd.OutOrStdout()
			return cmder.run()
		},
	}

	return cmd
}

func (c *VersionCommander) run() error {
	drivers := "sqlite, postgres, memory"
	if libsql.Available {
		drivers += ", libsql"
	}

	fmt.Fprintln(c.out)
	cliui.Field(c.out, "version", utils.Version)
	cliui.Field(c.out, "sha", utils.Sha)
	cliui.Field(c.out, "built at", utils.Buildtime)
	cliui.Field(c.out, "go", runtime.Version())
	cliui.Field(c.out, "storage", drivers)
	fmt.Fprintln(c.out)
	return nil
}
