// Package timelinecmder provides the command that prints the signed history
// of an agreement.
package timelinecmder

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
)

const timelineLongDesc string = `Show the audit timeline of an agreement: every signed transition of its
proposal, the agreement, and its arbitration case, oldest first.

<id> may name the agreement or the proposal it came from. A proposal that
never formed an agreement still has a timeline.

Examples:
  accord timeline agr_01J...
  accord timeline agr_01J... --markdown
  accord timeline agr_01J... --json`

const timelineShortDesc string = "Show the history of an agreement"

type timelineCommander struct {
	markdown bool
	raw      bool
}

func NewTimelineCmd() *cobra.Command {
	cmder := &timelineCommander{}

	cmd := &cobra.Command{
		Use:   "timeline <id>",
		Short: timelineShortDesc,
		Long:  timelineLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args[0])
		},
	}

	session.AddFlags(cmd)
	cmd.Flags().BoolVar(&cmder.markdown, "markdown", false, "Render the timeline as Markdown")
	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "With --markdown, print the Markdown source instead of rendering it")

	return cmd
}

func (c *timelineCommander) run(cmd *cobra.Command, id string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.Timeline(cmd.Context(), id)
	if err != nil {
		return err
	}

	if !c.markdown {
		return s.Print(t, func(w io.Writer) { fmt.Fprint(w, t.Text()) })
	}
	if c.raw || s.JSON {
		_, err := fmt.Fprint(s.Out, t.Markdown())
		return err
	}
	rendered, err := cliui.RenderMarkdown(t.Markdown())
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(s.Out, rendered)
	return err
}
