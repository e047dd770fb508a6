package identitycmder

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/accord/cmd/accord/session"
	"github.com/papercomputeco/accord/pkg/cliui"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/identity"
)

const resolveLongDesc string = `Resolve a DID document and replay its key chain.

The reference may be a DID, a path to a document file, or an http(s) URL
serving a document. DIDs are looked up in the local store first and then in
the configured registries. The chain is replayed from the document alone, the
way any third party would check it, and the advertised current key must be
the head of the key history.

Exits with status 2 when the document's chain does not verify.

Examples:
  accord identity resolve did:agent:acme:alice
  accord identity resolve ./did_agent_acme_alice.json
  accord identity resolve https://registry.example/dids/did:agent:acme:alice`

const resolveShortDesc string = "Resolve and verify a DID document"

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <did|file|url>",
		Short: resolveShortDesc,
		Long:  resolveLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE:  runResolve,
	}
	session.AddFlags(cmd)
	return cmd
}

func runResolve(cmd *cobra.Command, args []string) error {
	s, err := session.Open(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ref := args[0]
	var res *identity.Resolution
	if data, rerr := os.ReadFile(ref); rerr == nil {
		doc := &did.Document{}
		if jerr := json.Unmarshal(data, doc); jerr != nil {
			return errs.Wrap(errs.KindValidation, jerr, ref+" is not a DID document")
		}
		res, err = s.Identity.VerifyDocument(doc, ref)
	} else if errors.Is(rerr, fs.ErrNotExist) {
		res, err = s.Identity.Resolve(cmd.Context(), ref)
	} else {
		return fmt.Errorf("failed to read %s: %w", ref, rerr)
	}
	if res == nil {
		return err
	}

	if perr := s.Print(res, func(w io.Writer) {
		fmt.Fprintln(w)
		cliui.Field(w, "did", res.Document.DID)
		cliui.Field(w, "source", res.Source)
		cliui.Field(w, "status", cliui.Badge(string(res.Document.Status)))
		cliui.Field(w, "current key", res.Document.CurrentKey.KeyID)
		if c := res.Document.Controller; c != nil {
			cliui.Field(w, "controller", fmt.Sprintf("%s:%s (%s)", c.Platform, c.Handle, c.Status))
		}
		session.RenderChain(w, res.Report)
	}); perr != nil {
		return perr
	}
	return err
}
