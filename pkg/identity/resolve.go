package identity

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
)

// Resolver looks up a published DID document.
type Resolver interface {
	Lookup(ctx context.Context, subject string) (*did.Document, error)
}

// WithResolver registers a registry that Resolve consults, by name, after
// the local store.
func WithResolver(name string, r Resolver) Option {
	return func(s *Service) { s.resolvers[name] = r }
}

// Resolution is a DID document and the replay of its key chain.
type Resolution struct {
	Source   string           `json:"source"`
	Document *did.Document    `json:"document"`
	Report   *did.ChainReport `json:"report"`
}

// Resolve finds the document behind ref and replays its chain the way a
// third party would, from the document alone. ref is a DID (or legacy id)
// in the local store or a registry, or an http(s) URL serving a document.
// The resolution is returned with the error when the chain does not verify.
func (s *Service) Resolve(ctx context.Context, ref string) (*Resolution, error) {
	if strings.HasPrefix(ref, "https://") || strings.HasPrefix(ref, "http://") {
		text, err := s.fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		var doc did.Document
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "document at "+ref+" is not a DID document")
		}
		return s.VerifyDocument(&doc, ref)
	}

	id, err := s.resolve(ctx, ref)
	switch {
	case err == nil:
		if id.Scheme == did.SchemeLegacy {
			return nil, errs.Validation("legacy identity %s has no DID document", ref)
		}
		return s.VerifyDocument(did.NewDocument(id), "local")
	case !errors.Is(err, errs.ErrNotFound):
		return nil, err
	}

	names := make([]string, 0, len(s.resolvers))
	for name := range s.resolvers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		doc, err := s.resolvers[name].Lookup(ctx, ref)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s.VerifyDocument(doc, name)
	}
	return nil, errs.NotFound("no document for %s", ref)
}

// VerifyDocument replays the key history of doc from its genesis record and
// checks that the advertised current key is the head of that history.
func (s *Service) VerifyDocument(doc *did.Document, source string) (*Resolution, error) {
	if doc.DID == "" {
		return nil, errs.Validation("document from %s names no DID", source)
	}
	if _, _, err := did.Parse(doc.DID); err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "document from "+source)
	}

	id := doc.Identity()
	report := did.VerifyChain(id)
	if report.Valid {
		head, ok := id.CurrentKey()
		if !ok || doc.CurrentKey.PublicKeyMultibase != head.PublicKey || doc.CurrentKey.KeyID != id.DID+head.KeyID {
			report.Valid = false
			report.Problem = "advertised current key is not the head of the key history"
		}
	}

	res := &Resolution{Source: source, Document: doc, Report: report}
	if err := report.Err(); err != nil {
		s.logger.Warn("document rejected", "did", doc.DID, "source", source, "error", err)
		return res, err
	}
	return res, nil
}
