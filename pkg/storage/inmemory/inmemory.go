// Package inmemory provides a storage.Driver backed by process memory.
package inmemory

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
)

// Driver implements storage.Driver using in-memory maps. Records are deep
// copied on the way in and out so callers never share state with the store.
type Driver struct {
	// mu guards every map below; Apply holds it for the whole change so
	// each change is atomic.
	mu sync.RWMutex

	identities map[string]*did.Identity
	idOrder    []string

	proposals map[string]*pao.Proposal
	pending   map[string]string // dedup key -> proposal id
	propOrder []string

	agreements map[string]*pao.Agreement
	agrOrder   []string

	cases map[string]*pao.Case

	events []pao.Event
	seq    int64
}

// NewDriver creates a new in-memory store.
func NewDriver() *Driver {
	return &Driver{
		identities: make(map[string]*did.Identity),
		proposals:  make(map[string]*pao.Proposal),
		pending:    make(map[string]string),
		agreements: make(map[string]*pao.Agreement),
		cases:      make(map[string]*pao.Case),
	}
}

var _ storage.Driver = (*Driver)(nil)

// CreateIdentity stores a new identity at version 1.
func (d *Driver) CreateIdentity(_ context.Context, id *did.Identity) error {
	if id == nil {
		return errors.New("cannot store nil identity")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	subject := id.Subject()
	if _, ok := d.identities[subject]; ok {
		return storage.DuplicateError{Record: "identity", Key: subject}
	}

	id.Version = 1
	stored, err := clone(id)
	if err != nil {
		return err
	}
	d.identities[subject] = stored
	d.idOrder = append(d.idOrder, subject)
	return nil
}

// GetIdentity retrieves an identity by subject.
func (d *Driver) GetIdentity(_ context.Context, subject string) (*did.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.identities[subject]
	if !ok {
		return nil, storage.NotFoundError{Record: "identity", ID: subject}
	}
	return clone(id)
}

// UpdateIdentity replaces an identity read at expectedVersion.
func (d *Driver) UpdateIdentity(_ context.Context, id *did.Identity, expectedVersion int64) error {
	if id == nil {
		return errors.New("cannot store nil identity")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	subject := id.Subject()
	current, ok := d.identities[subject]
	if !ok {
		return storage.NotFoundError{Record: "identity", ID: subject}
	}
	if current.Version != expectedVersion {
		return storage.VersionConflictError{Record: "identity", ID: subject, Expected: expectedVersion, Actual: current.Version}
	}
	if err := storage.CheckAppendOnly(subject, current.Keys, id.Keys); err != nil {
		return err
	}

	id.Version = expectedVersion + 1
	stored, err := clone(id)
	if err != nil {
		return err
	}
	d.identities[subject] = stored
	return nil
}

// DeleteIdentity removes an identity read at expectedVersion.
func (d *Driver) DeleteIdentity(_ context.Context, subject string, expectedVersion int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, ok := d.identities[subject]
	if !ok {
		return storage.NotFoundError{Record: "identity", ID: subject}
	}
	if current.Version != expectedVersion {
		return storage.VersionConflictError{Record: "identity", ID: subject, Expected: expectedVersion, Actual: current.Version}
	}

	delete(d.identities, subject)
	d.idOrder = slices.DeleteFunc(d.idOrder, func(s string) bool { return s == subject })
	return nil
}

// ListIdentities returns every identity in creation order.
func (d *Driver) ListIdentities(_ context.Context) ([]*did.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*did.Identity, 0, len(d.idOrder))
	for _, subject := range d.idOrder {
		id, err := clone(d.identities[subject])
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// Apply commits a change atomically. Every precondition is checked before
// anything is written.
func (d *Driver) Apply(_ context.Context, change *storage.Change) error {
	if change == nil {
		return errors.New("cannot apply nil change")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.check(change); err != nil {
		return err
	}

	if p := change.Proposal; p != nil {
		p.Version = change.ProposalVersion + 1
		stored, err := clone(p)
		if err != nil {
			return err
		}
		if old, ok := d.proposals[p.ID]; ok {
			if key := storage.DedupKey(old); key != "" {
				delete(d.pending, key)
			}
		} else {
			d.propOrder = append(d.propOrder, p.ID)
		}
		if key := storage.DedupKey(p); key != "" {
			d.pending[key] = p.ID
		}
		d.proposals[p.ID] = stored
	}

	if a := change.Agreement; a != nil {
		a.Version = change.AgreementVersion + 1
		stored, err := clone(a)
		if err != nil {
			return err
		}
		if _, ok := d.agreements[a.ID]; !ok {
			d.agrOrder = append(d.agrOrder, a.ID)
		}
		d.agreements[a.ID] = stored
	}

	if c := change.Case; c != nil {
		c.Version = change.CaseVersion + 1
		stored, err := clone(c)
		if err != nil {
			return err
		}
		d.cases[c.ID] = stored
	}

	for _, ev := range change.Events {
		d.seq++
		ev.Seq = d.seq
		stored, err := clone(ev)
		if err != nil {
			return err
		}
		d.events = append(d.events, *stored)
	}
	return nil
}

func (d *Driver) check(change *storage.Change) error {
	if p := change.Proposal; p != nil {
		var actual int64
		if old, ok := d.proposals[p.ID]; ok {
			actual = old.Version
		}
		if change.ProposalVersion == 0 && actual != 0 {
			return storage.DuplicateError{Record: "proposal", Key: p.ID}
		}
		if actual != change.ProposalVersion {
			return versionErr("proposal", p.ID, change.ProposalVersion, actual)
		}
		if key := storage.DedupKey(p); key != "" {
			if owner, ok := d.pending[key]; ok && owner != p.ID {
				return storage.DuplicateError{Record: "pending proposal", Key: key}
			}
		}
	}

	if a := change.Agreement; a != nil {
		var actual int64
		if old, ok := d.agreements[a.ID]; ok {
			actual = old.Version
		}
		if change.AgreementVersion == 0 && actual != 0 {
			return storage.DuplicateError{Record: "agreement", Key: a.ID}
		}
		if actual != change.AgreementVersion {
			return versionErr("agreement", a.ID, change.AgreementVersion, actual)
		}
	}

	if c := change.Case; c != nil {
		var actual int64
		if old, ok := d.cases[c.ID]; ok {
			actual = old.Version
		}
		if change.CaseVersion == 0 && actual != 0 {
			return storage.DuplicateError{Record: "case", Key: c.ID}
		}
		if actual != change.CaseVersion {
			return versionErr("case", c.ID, change.CaseVersion, actual)
		}
	}
	return nil
}

func versionErr(record, id string, expected, actual int64) error {
	if actual == 0 {
		return storage.NotFoundError{Record: record, ID: id}
	}
	return storage.VersionConflictError{Record: record, ID: id, Expected: expected, Actual: actual}
}

// GetProposal retrieves a proposal by id.
func (d *Driver) GetProposal(_ context.Context, id string) (*pao.Proposal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.proposals[id]
	if !ok {
		return nil, storage.NotFoundError{Record: "proposal", ID: id}
	}
	return clone(p)
}

// ListProposals returns proposals matching filter in creation order.
func (d *Driver) ListProposals(_ context.Context, filter storage.ProposalFilter) ([]*pao.Proposal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*pao.Proposal
	for _, id := range d.propOrder {
		p := d.proposals[id]
		if !filter.Match(p) {
			continue
		}
		c, err := clone(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetAgreement retrieves an agreement by id.
func (d *Driver) GetAgreement(_ context.Context, id string) (*pao.Agreement, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	a, ok := d.agreements[id]
	if !ok {
		return nil, storage.NotFoundError{Record: "agreement", ID: id}
	}
	return clone(a)
}

// ListAgreements returns agreements matching filter in creation order.
func (d *Driver) ListAgreements(_ context.Context, filter storage.AgreementFilter) ([]*pao.Agreement, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*pao.Agreement
	for _, id := range d.agrOrder {
		a := d.agreements[id]
		if !filter.Match(a) {
			continue
		}
		c, err := clone(a)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// GetCase retrieves a case by id.
func (d *Driver) GetCase(_ context.Context, id string) (*pao.Case, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.cases[id]
	if !ok {
		return nil, storage.NotFoundError{Record: "case", ID: id}
	}
	return clone(c)
}

// Events returns the journal entries about any of subjects in seq order.
func (d *Driver) Events(_ context.Context, subjects ...string) ([]pao.Event, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []pao.Event
	for _, ev := range d.events {
		if !slices.Contains(subjects, ev.Subject) {
			continue
		}
		c, err := clone(&ev)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (d *Driver) Close() error {
	return nil
}

func clone[T any](v *T) (*T, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}
