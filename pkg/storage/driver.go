// Package storage defines the repositories behind the identity, agreement,
// and arbitration services. Every record carries a version token; writes
// name the version they read and fail if it has since advanced.
package storage

import (
	"context"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/pao"
)

// Driver is a storage backend holding both identities and agreement records.
type Driver interface {
	IdentityStore
	AgreementStore

	// Close closes the store and releases any resources.
	Close() error
}

// IdentityStore persists identities keyed by subject (DID or legacy id).
// The key history of an identity is append-only.
type IdentityStore interface {
	// CreateIdentity stores a new identity at version 1. Fails with a
	// duplicate error if the subject exists.
	CreateIdentity(ctx context.Context, id *did.Identity) error

	// GetIdentity retrieves an identity by subject.
	GetIdentity(ctx context.Context, subject string) (*did.Identity, error)

	// UpdateIdentity replaces an identity read at expectedVersion. New key
	// records may be appended; existing ones may not change.
	UpdateIdentity(ctx context.Context, id *did.Identity, expectedVersion int64) error

	// DeleteIdentity removes an identity read at expectedVersion.
	DeleteIdentity(ctx context.Context, subject string, expectedVersion int64) error

	// ListIdentities returns every identity ordered by creation.
	ListIdentities(ctx context.Context) ([]*did.Identity, error)
}

// AgreementStore persists proposals, agreements, cases, and the event
// journal.
type AgreementStore interface {
	// Apply commits a Change atomically.
	Apply(ctx context.Context, change *Change) error

	// GetProposal retrieves a proposal by id.
	GetProposal(ctx context.Context, id string) (*pao.Proposal, error)

	// ListProposals returns proposals matching filter ordered by creation.
	ListProposals(ctx context.Context, filter ProposalFilter) ([]*pao.Proposal, error)

	// GetAgreement retrieves an agreement by id.
	GetAgreement(ctx context.Context, id string) (*pao.Agreement, error)

	// ListAgreements returns agreements matching filter ordered by creation.
	ListAgreements(ctx context.Context, filter AgreementFilter) ([]*pao.Agreement, error)

	// GetCase retrieves an arbitration case by id.
	GetCase(ctx context.Context, id string) (*pao.Case, error)

	// Events returns journal entries about any of subjects in sequence order.
	Events(ctx context.Context, subjects ...string) ([]pao.Event, error)
}

// Change is one atomic unit of work against an AgreementStore. Each non-nil
// record is created when its expected version is zero and updated
// otherwise. On success every written record's Version is advanced and every
// event's Seq is assigned.
type Change struct {
	Proposal        *pao.Proposal
	ProposalVersion int64

	Agreement        *pao.Agreement
	AgreementVersion int64

	Case        *pao.Case
	CaseVersion int64

	Events []*pao.Event
}

// ProposalFilter narrows ListProposals. Zero fields match everything.
type ProposalFilter struct {
	// Party matches proposer, counterparty, or arbiter.
	Party  string
	Status pao.ProposalStatus
}

// AgreementFilter narrows ListAgreements. Zero fields match everything.
type AgreementFilter struct {
	// Party matches either party or the arbiter.
	Party string
	State pao.AgreementState
}

// Match reports whether p satisfies the filter.
func (f ProposalFilter) Match(p *pao.Proposal) bool {
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	return f.Party == "" || f.Party == p.Proposer || f.Party == p.Counterparty || f.Party == p.Arbiter
}

// Match reports whether a satisfies the filter.
func (f AgreementFilter) Match(a *pao.Agreement) bool {
	if f.State != "" && a.State != f.State {
		return false
	}
	return f.Party == "" || a.IsParty(f.Party) || f.Party == a.Arbiter
}

// DedupKey returns the pending-proposal dedup key, or "" once the proposal
// has left pending and no longer blocks an identical one.
func DedupKey(p *pao.Proposal) string {
	if p.Status != pao.ProposalPending {
		return ""
	}
	return p.DedupKey()
}
