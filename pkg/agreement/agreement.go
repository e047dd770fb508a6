// Package agreement negotiates Programmable Agreement Objects: a proposer
// offers signed terms naming an arbiter, and the counterparty accepts or
// rejects them.
package agreement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/eventstream"
	"github.com/papercomputeco/accord/pkg/logger"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
)

// DefaultProposalTTL is how long a proposal without a deadline stays open.
const DefaultProposalTTL = 7 * 24 * time.Hour

// systemActor is recorded on transitions no party performed.
const systemActor = "system"

// Verifier authenticates a signed party action.
type Verifier interface {
	Authenticate(ctx context.Context, actor, message, signature string) (*did.Verification, error)
}

// Service is the agreement negotiation service.
type Service struct {
	store    storage.AgreementStore
	verifier Verifier
	events   eventstream.Publisher
	source   eventstream.EventSource
	logger   *slog.Logger
	now      func() time.Time
	ttl      time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithEvents publishes committed transitions to p.
func WithEvents(p eventstream.Publisher, source eventstream.EventSource) Option {
	return func(s *Service) {
		s.events = p
		s.source = source
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithProposalTTL sets how long proposals without a deadline stay open.
func WithProposalTTL(d time.Duration) Option {
	return func(s *Service) { s.ttl = d }
}

// NewService creates an agreement service.
func NewService(store storage.AgreementStore, verifier Verifier, opts ...Option) *Service {
	s := &Service{
		store:    store,
		verifier: verifier,
		logger:   logger.Nop(),
		now:      time.Now,
		ttl:      DefaultProposalTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProposeRequest is a signed offer.
type ProposeRequest struct {
	Terms        string
	Proposer     string
	Counterparty string
	Arbiter      string

	Deadline      *time.Time
	Value         string
	DisputeWindow time.Duration

	// Signature is the proposer's envelope over the terms hash.
	Signature string
}

// Propose records a pending proposal signed by the proposer.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*pao.Proposal, error) {
	if err := validatePropose(req); err != nil {
		return nil, err
	}
	now := s.clock()
	if req.Deadline != nil && !req.Deadline.After(now) {
		return nil, errs.Validation("deadline %s has already passed", req.Deadline.UTC().Format(time.RFC3339))
	}

	termsHash, err := TermsHash(req.Terms, req.Proposer, req.Counterparty, req.Deadline)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Authenticate(ctx, req.Proposer, termsHash, req.Signature); err != nil {
		return nil, err
	}

	expires := now.Add(s.ttl)
	var deadline *time.Time
	if req.Deadline != nil {
		d := req.Deadline.UTC()
		deadline = &d
		expires = d
	}

	p := &pao.Proposal{
		ID:                pao.NewID(pao.PrefixProposal),
		Proposer:          req.Proposer,
		Counterparty:      req.Counterparty,
		Arbiter:           req.Arbiter,
		Terms:             req.Terms,
		TermsHash:         termsHash,
		Deadline:          deadline,
		Value:             req.Value,
		DisputeWindow:     req.DisputeWindow,
		ExpiresAt:         expires,
		ProposerSignature: req.Signature,
		Status:            pao.ProposalPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	// A lapsed proposal with the same terms must not block a fresh one.
	if err := s.expireStale(ctx, p); err != nil {
		return nil, err
	}

	change := &storage.Change{
		Proposal: p,
		Events: []*pao.Event{{
			Subject: p.ID,
			Kind:    pao.EventProposed,
			Actor:   p.Proposer,
			At:      now,
			Detail: map[string]string{
				"termsHash":    p.TermsHash,
				"counterparty": p.Counterparty,
				"arbiter":      p.Arbiter,
				"signature":    p.ProposerSignature,
			},
		}},
	}
	if err := s.apply(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("proposal created", "proposal", p.ID, "proposer", p.Proposer, "counterparty", p.Counterparty, "terms_hash", p.TermsHash)
	return p, nil
}

func validatePropose(req ProposeRequest) error {
	switch {
	case pao.NormalizeTerms(req.Terms) == "":
		return errs.Validation("terms are required")
	case req.Proposer == "" || req.Counterparty == "" || req.Arbiter == "":
		return errs.Validation("proposer, counterparty and arbiter are required")
	case req.Proposer == req.Counterparty:
		return errs.Validation("proposer and counterparty must differ")
	case req.Arbiter == req.Proposer || req.Arbiter == req.Counterparty:
		return errs.Validation("arbiter must not be a party to the agreement")
	case req.DisputeWindow < 0:
		return errs.Validation("dispute window must not be negative")
	case req.Signature == "":
		return errs.Validation("proposer signature is required")
	}
	return nil
}

// TermsHash is the hash both parties sign: the normalized terms, the sorted
// parties, and the deadline.
func TermsHash(terms, proposer, counterparty string, deadline *time.Time) (string, error) {
	return pao.TermsHash(terms, []string{proposer, counterparty}, deadline)
}

// AcceptRequest is the counterparty's signed acceptance.
type AcceptRequest struct {
	ProposalID string
	Actor      string

	// Signature is the counterparty's envelope over the terms hash.
	Signature string

	// IfVersion, when set, must match the proposal's stored version.
	IfVersion int64
}

// Accept turns a pending proposal into an agreement. The proposal and the
// new agreement are written in one transaction.
func (s *Service) Accept(ctx context.Context, req AcceptRequest) (*pao.Agreement, error) {
	p, err := s.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("proposal", p.ID, req.IfVersion, p.Version); err != nil {
		return nil, err
	}
	if req.Actor != p.Counterparty {
		return nil, errs.Unauthorized("only the counterparty %s may accept proposal %s", p.Counterparty, p.ID)
	}
	if err := s.checkPending(ctx, p); err != nil {
		return nil, err
	}

	if _, err := s.verifier.Authenticate(ctx, req.Actor, p.TermsHash, req.Signature); err != nil {
		return nil, err
	}

	now := s.clock()
	a := &pao.Agreement{
		ID:            pao.NewID(pao.PrefixAgreement),
		ProposalID:    p.ID,
		TermsHash:     p.TermsHash,
		Terms:         p.Terms,
		Parties:       []string{p.Proposer, p.Counterparty},
		Arbiter:       p.Arbiter,
		Deadline:      p.Deadline,
		Value:         p.Value,
		DisputeWindow: p.DisputeWindow,
		Signatures: map[string]string{
			p.Proposer:     p.ProposerSignature,
			p.Counterparty: req.Signature,
		},
		State:     pao.StateAccepted,
		CreatedAt: now,
		UpdatedAt: now,
	}

	read := p.Version
	p.Status = pao.ProposalAccepted
	p.AgreementID = a.ID
	p.UpdatedAt = now

	change := &storage.Change{
		Proposal:        p,
		ProposalVersion: read,
		Agreement:       a,
		Events: []*pao.Event{{
			Subject: p.ID,
			Kind:    pao.EventAccepted,
			Actor:   req.Actor,
			At:      now,
			Detail: map[string]string{
				"agreementId": a.ID,
				"termsHash":   a.TermsHash,
				"signature":   req.Signature,
			},
		}},
	}
	if err := s.apply(ctx, change); err != nil {
		if errors.Is(err, errs.ErrStateConflict) {
			return nil, s.explainConflict(ctx, p.ID, err)
		}
		return nil, err
	}

	s.logger.Info("proposal accepted", "proposal", p.ID, "agreement", a.ID, "parties", strings.Join(a.Parties, ","))
	return a, nil
}

// explainConflict turns a lost race into the error the winner's transition
// implies: a concurrent acceptance makes this one a duplicate.
func (s *Service) explainConflict(ctx context.Context, proposalID string, cause error) error {
	p, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return cause
	}
	if p.Status == pao.ProposalAccepted {
		return errs.Duplicate("proposal %s was already accepted as agreement %s", p.ID, p.AgreementID)
	}
	return cause
}

// RejectRequest is a signed rejection by either party.
type RejectRequest struct {
	ProposalID string
	Actor      string
	Reason     string

	// Signature is the actor's envelope over RejectMessage.
	Signature string
	IfVersion int64
}

// RejectMessage is the digest a party signs to reject a proposal.
func RejectMessage(p *pao.Proposal, actor, reason string) (string, error) {
	return pao.ActionDigest(pao.ActionReject, p.ID, actor, map[string]string{
		"termsHash": p.TermsHash,
		"reason":    reason,
	})
}

// Reject closes a pending proposal without forming an agreement.
func (s *Service) Reject(ctx context.Context, req RejectRequest) (*pao.Proposal, error) {
	p, err := s.store.GetProposal(ctx, req.ProposalID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("proposal", p.ID, req.IfVersion, p.Version); err != nil {
		return nil, err
	}
	if req.Actor != p.Counterparty && req.Actor != p.Proposer {
		return nil, errs.Unauthorized("%s is not a party to proposal %s", req.Actor, p.ID)
	}
	switch p.Status {
	case pao.ProposalRejected:
		return nil, errs.Duplicate("proposal %s was already rejected", p.ID)
	case pao.ProposalAccepted:
		return nil, errs.StateConflict("proposal %s was already accepted as agreement %s", p.ID, p.AgreementID)
	}
	if err := s.checkPending(ctx, p); err != nil {
		return nil, err
	}

	msg, err := RejectMessage(p, req.Actor, req.Reason)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Authenticate(ctx, req.Actor, msg, req.Signature); err != nil {
		return nil, err
	}

	now := s.clock()
	read := p.Version
	p.Status = pao.ProposalRejected
	p.RejectedBy = req.Actor
	p.RejectionReason = req.Reason
	p.UpdatedAt = now

	change := &storage.Change{
		Proposal:        p,
		ProposalVersion: read,
		Events: []*pao.Event{{
			Subject: p.ID,
			Kind:    pao.EventRejected,
			Actor:   req.Actor,
			At:      now,
			Detail: map[string]string{
				"reason":    req.Reason,
				"signature": req.Signature,
			},
		}},
	}
	if err := s.apply(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("proposal rejected", "proposal", p.ID, "by", req.Actor)
	return p, nil
}

// checkPending fails unless p can still be acted on. A pending proposal
// past its expiry is marked expired first.
func (s *Service) checkPending(ctx context.Context, p *pao.Proposal) error {
	switch p.Status {
	case pao.ProposalAccepted:
		return errs.Duplicate("proposal %s was already accepted as agreement %s", p.ID, p.AgreementID)
	case pao.ProposalRejected:
		return errs.StateConflict("proposal %s was rejected", p.ID)
	case pao.ProposalExpired:
		return errs.StateConflict("proposal %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339))
	}
	if p.Expired(s.clock()) {
		if err := s.expire(ctx, p); err != nil {
			s.logger.Warn("failed to record proposal expiry", "proposal", p.ID, "error", err)
		}
		return errs.StateConflict("proposal %s expired at %s", p.ID, p.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// expire persists the lazy expiry of a lapsed proposal.
func (s *Service) expire(ctx context.Context, p *pao.Proposal) error {
	expired := *p
	expired.Status = pao.ProposalExpired
	expired.UpdatedAt = s.clock()

	return s.apply(ctx, &storage.Change{
		Proposal:        &expired,
		ProposalVersion: p.Version,
		Events: []*pao.Event{{
			Subject: p.ID,
			Kind:    pao.EventExpired,
			Actor:   systemActor,
			At:      p.ExpiresAt,
		}},
	})
}

// expireStale expires lapsed proposals that share next's dedup key.
func (s *Service) expireStale(ctx context.Context, next *pao.Proposal) error {
	pending, err := s.store.ListProposals(ctx, storage.ProposalFilter{Party: next.Proposer, Status: pao.ProposalPending})
	if err != nil {
		return err
	}
	now := s.clock()
	for _, p := range pending {
		if p.DedupKey() != next.DedupKey() || !p.Expired(now) {
			continue
		}
		if err := s.expire(ctx, p); err != nil && !errors.Is(err, errs.ErrStateConflict) {
			return err
		}
	}
	return nil
}

// GetProposal returns a proposal. A pending proposal past its expiry is
// reported as expired.
func (s *Service) GetProposal(ctx context.Context, id string) (*pao.Proposal, error) {
	p, err := s.store.GetProposal(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(p), nil
}

// ListProposals returns proposals matching filter, with lazy expiry applied
// before the status filter.
func (s *Service) ListProposals(ctx context.Context, filter storage.ProposalFilter) ([]*pao.Proposal, error) {
	all, err := s.store.ListProposals(ctx, storage.ProposalFilter{Party: filter.Party})
	if err != nil {
		return nil, err
	}
	out := make([]*pao.Proposal, 0, len(all))
	for _, p := range all {
		p = s.view(p)
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// GetAgreement returns an agreement.
func (s *Service) GetAgreement(ctx context.Context, id string) (*pao.Agreement, error) {
	return s.store.GetAgreement(ctx, id)
}

// ListAgreements returns agreements matching filter.
func (s *Service) ListAgreements(ctx context.Context, filter storage.AgreementFilter) ([]*pao.Agreement, error) {
	return s.store.ListAgreements(ctx, filter)
}

func (s *Service) view(p *pao.Proposal) *pao.Proposal {
	if p.Expired(s.clock()) {
		p.Status = pao.ProposalExpired
	}
	return p
}

func (s *Service) apply(ctx context.Context, change *storage.Change) error {
	if err := s.store.Apply(ctx, change); err != nil {
		return err
	}
	eventstream.Emit(ctx, s.events, s.logger, s.source, change.Events)
	return nil
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// checkVersion enforces a caller-supplied version token.
func checkVersion(record, id string, want, have int64) error {
	if want != 0 && want != have {
		return storage.VersionConflictError{Record: record, ID: id, Expected: want, Actual: have}
	}
	return nil
}
