// Package arbitration drives an agreement from acceptance to its terminal
// ruling: fulfillment claims, disputes, evidence, and the arbiter's decision.
package arbitration

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/accord/pkg/anchor"
	"github.com/papercomputeco/accord/pkg/anchor/nop"
	"github.com/papercomputeco/accord/pkg/canonical"
	"github.com/papercomputeco/accord/pkg/did"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/eventstream"
	"github.com/papercomputeco/accord/pkg/logger"
	"github.com/papercomputeco/accord/pkg/pao"
	"github.com/papercomputeco/accord/pkg/storage"
)

// DefaultEvidenceWindow is how long the parties may submit evidence after a
// case opens.
const DefaultEvidenceWindow = 7 * 24 * time.Hour

// Verifier authenticates a signed party action.
type Verifier interface {
	Authenticate(ctx context.Context, actor, message, signature string) (*did.Verification, error)
}

// Service is the arbitration state machine.
type Service struct {
	store          storage.AgreementStore
	verifier       Verifier
	anchorer       anchor.Anchorer
	events         eventstream.Publisher
	source         eventstream.EventSource
	logger         *slog.Logger
	now            func() time.Time
	evidenceWindow time.Duration
}

// Option configures a Service.
type Option func(*Service)

// WithAnchorer sets the witness evidence hashes are offered to.
func WithAnchorer(a anchor.Anchorer) Option {
	return func(s *Service) { s.anchorer = a }
}

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

// WithEvidenceWindow sets how long parties may submit evidence to a case.
func WithEvidenceWindow(d time.Duration) Option {
	return func(s *Service) { s.evidenceWindow = d }
}

// NewService creates an arbitration service.
func NewService(store storage.AgreementStore, verifier Verifier, opts ...Option) *Service {
	s := &Service{
		store:          store,
		verifier:       verifier,
		anchorer:       nop.NewAnchorer(),
		logger:         logger.Nop(),
		now:            time.Now,
		evidenceWindow: DefaultEvidenceWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FulfillRequest is a party's signed claim that the agreement is complete.
type FulfillRequest struct {
	AgreementID  string
	Actor        string
	Evidence     string
	EvidenceType string

	// Signature is the actor's envelope over FulfillMessage.
	Signature string
	IfVersion int64
}

// Fulfill moves an accepted agreement to fulfilled. The claim is unilateral;
// the other party answers it by opening arbitration.
func (s *Service) Fulfill(ctx context.Context, req FulfillRequest) (*pao.Agreement, error) {
	a, err := s.store.GetAgreement(ctx, req.AgreementID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("agreement", a.ID, req.IfVersion, a.Version); err != nil {
		return nil, err
	}
	if !a.IsParty(req.Actor) {
		return nil, errs.Unauthorized("%s is not a party to agreement %s", req.Actor, a.ID)
	}
	switch a.State {
	case pao.StateAccepted:
	case pao.StateFulfilled:
		return nil, errs.Duplicate("agreement %s was already fulfilled by %s", a.ID, a.Fulfillment.By)
	default:
		return nil, errs.StateConflict("agreement %s is %s and can no longer be fulfilled", a.ID, a.State)
	}

	typ, err := parseEvidence(req.Evidence, req.EvidenceType)
	if err != nil {
		return nil, err
	}
	msg, err := FulfillMessage(a, req.Actor, req.Evidence)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Authenticate(ctx, req.Actor, msg, req.Signature); err != nil {
		return nil, err
	}

	now := s.clock()
	ev := newEvidence(req.Actor, pao.RoleParty, req.Evidence, typ, req.Signature, now)
	s.anchor(ctx, &ev)

	read := a.Version
	a.State = pao.StateFulfilled
	a.Fulfillment = &pao.Fulfillment{By: req.Actor, At: now, Evidence: ev}
	a.UpdatedAt = now

	change := &storage.Change{
		Agreement:        a,
		AgreementVersion: read,
		Events: []*pao.Event{{
			Subject: a.ID,
			Kind:    pao.EventFulfilled,
			Actor:   req.Actor,
			At:      now,
			Detail:  evidenceDetail(ev),
		}},
	}
	if err := s.apply(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("agreement fulfilled", "agreement", a.ID, "by", req.Actor, "evidence_hash", ev.ContentHash)
	return a, nil
}

// ArbitrateRequest is a party's signed request to open a dispute.
type ArbitrateRequest struct {
	AgreementID string
	Actor       string
	Reason      pao.BreachReason

	// Evidence is optional when opening a case.
	Evidence     string
	EvidenceType string

	// Signature is the actor's envelope over ArbitrateMessage.
	Signature string
	IfVersion int64
}

// Arbitrate opens a case over an accepted or fulfilled agreement. The
// caller becomes the claimant and the other party the respondent. The
// agreement and the new case are written together.
func (s *Service) Arbitrate(ctx context.Context, req ArbitrateRequest) (*pao.Case, error) {
	a, err := s.store.GetAgreement(ctx, req.AgreementID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("agreement", a.ID, req.IfVersion, a.Version); err != nil {
		return nil, err
	}
	if !a.IsParty(req.Actor) {
		return nil, errs.Unauthorized("%s is not a party to agreement %s", req.Actor, a.ID)
	}
	if !req.Reason.Valid() {
		return nil, errs.Validation("unknown breach reason %q", req.Reason)
	}

	now := s.clock()
	switch a.State {
	case pao.StateAccepted:
	case pao.StateFulfilled:
		if a.DisputeWindow > 0 && now.After(a.Fulfillment.At.Add(a.DisputeWindow)) {
			return nil, errs.StateConflict("dispute window of agreement %s closed at %s",
				a.ID, a.Fulfillment.At.Add(a.DisputeWindow).Format(time.RFC3339))
		}
	case pao.StateDisputed:
		return nil, errs.Duplicate("agreement %s is already disputed in case %s", a.ID, a.CaseID)
	default:
		return nil, errs.StateConflict("agreement %s is %s and can no longer be disputed", a.ID, a.State)
	}

	var typ pao.EvidenceType
	if strings.TrimSpace(req.Evidence) != "" {
		if typ, err = parseEvidence(req.Evidence, req.EvidenceType); err != nil {
			return nil, err
		}
	}
	msg, err := ArbitrateMessage(a, req.Actor, req.Reason, req.Evidence)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Authenticate(ctx, req.Actor, msg, req.Signature); err != nil {
		return nil, err
	}

	c := &pao.Case{
		ID:               pao.NewID(pao.PrefixCase),
		AgreementID:      a.ID,
		TermsHash:        a.TermsHash,
		Claimant:         req.Actor,
		Respondent:       a.Other(req.Actor),
		Arbiter:          a.Arbiter,
		Reason:           req.Reason,
		Evidence:         []pao.Evidence{},
		Status:           pao.CaseEvidenceCollection,
		EvidenceDeadline: now.Add(s.evidenceWindow),
		OpenedAt:         now,
		UpdatedAt:        now,
	}
	events := []*pao.Event{{
		Subject: a.ID,
		Kind:    pao.EventDisputeOpened,
		Actor:   req.Actor,
		At:      now,
		Detail: map[string]string{
			"caseId":     c.ID,
			"reason":     string(req.Reason),
			"respondent": c.Respondent,
			"signature":  req.Signature,
		},
	}}

	if typ != "" {
		ev := newEvidence(req.Actor, pao.RoleClaimant, req.Evidence, typ, req.Signature, now)
		s.anchor(ctx, &ev)
		c.Evidence = append(c.Evidence, ev)
		events = append(events, &pao.Event{
			Subject: c.ID,
			Kind:    pao.EventEvidenceSubmitted,
			Actor:   req.Actor,
			At:      now,
			Detail:  evidenceDetail(ev),
		})
	}

	read := a.Version
	a.State = pao.StateDisputed
	a.CaseID = c.ID
	a.UpdatedAt = now

	change := &storage.Change{
		Agreement:        a,
		AgreementVersion: read,
		Case:             c,
		Events:           events,
	}
	if err := s.apply(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("dispute opened", "agreement", a.ID, "case", c.ID, "claimant", c.Claimant, "reason", c.Reason)
	return c, nil
}

// SubmitRequest is a signed evidence submission to an open case.
type SubmitRequest struct {
	CaseID       string
	Actor        string
	Evidence     string
	EvidenceType string

	// Signature is the actor's envelope over SubmitMessage.
	Signature string
	IfVersion int64
}

// Submit appends evidence to a case. The claimant, the respondent, and the
// arbiter may submit; the parties only until the evidence deadline.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*pao.Case, error) {
	c, err := s.store.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("case", c.ID, req.IfVersion, c.Version); err != nil {
		return nil, err
	}
	role := c.RoleOf(req.Actor)
	if role == "" {
		return nil, errs.Unauthorized("%s has no role in case %s", req.Actor, c.ID)
	}
	if c.Status == pao.CaseRuled {
		return nil, errs.StateConflict("case %s is ruled and closed to evidence", c.ID)
	}

	now := s.clock()
	if role != pao.RoleArbiter && now.After(c.EvidenceDeadline) {
		return nil, errs.StateConflict("evidence deadline of case %s passed at %s", c.ID, c.EvidenceDeadline.Format(time.RFC3339))
	}

	typ, err := parseEvidence(req.Evidence, req.EvidenceType)
	if err != nil {
		return nil, err
	}
	msg, err := SubmitMessage(c, req.Actor, req.Evidence, typ)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Authenticate(ctx, req.Actor, msg, req.Signature); err != nil {
		return nil, err
	}

	ev := newEvidence(req.Actor, role, req.Evidence, typ, req.Signature, now)
	s.anchor(ctx, &ev)

	read := c.Version
	c.Evidence = append(c.Evidence, ev)
	c.UpdatedAt = now

	change := &storage.Change{
		Case:        c,
		CaseVersion: read,
		Events: []*pao.Event{{
			Subject: c.ID,
			Kind:    pao.EventEvidenceSubmitted,
			Actor:   req.Actor,
			At:      now,
			Detail:  evidenceDetail(ev),
		}},
	}
	if err := s.apply(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("evidence submitted", "case", c.ID, "by", req.Actor, "role", role, "evidence_hash", ev.ContentHash)
	return c, nil
}

// RulingRequest is the arbiter's signed decision.
type RulingRequest struct {
	CaseID    string
	Actor     string
	Decision  pao.Decision
	Reasoning string

	// Signature is the arbiter's envelope over RulingMessage.
	Signature string
	IfVersion int64
}

// Ruling closes a case with the arbiter's decision. The case and its
// agreement both become ruled in one transaction and never change again.
func (s *Service) Ruling(ctx context.Context, req RulingRequest) (*pao.Case, error) {
	c, err := s.store.GetCase(ctx, req.CaseID)
	if err != nil {
		return nil, err
	}
	if err := checkVersion("case", c.ID, req.IfVersion, c.Version); err != nil {
		return nil, err
	}
	if req.Actor != c.Arbiter {
		return nil, errs.Unauthorized("only the arbiter %s may rule on case %s", c.Arbiter, c.ID)
	}
	if c.Status == pao.CaseRuled {
		return nil, errs.StateConflict("case %s was already ruled", c.ID)
	}
	if !req.Decision.Valid() {
		return nil, errs.Validation("unknown decision %q", req.Decision)
	}
	if strings.TrimSpace(req.Reasoning) == "" {
		return nil, errs.Validation("a ruling requires reasoning")
	}

	a, err := s.store.GetAgreement(ctx, c.AgreementID)
	if err != nil {
		return nil, err
	}
	if a.State != pao.StateDisputed || a.CaseID != c.ID {
		return nil, errs.StateConflict("agreement %s is %s, not disputed in case %s", a.ID, a.State, c.ID)
	}

	msg, err := RulingMessage(c, req.Actor, req.Decision, req.Reasoning)
	if err != nil {
		return nil, err
	}
	if _, err := s.verifier.Authenticate(ctx, req.Actor, msg, req.Signature); err != nil {
		return nil, err
	}

	now := s.clock()
	r := &pao.Ruling{
		ID:                 pao.NewID(pao.PrefixRuling),
		CaseID:             c.ID,
		Arbiter:            req.Actor,
		Decision:           req.Decision,
		Reasoning:          req.Reasoning,
		ReasoningHash:      canonical.String(req.Reasoning),
		Signature:          req.Signature,
		EvidenceConsidered: c.EvidenceCount(),
		IssuedAt:           now,
	}

	caseRead, agrRead := c.Version, a.Version
	c.Status = pao.CaseRuled
	c.Ruling = r
	c.UpdatedAt = now
	a.State = pao.StateRuled
	a.RulingID = r.ID
	a.UpdatedAt = now

	change := &storage.Change{
		Agreement:        a,
		AgreementVersion: agrRead,
		Case:             c,
		CaseVersion:      caseRead,
		Events: []*pao.Event{{
			Subject: c.ID,
			Kind:    pao.EventRulingIssued,
			Actor:   req.Actor,
			At:      now,
			Detail: map[string]string{
				"rulingId":      r.ID,
				"decision":      string(r.Decision),
				"reasoningHash": r.ReasoningHash,
				"signature":     r.Signature,
			},
		}},
	}
	if err := s.apply(ctx, change); err != nil {
		return nil, err
	}

	s.logger.Info("ruling issued", "case", c.ID, "agreement", a.ID, "decision", r.Decision)
	return c, nil
}

// GetCase returns an arbitration case.
func (s *Service) GetCase(ctx context.Context, id string) (*pao.Case, error) {
	return s.store.GetCase(ctx, id)
}

// anchor offers the evidence hash to the witness. A disabled or failing
// witness leaves the evidence unanchored.
func (s *Service) anchor(ctx context.Context, ev *pao.Evidence) {
	r, err := s.anchorer.Anchor(ctx, ev.ContentHash)
	if errors.Is(err, anchor.ErrDisabled) {
		return
	}
	if err != nil {
		s.logger.Warn("evidence anchoring failed", "evidence_hash", ev.ContentHash, "error", err)
		return
	}
	ev.Anchor = &pao.AnchorRecord{Provider: r.Provider, Receipt: r.Receipt, At: r.At}
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

func parseEvidence(content, typ string) (pao.EvidenceType, error) {
	if strings.TrimSpace(content) == "" {
		return "", errs.Validation("evidence is required")
	}
	t, err := pao.ParseEvidenceType(typ)
	if err != nil {
		return "", errs.Wrap(errs.KindValidation, err, "invalid evidence")
	}
	return t, nil
}

func newEvidence(actor string, role pao.Role, content string, typ pao.EvidenceType, sig string, now time.Time) pao.Evidence {
	return pao.Evidence{
		Submitter:   actor,
		Role:        role,
		Content:     content,
		ContentHash: canonical.String(content),
		Type:        typ,
		SubmittedAt: now,
		Signature:   sig,
	}
}

func evidenceDetail(ev pao.Evidence) map[string]string {
	d := map[string]string{
		"evidenceHash": ev.ContentHash,
		"type":         string(ev.Type),
		"role":         string(ev.Role),
		"signature":    ev.Signature,
	}
	if ev.Anchor != nil {
		d["anchor"] = ev.Anchor.Provider
	}
	return d
}

func checkVersion(record, id string, want, have int64) error {
	if want != 0 && want != have {
		return storage.VersionConflictError{Record: record, ID: id, Expected: want, Actual: have}
	}
	return nil
}
