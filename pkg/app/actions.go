package app

import (
	"context"
	"time"

	"github.com/papercomputeco/accord/pkg/agreement"
	"github.com/papercomputeco/accord/pkg/arbitration"
	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
)

// The methods below sign a protocol action with the actor's locally held
// current key and submit it. They are what the CLI calls; remote callers
// sign themselves and use the services directly.

// ProposeInput is an unsigned offer by a local agent.
type ProposeInput struct {
	Proposer      string
	Counterparty  string
	Arbiter       string
	Terms         string
	Deadline      *time.Time
	Value         string
	DisputeWindow time.Duration
}

// Propose signs the terms hash as the proposer and records the proposal.
func (a *App) Propose(ctx context.Context, in ProposeInput) (*pao.Proposal, error) {
	hash, err := agreement.TermsHash(in.Terms, in.Proposer, in.Counterparty, in.Deadline)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid terms")
	}
	sig, err := a.sign(ctx, in.Proposer, hash)
	if err != nil {
		return nil, err
	}
	return a.Agreements.Propose(ctx, agreement.ProposeRequest{
		Terms:         in.Terms,
		Proposer:      in.Proposer,
		Counterparty:  in.Counterparty,
		Arbiter:       in.Arbiter,
		Deadline:      in.Deadline,
		Value:         in.Value,
		DisputeWindow: in.DisputeWindow,
		Signature:     sig,
	})
}

// Accept signs the proposal's terms hash as actor and forms the agreement.
func (a *App) Accept(ctx context.Context, proposalID, actor string) (*pao.Agreement, error) {
	p, err := a.Agreements.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	sig, err := a.sign(ctx, actor, p.TermsHash)
	if err != nil {
		return nil, err
	}
	return a.Agreements.Accept(ctx, agreement.AcceptRequest{
		ProposalID: proposalID,
		Actor:      actor,
		Signature:  sig,
		IfVersion:  p.Version,
	})
}

// Reject signs and records a rejection of a pending proposal.
func (a *App) Reject(ctx context.Context, proposalID, actor, reason string) (*pao.Proposal, error) {
	p, err := a.Agreements.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	msg, err := agreement.RejectMessage(p, actor, reason)
	if err != nil {
		return nil, err
	}
	sig, err := a.sign(ctx, actor, msg)
	if err != nil {
		return nil, err
	}
	return a.Agreements.Reject(ctx, agreement.RejectRequest{
		ProposalID: proposalID,
		Actor:      actor,
		Reason:     reason,
		Signature:  sig,
		IfVersion:  p.Version,
	})
}

// Fulfill signs and records a fulfillment claim.
func (a *App) Fulfill(ctx context.Context, agreementID, actor, evidence, evidenceType string) (*pao.Agreement, error) {
	ag, err := a.Agreements.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	msg, err := arbitration.FulfillMessage(ag, actor, evidence)
	if err != nil {
		return nil, err
	}
	sig, err := a.sign(ctx, actor, msg)
	if err != nil {
		return nil, err
	}
	return a.Arbitration.Fulfill(ctx, arbitration.FulfillRequest{
		AgreementID:  agreementID,
		Actor:        actor,
		Evidence:     evidence,
		EvidenceType: evidenceType,
		Signature:    sig,
		IfVersion:    ag.Version,
	})
}

// Arbitrate signs and opens a dispute. Evidence may be empty.
func (a *App) Arbitrate(ctx context.Context, agreementID, actor string, reason pao.BreachReason, evidence, evidenceType string) (*pao.Case, error) {
	ag, err := a.Agreements.GetAgreement(ctx, agreementID)
	if err != nil {
		return nil, err
	}
	msg, err := arbitration.ArbitrateMessage(ag, actor, reason, evidence)
	if err != nil {
		return nil, err
	}
	sig, err := a.sign(ctx, actor, msg)
	if err != nil {
		return nil, err
	}
	return a.Arbitration.Arbitrate(ctx, arbitration.ArbitrateRequest{
		AgreementID:  agreementID,
		Actor:        actor,
		Reason:       reason,
		Evidence:     evidence,
		EvidenceType: evidenceType,
		Signature:    sig,
		IfVersion:    ag.Version,
	})
}

// Submit signs and adds evidence to a case.
func (a *App) Submit(ctx context.Context, caseID, actor, evidence, evidenceType string) (*pao.Case, error) {
	c, err := a.Arbitration.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	typ, err := pao.ParseEvidenceType(evidenceType)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, "invalid evidence")
	}
	msg, err := arbitration.SubmitMessage(c, actor, evidence, typ)
	if err != nil {
		return nil, err
	}
	sig, err := a.sign(ctx, actor, msg)
	if err != nil {
		return nil, err
	}
	return a.Arbitration.Submit(ctx, arbitration.SubmitRequest{
		CaseID:       caseID,
		Actor:        actor,
		Evidence:     evidence,
		EvidenceType: evidenceType,
		Signature:    sig,
		IfVersion:    c.Version,
	})
}

// Rule signs and issues the arbiter's ruling.
func (a *App) Rule(ctx context.Context, caseID, actor string, decision pao.Decision, reasoning string) (*pao.Case, error) {
	c, err := a.Arbitration.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	msg, err := arbitration.RulingMessage(c, actor, decision, reasoning)
	if err != nil {
		return nil, err
	}
	sig, err := a.sign(ctx, actor, msg)
	if err != nil {
		return nil, err
	}
	return a.Arbitration.Ruling(ctx, arbitration.RulingRequest{
		CaseID:    caseID,
		Actor:     actor,
		Decision:  decision,
		Reasoning: reasoning,
		Signature: sig,
		IfVersion: c.Version,
	})
}

func (a *App) sign(ctx context.Context, actor, message string) (string, error) {
	if actor == "" {
		return "", errs.Validation("no acting identity; pass --as or set agent.did")
	}
	sig, err := a.Identity.Sign(ctx, actor, message)
	if err != nil {
		return "", err
	}
	return sig.String(), nil
}
