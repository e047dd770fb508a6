// Package timeline reconstructs the audit log of an agreement: every
// journaled transition of its proposal, the agreement itself, and its
// arbitration case, in a deterministic order.
package timeline

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/papercomputeco/accord/pkg/errs"
	"github.com/papercomputeco/accord/pkg/pao"
)

// Reader is the read side of an agreement store.
type Reader interface {
	GetProposal(ctx context.Context, id string) (*pao.Proposal, error)
	GetAgreement(ctx context.Context, id string) (*pao.Agreement, error)
	GetCase(ctx context.Context, id string) (*pao.Case, error)
	Events(ctx context.Context, subjects ...string) ([]pao.Event, error)
}

// Entry is one numbered line of a timeline.
type Entry struct {
	N         int               `json:"n"`
	Seq       int64             `json:"seq"`
	At        time.Time         `json:"at"`
	Kind      pao.EventKind     `json:"kind"`
	Actor     string            `json:"actor"`
	Summary   string            `json:"summary"`
	Signature string            `json:"signature,omitempty"`
	Detail    map[string]string `json:"detail,omitempty"`
}

// Timeline is the read-only history of one agreement.
type Timeline struct {
	ProposalID  string `json:"proposalId"`
	AgreementID string `json:"agreementId,omitempty"`
	CaseID      string `json:"caseId,omitempty"`

	Terms     string   `json:"terms"`
	TermsHash string   `json:"termsHash"`
	Parties   []string `json:"parties"`
	Arbiter   string   `json:"arbiter"`

	// State is the agreement state, or the proposal status when no
	// agreement was formed.
	State      string            `json:"state"`
	Signatures map[string]string `json:"signatures,omitempty"`
	Ruling     *pao.Ruling       `json:"ruling,omitempty"`

	Entries []Entry `json:"entries"`
}

// Option configures Build.
type Option func(*builder)

type builder struct {
	now func() time.Time
}

// WithClock sets the clock used to judge proposal expiry. A nil clock
// keeps time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *builder) {
		if now != nil {
			b.now = now
		}
	}
}

// Build assembles the timeline of id, which names an agreement or the
// proposal it came from. Events are ordered by timestamp, ties broken by the
// store's sequence number. A pending proposal past its expiry reads as
// expired even before the expiry is journaled.
func Build(ctx context.Context, r Reader, id string, opts ...Option) (*Timeline, error) {
	b := &builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}

	t, lapsed, err := b.header(ctx, r, id)
	if err != nil {
		return nil, err
	}

	subjects := []string{t.ProposalID}
	if t.AgreementID != "" {
		subjects = append(subjects, t.AgreementID)
	}
	if t.CaseID != "" {
		subjects = append(subjects, t.CaseID)
	}

	events, err := r.Events(ctx, subjects...)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	slices.SortStableFunc(events, func(a, b pao.Event) int {
		if c := a.At.Compare(b.At); c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})
	if lapsed != nil {
		events = append(events, pao.Event{
			Subject: lapsed.ID,
			Kind:    pao.EventExpired,
			Actor:   "system",
			At:      lapsed.ExpiresAt,
		})
	}

	t.Entries = make([]Entry, 0, len(events))
	for i, ev := range events {
		t.Entries = append(t.Entries, Entry{
			N:         i + 1,
			Seq:       ev.Seq,
			At:        ev.At,
			Kind:      ev.Kind,
			Actor:     ev.Actor,
			Summary:   summarize(ev),
			Signature: ev.Detail["signature"],
			Detail:    ev.Detail,
		})
	}
	return t, nil
}

// header reads the agreement or proposal behind id. lapsed is set when id
// names a pending proposal past its expiry.
func (b *builder) header(ctx context.Context, r Reader, id string) (t *Timeline, lapsed *pao.Proposal, err error) {
	a, err := r.GetAgreement(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		p, perr := r.GetProposal(ctx, id)
		if perr != nil {
			return nil, nil, err
		}
		if p.AgreementID == "" {
			pt := &Timeline{
				ProposalID: p.ID,
				Terms:      p.Terms,
				TermsHash:  p.TermsHash,
				Parties:    []string{p.Proposer, p.Counterparty},
				Arbiter:    p.Arbiter,
				State:      string(p.Status),
				Signatures: map[string]string{p.Proposer: p.ProposerSignature},
			}
			if p.Expired(b.now()) {
				pt.State = string(pao.ProposalExpired)
				lapsed = p
			}
			return pt, lapsed, nil
		}
		a, err = r.GetAgreement(ctx, p.AgreementID)
	}
	if err != nil {
		return nil, nil, err
	}

	t = &Timeline{
		ProposalID:  a.ProposalID,
		AgreementID: a.ID,
		CaseID:      a.CaseID,
		Terms:       a.Terms,
		TermsHash:   a.TermsHash,
		Parties:     a.Parties,
		Arbiter:     a.Arbiter,
		State:       string(a.State),
		Signatures:  a.Signatures,
	}
	if a.CaseID != "" {
		c, err := r.GetCase(ctx, a.CaseID)
		if err != nil {
			return nil, nil, err
		}
		t.Ruling = c.Ruling
	}
	return t, nil, nil
}

func summarize(ev pao.Event) string {
	d := ev.Detail
	switch ev.Kind {
	case pao.EventProposed:
		return fmt.Sprintf("proposed terms %s to %s, arbiter %s", short(d["termsHash"]), d["counterparty"], d["arbiter"])
	case pao.EventAccepted:
		return fmt.Sprintf("accepted; agreement %s formed", d["agreementId"])
	case pao.EventRejected:
		if d["reason"] == "" {
			return "rejected the proposal"
		}
		return "rejected the proposal: " + d["reason"]
	case pao.EventExpired:
		return "proposal expired unanswered"
	case pao.EventFulfilled:
		return fmt.Sprintf("claimed fulfillment with %s evidence %s", d["type"], short(d["evidenceHash"]))
	case pao.EventDisputeOpened:
		reason := pao.BreachReason(d["reason"])
		return fmt.Sprintf("opened case %s (%s): %s", d["caseId"], reason, reason.Describe())
	case pao.EventEvidenceSubmitted:
		return fmt.Sprintf("submitted %s evidence %s as %s", d["type"], short(d["evidenceHash"]), d["role"])
	case pao.EventRulingIssued:
		return fmt.Sprintf("ruled for %s (reasoning %s)", d["decision"], short(d["reasoningHash"]))
	default:
		return string(ev.Kind)
	}
}

// short abbreviates a "sha256:<hex>" hash for display.
func short(hash string) string {
	if len(hash) > 19 {
		return hash[:19]
	}
	return hash
}
