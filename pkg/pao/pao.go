// Package pao defines Programmable Agreement Objects: proposals, the
// agreements they become, arbitration cases, evidence, rulings, and the
// append-only event journal that records every transition.
package pao

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/accord/pkg/canonical"
)

// ProposalStatus is the lifecycle state of a proposal.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalAccepted ProposalStatus = "accepted"
	ProposalRejected ProposalStatus = "rejected"
	ProposalExpired  ProposalStatus = "expired"
)

// AgreementState is the lifecycle state of an agreement.
type AgreementState string

const (
	StateAccepted  AgreementState = "accepted"
	StateFulfilled AgreementState = "fulfilled"
	StateDisputed  AgreementState = "disputed"
	StateRuled     AgreementState = "ruled"
)

// CaseStatus is the lifecycle state of an arbitration case.
type CaseStatus string

const (
	CaseEvidenceCollection CaseStatus = "evidence_collection"
	CaseRuled              CaseStatus = "ruled"
)

// BreachReason is why a party opened arbitration.
type BreachReason string

const (
	ReasonNonDelivery     BreachReason = "non_delivery"
	ReasonPartialDelivery BreachReason = "partial_delivery"
	ReasonQuality         BreachReason = "quality"
	ReasonDeadlineBreach  BreachReason = "deadline_breach"
	ReasonRepudiation     BreachReason = "repudiation"
	ReasonOther           BreachReason = "other"
)

// BreachReasons lists every valid reason.
var BreachReasons = []BreachReason{
	ReasonNonDelivery, ReasonPartialDelivery, ReasonQuality,
	ReasonDeadlineBreach, ReasonRepudiation, ReasonOther,
}

// Describe returns a human readable description of the reason.
func (r BreachReason) Describe() string {
	switch r {
	case ReasonNonDelivery:
		return "Counterparty did not deliver as agreed"
	case ReasonPartialDelivery:
		return "Delivery was incomplete or partial"
	case ReasonQuality:
		return "Delivery did not meet quality specifications"
	case ReasonDeadlineBreach:
		return "Delivery deadline was missed"
	case ReasonRepudiation:
		return "Counterparty denies the agreement exists"
	default:
		return "Other breach of agreement"
	}
}

// Valid reports whether r is a known reason.
func (r BreachReason) Valid() bool {
	return slices.Contains(BreachReasons, r)
}

// Decision is the outcome of a ruling.
type Decision string

const (
	DecisionClaimant   Decision = "claimant"
	DecisionRespondent Decision = "respondent"
	DecisionSplit      Decision = "split"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionClaimant || d == DecisionRespondent || d == DecisionSplit
}

// EvidenceType classifies a piece of evidence.
type EvidenceType string

const (
	EvidenceDocument   EvidenceType = "document"
	EvidenceScreenshot EvidenceType = "screenshot"
	EvidenceWitness    EvidenceType = "witness"
)

// ParseEvidenceType validates an evidence type. The empty string means document.
func ParseEvidenceType(s string) (EvidenceType, error) {
	switch t := EvidenceType(strings.TrimSpace(s)); t {
	case "":
		return EvidenceDocument, nil
	case EvidenceDocument, EvidenceScreenshot, EvidenceWitness:
		return t, nil
	default:
		return "", fmt.Errorf("unknown evidence type %q", s)
	}
}

// Role is the part an actor plays in a case.
type Role string

const (
	RoleClaimant   Role = "claimant"
	RoleRespondent Role = "respondent"
	RoleArbiter    Role = "arbiter"
	RoleParty      Role = "party"
)

// Proposal is an offer from one agent to another, naming an arbiter.
type Proposal struct {
	ID           string `json:"id"`
	Proposer     string `json:"proposer"`
	Counterparty string `json:"counterparty"`
	Arbiter      string `json:"arbiter"`
	Terms        string `json:"terms"`
	TermsHash    string `json:"termsHash"`

	Deadline *time.Time `json:"deadline,omitempty"`
	Value    string     `json:"value,omitempty"`

	// DisputeWindow bounds how long after fulfillment a party may still
	// open arbitration. Zero means no limit.
	DisputeWindow time.Duration `json:"disputeWindow,omitempty"`

	// ExpiresAt is when a pending proposal lapses.
	ExpiresAt time.Time `json:"expiresAt"`

	ProposerSignature string         `json:"proposerSignature"`
	Status            ProposalStatus `json:"status"`
	RejectedBy        string         `json:"rejectedBy,omitempty"`
	RejectionReason   string         `json:"rejectionReason,omitempty"`
	AgreementID       string         `json:"agreementId,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Expired reports whether a pending proposal has lapsed at now.
func (p *Proposal) Expired(now time.Time) bool {
	return p.Status == ProposalPending && !now.Before(p.ExpiresAt)
}

// DedupKey identifies proposals that would race into duplicate agreements.
func (p *Proposal) DedupKey() string {
	return p.Proposer + "|" + p.Counterparty + "|" + p.TermsHash
}

// Agreement is an accepted proposal signed by both parties.
type Agreement struct {
	ID         string   `json:"id"`
	ProposalID string   `json:"proposalId"`
	TermsHash  string   `json:"termsHash"`
	Terms      string   `json:"terms"`
	Parties    []string `json:"parties"`
	Arbiter    string   `json:"arbiter"`

	Deadline      *time.Time    `json:"deadline,omitempty"`
	Value         string        `json:"value,omitempty"`
	DisputeWindow time.Duration `json:"disputeWindow,omitempty"`

	// Signatures maps each party to its envelope over TermsHash.
	Signatures map[string]string `json:"signatures"`

	State       AgreementState `json:"state"`
	Fulfillment *Fulfillment   `json:"fulfillment,omitempty"`
	CaseID      string         `json:"caseId,omitempty"`
	RulingID    string         `json:"rulingId,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsParty reports whether actor is one of the two parties.
func (a *Agreement) IsParty(actor string) bool {
	return slices.Contains(a.Parties, actor)
}

// Other returns the party that is not actor.
func (a *Agreement) Other(actor string) string {
	for _, p := range a.Parties {
		if p != actor {
			return p
		}
	}
	return ""
}

// Fulfillment is a unilateral claim of completion.
type Fulfillment struct {
	By       string    `json:"by"`
	At       time.Time `json:"at"`
	Evidence Evidence  `json:"evidence"`
}

// Evidence is one submission to an agreement or case. The content hash is
// what gets signed and anchored; the arbiter judges the content itself.
type Evidence struct {
	Submitter   string        `json:"submitter"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	ContentHash string        `json:"contentHash"`
	Type        EvidenceType  `json:"type"`
	SubmittedAt time.Time     `json:"submittedAt"`
	Signature   string        `json:"signature"`
	Anchor      *AnchorRecord `json:"anchor,omitempty"`
}

// AnchorRecord is the receipt an external witness returned for an evidence hash.
type AnchorRecord struct {
	Provider string    `json:"provider"`
	Receipt  string    `json:"receipt"`
	At       time.Time `json:"at"`
}

// Case is an arbitration case over a disputed agreement.
type Case struct {
	ID          string       `json:"id"`
	AgreementID string       `json:"agreementId"`
	TermsHash   string       `json:"termsHash"`
	Claimant    string       `json:"claimant"`
	Respondent  string       `json:"respondent"`
	Arbiter     string       `json:"arbiter"`
	Reason      BreachReason `json:"reason"`
	Evidence    []Evidence   `json:"evidence"`
	Status      CaseStatus   `json:"status"`

	// EvidenceDeadline closes submissions by the parties. The arbiter may
	// still add evidence until the ruling.
	EvidenceDeadline time.Time `json:"evidenceDeadline"`
	Ruling           *Ruling   `json:"ruling,omitempty"`

	Version   int64     `json:"version"`
	OpenedAt  time.Time `json:"openedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RoleOf returns the role actor plays in the case, or "".
func (c *Case) RoleOf(actor string) Role {
	switch actor {
	case c.Claimant:
		return RoleClaimant
	case c.Respondent:
		return RoleRespondent
	case c.Arbiter:
		return RoleArbiter
	default:
		return ""
	}
}

// EvidenceCount counts submissions per role.
func (c *Case) EvidenceCount() map[Role]int {
	out := map[Role]int{}
	for _, e := range c.Evidence {
		out[e.Role]++
	}
	return out
}

// Ruling is the arbiter's terminal decision.
type Ruling struct {
	ID                 string       `json:"id"`
	CaseID             string       `json:"caseId"`
	Arbiter            string       `json:"arbiter"`
	Decision           Decision     `json:"decision"`
	Reasoning          string       `json:"reasoning"`
	ReasoningHash      string       `json:"reasoningHash"`
	Signature          string       `json:"signature"`
	EvidenceConsidered map[Role]int `json:"evidenceConsidered"`
	IssuedAt           time.Time    `json:"issuedAt"`
}

// NormalizeTerms trims, lowercases, and collapses whitespace.
func NormalizeTerms(terms string) string {
	return strings.Join(strings.Fields(strings.ToLower(terms)), " ")
}

// TermsHash commits to the normalized terms, the sorted parties, and the
// deadline.
func TermsHash(terms string, parties []string, deadline *time.Time) (string, error) {
	sorted := slices.Clone(parties)
	slices.Sort(sorted)

	var dl *string
	if deadline != nil {
		s := deadline.UTC().Format(time.RFC3339)
		dl = &s
	}

	return canonical.Hash(struct {
		Terms    string   `json:"terms"`
		Parties  []string `json:"parties"`
		Deadline *string  `json:"deadline"`
	}{
		Terms:    NormalizeTerms(terms),
		Parties:  sorted,
		Deadline: dl,
	})
}

// Action names a signed party action.
type Action string

const (
	ActionReject    Action = "reject"
	ActionFulfill   Action = "fulfill"
	ActionArbitrate Action = "arbitrate"
	ActionSubmit    Action = "submit"
	ActionRuling    Action = "ruling"
)

// ActionDigest is the message a party signs to authorize an action on a
// subject. Fields bind the action's inputs, such as an evidence hash.
func ActionDigest(action Action, subject, actor string, fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	return canonical.Hash(struct {
		Action  Action            `json:"action"`
		Subject string            `json:"subject"`
		Actor   string            `json:"actor"`
		Fields  map[string]string `json:"fields"`
	}{action, subject, actor, fields})
}

// ID prefixes.
const (
	PrefixProposal  = "prop"
	PrefixAgreement = "agr"
	PrefixCase      = "arb"
	PrefixRuling    = "rul"
)

// NewID returns a time-ordered id with the given prefix.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return prefix + "_" + strings.ReplaceAll(id.String(), "-", "")
}
